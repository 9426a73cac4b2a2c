package config

import (
	"fmt"
	"math"
	"time"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetStorageConfig() (*StorageData, error)
	GetServerConfig() (*ServerData, error)
	GetTrainerConfig() (*TrainerData, error)
	GetAlertingConfig() (*AlertingData, error)

	IsReadOnly() bool
	Close() error
}

// Storage backends
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// DefaultSQLitePath is where the embedded database lives when nothing else is configured
const DefaultSQLitePath = "sinkbot_data.db"

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Storage  StorageData  `yaml:"storage"`
	Server   ServerData   `yaml:"server"`
	Trainer  TrainerData  `yaml:"trainer"`
	Alerting AlertingData `yaml:"alerting"`
}

// StorageData selects and configures the repository backend
type StorageData struct {
	Backend  string       `yaml:"backend,omitempty"`
	SQLite   SQLiteData   `yaml:"sqlite,omitempty"`
	Postgres PostgresData `yaml:"postgres,omitempty"`
	DynamoDB DynamoDBData `yaml:"dynamodb,omitempty"`
}

type SQLiteData struct {
	Path string `yaml:"path,omitempty"`
}

type PostgresData struct {
	ConnectionString string `yaml:"connection_string,omitempty"`
}

type DynamoDBData struct {
	Region        string `yaml:"region,omitempty"`
	Endpoint      string `yaml:"endpoint,omitempty"`
	ReadingsTable string `yaml:"readings_table,omitempty"`
	ModelsTable   string `yaml:"models_table,omitempty"`
	ProfilesTable string `yaml:"profiles_table,omitempty"`
}

// ServerData configures the HTTP API
type ServerData struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	Cert       string `yaml:"cert,omitempty"`
	Key        string `yaml:"key,omitempty"`
	AdminToken string `yaml:"admin_token,omitempty"`
}

// TrainerData configures model fitting and the retraining schedule
type TrainerData struct {
	Contamination float64 `yaml:"contamination,omitempty"`
	MinSamples    int     `yaml:"min_samples,omitempty"`
	RandomSeed    *int64  `yaml:"random_seed,omitempty"`
	NumTrees      int     `yaml:"num_trees,omitempty"`
	MaxSamples    int     `yaml:"max_samples,omitempty"`
	Interval      string  `yaml:"interval,omitempty"`
}

// TrainingInterval parses Interval
func (t TrainerData) TrainingInterval() (time.Duration, error) {
	d, err := time.ParseDuration(t.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid trainer interval %q: %w", t.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("trainer interval must be positive, got %s", d)
	}
	return d, nil
}

// Seed returns the configured random seed
func (t TrainerData) Seed() int64 {
	if t.RandomSeed == nil {
		return defaultRandomSeed
	}
	return *t.RandomSeed
}

// AlertingData holds fleet-wide alert settings. A low_battery_percent of 0
// turns the low-battery alert off.
type AlertingData struct {
	LowBatteryPercent *float64       `yaml:"low_battery_percent,omitempty"`
	DefaultThresholds ThresholdsData `yaml:"default_thresholds,omitempty"`
}

// BatteryLimit returns the configured low-battery threshold in percent
func (a AlertingData) BatteryLimit() float64 {
	if a.LowBatteryPercent == nil {
		return defaultLowBattery
	}
	return *a.LowBatteryPercent
}

// ThresholdsData is the profile applied to devices without their own
type ThresholdsData struct {
	Tier1 float64 `yaml:"tier1"`
	Tier2 float64 `yaml:"tier2"`
	Tier3 float64 `yaml:"tier3"`
}

// Validate checks a fully defaulted configuration
func (c *ConfigData) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set")
		}
	case BackendPostgres:
		if c.Storage.Postgres.ConnectionString == "" {
			return fmt.Errorf("storage.postgres.connection_string must be set")
		}
	case BackendDynamoDB:
		if c.Storage.DynamoDB.Region == "" {
			return fmt.Errorf("storage.dynamodb.region must be set")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if (c.Server.Cert == "") != (c.Server.Key == "") {
		return fmt.Errorf("server.cert and server.key must be set together")
	}

	if c.Trainer.Contamination <= 0 || c.Trainer.Contamination > 0.5 {
		return fmt.Errorf("trainer.contamination must be in (0, 0.5], got %v", c.Trainer.Contamination)
	}
	if c.Trainer.MinSamples < 2 {
		return fmt.Errorf("trainer.min_samples must be at least 2, got %d", c.Trainer.MinSamples)
	}
	if c.Trainer.NumTrees < 1 || c.Trainer.MaxSamples < 2 {
		return fmt.Errorf("trainer needs at least one tree of two samples")
	}
	if _, err := c.Trainer.TrainingInterval(); err != nil {
		return err
	}

	a := c.Alerting
	if limit := a.BatteryLimit(); limit < 0 || limit > 100 || math.IsNaN(limit) {
		return fmt.Errorf("alerting.low_battery_percent must be within 0..100")
	}
	t := a.DefaultThresholds
	if !(t.Tier1 >= 0 && t.Tier1 < t.Tier2 && t.Tier2 < t.Tier3) {
		return fmt.Errorf("alerting.default_thresholds must satisfy 0 <= tier1 < tier2 < tier3")
	}

	return nil
}
