package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	defaultListenAddr    = "0.0.0.0"
	defaultPort          = 5000
	defaultContamination = 0.01
	defaultMinSamples    = 20
	defaultRandomSeed    = int64(42)
	defaultNumTrees      = 100
	defaultMaxSamples    = 256
	defaultInterval      = "1h"
	defaultLowBattery    = 20.0
	defaultRegion        = "us-east-1"
)

// YAMLProvider implements ConfigProvider for YAML configuration files. An
// empty filename yields the built-in defaults, so binaries can run without a
// config file.
type YAMLProvider struct {
	filename string
	getenv   func(string) string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
		getenv:   os.Getenv,
	}
}

// LoadConfig reads the file, expands ${VAR} references, applies defaults and
// validates the result
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{}

	if y.filename != "" {
		cfgFile, err := os.ReadFile(y.filename)
		if err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", y.filename, err)
		}

		expanded := os.Expand(string(cfgFile), y.getenv)
		if err := yaml.UnmarshalStrict([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("could not parse config file %s: %w", y.filename, err)
		}
	}

	y.applyEnvironment(config)
	applyDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	y.config = config
	return config, nil
}

// applyEnvironment honours the DB_* and ADMIN_PASSWORD variables used by
// cloud deployments. Explicit file settings win.
func (y *YAMLProvider) applyEnvironment(c *ConfigData) {
	if host := y.getenv("DB_HOST"); host != "" && c.Storage.Backend == "" {
		c.Storage.Backend = BackendPostgres
		if c.Storage.Postgres.ConnectionString == "" {
			parts := []string{"host=" + host}
			for _, kv := range [][2]string{
				{"port", "DB_PORT"},
				{"dbname", "DB_NAME"},
				{"user", "DB_USER"},
				{"password", "DB_PASSWORD"},
			} {
				if v := y.getenv(kv[1]); v != "" {
					parts = append(parts, kv[0]+"="+v)
				}
			}
			c.Storage.Postgres.ConnectionString = strings.Join(parts, " ")
		}
	}

	if c.Server.AdminToken == "" {
		c.Server.AdminToken = y.getenv("ADMIN_PASSWORD")
	}

	if c.Storage.DynamoDB.Region == "" {
		c.Storage.DynamoDB.Region = y.getenv("AWS_REGION")
	}
}

func applyDefaults(c *ConfigData) {
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendSQLite
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = DefaultSQLitePath
	}
	d := &c.Storage.DynamoDB
	if d.Region == "" {
		d.Region = defaultRegion
	}
	if d.ReadingsTable == "" {
		d.ReadingsTable = "sinkbot_displacement"
	}
	if d.ModelsTable == "" {
		d.ModelsTable = "sinkbot_ai_models"
	}
	if d.ProfilesTable == "" {
		d.ProfilesTable = "sinkbot_threshold_profiles"
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}

	t := &c.Trainer
	if t.Contamination == 0 {
		t.Contamination = defaultContamination
	}
	if t.MinSamples == 0 {
		t.MinSamples = defaultMinSamples
	}
	if t.RandomSeed == nil {
		seed := defaultRandomSeed
		t.RandomSeed = &seed
	}
	if t.NumTrees == 0 {
		t.NumTrees = defaultNumTrees
	}
	if t.MaxSamples == 0 {
		t.MaxSamples = defaultMaxSamples
	}
	if t.Interval == "" {
		t.Interval = defaultInterval
	}

	if c.Alerting.LowBatteryPercent == nil {
		limit := defaultLowBattery
		c.Alerting.LowBatteryPercent = &limit
	}
	if c.Alerting.DefaultThresholds == (ThresholdsData{}) {
		c.Alerting.DefaultThresholds = ThresholdsData{Tier1: 0.010, Tier2: 0.030, Tier3: 0.050}
	}
}

func (y *YAMLProvider) loaded() (*ConfigData, error) {
	if y.config == nil {
		return y.LoadConfig()
	}
	return y.config, nil
}

// GetStorageConfig returns storage configuration
func (y *YAMLProvider) GetStorageConfig() (*StorageData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Storage, nil
}

// GetServerConfig returns the HTTP server configuration
func (y *YAMLProvider) GetServerConfig() (*ServerData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Server, nil
}

// GetTrainerConfig returns the training configuration
func (y *YAMLProvider) GetTrainerConfig() (*TrainerData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Trainer, nil
}

// GetAlertingConfig returns alerting defaults
func (y *YAMLProvider) GetAlertingConfig() (*AlertingData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Alerting, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}
