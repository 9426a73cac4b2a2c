// Package postgres is the PostgreSQL repository backend, built on GORM.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/repository"
	"github.com/sinkbot-iot/sinkbot/internal/thresholds"
	"github.com/sinkbot-iot/sinkbot/internal/types"
	"github.com/sinkbot-iot/sinkbot/pkg/migrate"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ repository.Repository = (*Storage)(nil)

// Storage holds the PostgreSQL connection
type Storage struct {
	DB     *gorm.DB
	logger *zap.SugaredLogger
}

type profileRow struct {
	DeviceID  string    `gorm:"column:device_id;primaryKey"`
	Tier1     float64   `gorm:"column:tier1"`
	Tier2     float64   `gorm:"column:tier2"`
	Tier3     float64   `gorm:"column:tier3"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (profileRow) TableName() string {
	return "threshold_profiles"
}

// New connects to PostgreSQL and creates the schema if needed
func New(ctx context.Context, connectionString string, log *zap.SugaredLogger) (*Storage, error) {
	dbLogger := logger.New(
		zap.NewStdLog(log.Desugar()),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Info("connecting to PostgreSQL...")
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, repository.Wrap("connect", err)
	}

	s := &Storage{DB: db, logger: log}
	if err := s.createSchema(ctx); err != nil {
		return nil, err
	}
	log.Info("PostgreSQL connection successful")

	return s, nil
}

func (s *Storage) createSchema(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return repository.Wrap("create schema", err)
	}

	provider := migrate.NewFSProvider(migrationsFS, "migrations", "schema_migrations", migrate.DriverPostgres)
	if err := migrate.NewMigrator(sqlDB, provider, s.logger).MigrateUp(ctx); err != nil {
		s.logger.Warnf("could not create schema: %v", err)
		return repository.Wrap("create schema", err)
	}
	return nil
}

// AppendReading inserts r; PostgreSQL assigns the id
func (s *Storage) AppendReading(ctx context.Context, r *types.Reading) error {
	return repository.Wrap("append reading", s.DB.WithContext(ctx).Create(r).Error)
}

// QueryReadings returns readings ordered by device, time and id
func (s *Storage) QueryReadings(ctx context.Context, deviceID string) ([]types.Reading, error) {
	var out []types.Reading

	q := s.DB.WithContext(ctx).
		Select(readingColumns).
		Where(completeReading).
		Order("device_id, timestamp, id")
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, repository.Wrap("query readings", err)
	}
	return out, nil
}

// CountReadings counts the rows QueryReadings would return for every device
func (s *Storage) CountReadings(ctx context.Context) (int, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&types.Reading{}).Where(completeReading).Count(&n).Error; err != nil {
		return 0, repository.Wrap("count readings", err)
	}
	return int(n), nil
}

// Devices lists device ids with readings
func (s *Storage) Devices(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&types.Reading{}).Where("device_id IS NOT NULL").Distinct("device_id").Order("device_id").Pluck("device_id", &ids).Error
	if err != nil {
		return nil, repository.Wrap("list devices", err)
	}
	return ids, nil
}

// LatestModel loads the primary model, or nil if none has been trained
func (s *Storage) LatestModel(ctx context.Context) (*types.AnomalyModel, error) {
	var m types.AnomalyModel
	err := s.DB.WithContext(ctx).Where("model_name = ?", types.PrimaryModelName).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, repository.Wrap("load model", err)
	}
	return &m, nil
}

// PutModel upserts the model slot in a single statement
func (s *Storage) PutModel(ctx context.Context, m *types.AnomalyModel) error {
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"model_data", "created_at", "sample_count"}),
	}).Create(m).Error
	return repository.Wrap("store model", err)
}

// Clear deletes readings in scope and the model in one transaction
func (s *Storage) Clear(ctx context.Context, deviceID string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if deviceID == "" {
			err = tx.Exec(deleteAllReadingsSQL).Error
		} else {
			err = tx.Exec(deleteDeviceReadingsSQL, deviceID).Error
		}
		if err != nil {
			return err
		}
		return tx.Exec(deleteModelsSQL).Error
	})
	return repository.Wrap("clear", err)
}

// GetProfile loads a device's threshold profile
func (s *Storage) GetProfile(ctx context.Context, deviceID string) (thresholds.Profile, bool, error) {
	var row profileRow
	err := s.DB.WithContext(ctx).Where("device_id = ?", deviceID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return thresholds.Profile{}, false, nil
	}
	if err != nil {
		return thresholds.Profile{}, false, repository.Wrap("load threshold profile", err)
	}
	return thresholds.Profile{DeviceID: row.DeviceID, Tier1: row.Tier1, Tier2: row.Tier2, Tier3: row.Tier3}, true, nil
}

// PutProfile upserts a device's threshold profile
func (s *Storage) PutProfile(ctx context.Context, p thresholds.Profile) error {
	row := profileRow{DeviceID: p.DeviceID, Tier1: p.Tier1, Tier2: p.Tier2, Tier3: p.Tier3, UpdatedAt: time.Now().UTC()}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	return repository.Wrap("store threshold profile", err)
}

// Close releases the connection pool
func (s *Storage) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
