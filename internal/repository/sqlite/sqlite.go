// Package sqlite is the embedded SQLite repository backend.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/repository"
	"github.com/sinkbot-iot/sinkbot/internal/thresholds"
	"github.com/sinkbot-iot/sinkbot/internal/types"
	"github.com/sinkbot-iot/sinkbot/pkg/migrate"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that text ordering matches time ordering
const timeLayout = "2006-01-02 15:04:05.000000000"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// completeReading excludes legacy rows written without every measurement
const completeReading = `device_id IS NOT NULL AND x IS NOT NULL AND y IS NOT NULL AND z IS NOT NULL AND tilt_x IS NOT NULL AND tilt_y IS NOT NULL`

// legacyLayouts are accepted when reading databases written by older collectors
var legacyLayouts = []string{"2006-01-02 15:04:05.999999", "2006-01-02 15:04:05", time.RFC3339Nano}

var _ repository.Repository = (*Storage)(nil)

// Storage holds the SQLite database handle
type Storage struct {
	db     *sql.DB
	dbPath string
	logger *zap.SugaredLogger
}

// New opens (creating if necessary) the database at dbPath
func New(ctx context.Context, dbPath string, logger *zap.SugaredLogger) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, repository.Wrap("open", fmt.Errorf("failed to open SQLite database: %w", err))
	}
	// a single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, repository.Wrap("open", fmt.Errorf("failed to ping SQLite database: %w", err))
	}

	provider := migrate.NewFSProvider(migrationsFS, "migrations", "schema_migrations", migrate.DriverSQLite)
	if err := migrate.NewMigrator(db, provider, logger).MigrateUp(ctx); err != nil {
		db.Close()
		return nil, repository.Wrap("create schema", err)
	}

	logger.Infof("using SQLite database %s", dbPath)
	return &Storage{db: db, dbPath: dbPath, logger: logger}, nil
}

// AppendReading inserts r and records the assigned id
func (s *Storage) AppendReading(ctx context.Context, r *types.Reading) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO displacement (device_id, timestamp, x, y, z, tilt_x, tilt_y, battery) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DeviceID, formatTime(r.Timestamp), r.X, r.Y, r.Z, r.TiltX, r.TiltY, r.Battery)
	if err != nil {
		return repository.Wrap("append reading", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return repository.Wrap("append reading", err)
	}
	r.ID = id
	return nil
}

// QueryReadings returns readings ordered by device, time and id
func (s *Storage) QueryReadings(ctx context.Context, deviceID string) ([]types.Reading, error) {
	query := `SELECT id, device_id, timestamp, x, y, z, tilt_x, tilt_y, battery FROM displacement`
	var args []any
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY device_id, timestamp, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, repository.Wrap("query readings", err)
	}
	defer rows.Close()

	var out []types.Reading
	skipped := 0
	for rows.Next() {
		var r types.Reading
		var ts string
		var device sql.NullString
		var x, y, z, tiltX, tiltY, battery sql.NullFloat64
		if err := rows.Scan(&r.ID, &device, &ts, &x, &y, &z, &tiltX, &tiltY, &battery); err != nil {
			return nil, repository.Wrap("query readings", fmt.Errorf("failed to scan reading row: %w", err))
		}

		// older collectors stored NULL for fields an agent left out
		if !device.Valid || !x.Valid || !y.Valid || !z.Valid || !tiltX.Valid || !tiltY.Valid {
			skipped++
			continue
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, repository.Wrap("query readings", err)
		}

		r.DeviceID = device.String
		r.X, r.Y, r.Z = x.Float64, y.Float64, z.Float64
		r.TiltX, r.TiltY = tiltX.Float64, tiltY.Float64
		r.Battery = types.DefaultBattery
		if battery.Valid {
			r.Battery = battery.Float64
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, repository.Wrap("query readings", err)
	}

	if skipped > 0 {
		s.logger.Warnf("skipped %d incomplete reading rows", skipped)
	}
	return out, nil
}

// CountReadings counts the rows QueryReadings would return for every device
func (s *Storage) CountReadings(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM displacement WHERE `+completeReading).Scan(&n)
	if err != nil {
		return 0, repository.Wrap("count readings", err)
	}
	return n, nil
}

// Devices lists device ids with readings
func (s *Storage) Devices(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT device_id FROM displacement WHERE device_id IS NOT NULL ORDER BY device_id`)
	if err != nil {
		return nil, repository.Wrap("list devices", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, repository.Wrap("list devices", err)
		}
		ids = append(ids, id)
	}
	return ids, repository.Wrap("list devices", rows.Err())
}

// LatestModel loads the primary model, or nil if none has been trained
func (s *Storage) LatestModel(ctx context.Context) (*types.AnomalyModel, error) {
	var m types.AnomalyModel
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT model_name, model_data, created_at, sample_count FROM ai_models WHERE model_name = ?`,
		types.PrimaryModelName).Scan(&m.Name, &m.Data, &createdAt, &m.SampleCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, repository.Wrap("load model", err)
	}

	if m.TrainedAt, err = parseTime(createdAt); err != nil {
		return nil, repository.Wrap("load model", err)
	}
	return &m, nil
}

// PutModel upserts the model slot in a single statement
func (s *Storage) PutModel(ctx context.Context, m *types.AnomalyModel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_models (model_name, model_data, created_at, sample_count) VALUES (?, ?, ?, ?)
		ON CONFLICT (model_name) DO UPDATE SET
			model_data = excluded.model_data,
			created_at = excluded.created_at,
			sample_count = excluded.sample_count`,
		m.Name, m.Data, formatTime(m.TrainedAt), m.SampleCount)
	return repository.Wrap("store model", err)
}

// Clear deletes readings in scope and the model in one transaction
func (s *Storage) Clear(ctx context.Context, deviceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.Wrap("clear", err)
	}
	defer tx.Rollback()

	if deviceID == "" {
		_, err = tx.ExecContext(ctx, `DELETE FROM displacement`)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM displacement WHERE device_id = ?`, deviceID)
	}
	if err != nil {
		return repository.Wrap("clear", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ai_models`); err != nil {
		return repository.Wrap("clear", err)
	}

	return repository.Wrap("clear", tx.Commit())
}

// GetProfile loads a device's threshold profile
func (s *Storage) GetProfile(ctx context.Context, deviceID string) (thresholds.Profile, bool, error) {
	p := thresholds.Profile{DeviceID: deviceID}
	err := s.db.QueryRowContext(ctx,
		`SELECT tier1, tier2, tier3 FROM threshold_profiles WHERE device_id = ?`, deviceID).
		Scan(&p.Tier1, &p.Tier2, &p.Tier3)
	if err == sql.ErrNoRows {
		return thresholds.Profile{}, false, nil
	}
	if err != nil {
		return thresholds.Profile{}, false, repository.Wrap("load threshold profile", err)
	}
	return p, true, nil
}

// PutProfile upserts a device's threshold profile
func (s *Storage) PutProfile(ctx context.Context, p thresholds.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threshold_profiles (device_id, tier1, tier2, tier3, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			tier1 = excluded.tier1,
			tier2 = excluded.tier2,
			tier3 = excluded.tier3,
			updated_at = excluded.updated_at`,
		p.DeviceID, p.Tier1, p.Tier2, p.Tier3, formatTime(time.Now()))
	return repository.Wrap("store threshold profile", err)
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err == nil {
		return t, nil
	}
	for _, layout := range legacyLayouts {
		if lt, lerr := time.ParseInLocation(layout, s, time.UTC); lerr == nil {
			return lt.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
}
