package managers

import (
	"context"
	"fmt"

	"github.com/sinkbot-iot/sinkbot/internal/repository"
	"github.com/sinkbot-iot/sinkbot/internal/repository/dynamodb"
	"github.com/sinkbot-iot/sinkbot/internal/repository/memory"
	"github.com/sinkbot-iot/sinkbot/internal/repository/postgres"
	"github.com/sinkbot-iot/sinkbot/internal/repository/sqlite"
	"github.com/sinkbot-iot/sinkbot/pkg/config"
	"go.uber.org/zap"
)

// NewRepository opens the backend selected by the storage configuration.
// Exactly one backend is active per process.
func NewRepository(ctx context.Context, c *config.StorageData, logger *zap.SugaredLogger) (repository.Repository, error) {
	switch c.Backend {
	case config.BackendSQLite, "":
		path := c.SQLite.Path
		if path == "" {
			path = config.DefaultSQLitePath
		}
		repo, err := sqlite.New(ctx, path, logger)
		if err != nil {
			return nil, fmt.Errorf("could not open SQLite storage backend: %w", err)
		}
		return repo, nil
	case config.BackendPostgres:
		repo, err := postgres.New(ctx, c.Postgres.ConnectionString, logger)
		if err != nil {
			return nil, fmt.Errorf("could not open PostgreSQL storage backend: %w", err)
		}
		return repo, nil
	case config.BackendDynamoDB:
		repo, err := dynamodb.New(dynamodb.Config{
			Region:        c.DynamoDB.Region,
			Endpoint:      c.DynamoDB.Endpoint,
			ReadingsTable: c.DynamoDB.ReadingsTable,
			ModelsTable:   c.DynamoDB.ModelsTable,
			ProfilesTable: c.DynamoDB.ProfilesTable,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("could not open DynamoDB storage backend: %w", err)
		}
		return repo, nil
	case config.BackendMemory:
		logger.Warn("using in-memory storage; data will not survive a restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", c.Backend)
	}
}
