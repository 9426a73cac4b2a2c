// Package dynamodb is the DynamoDB repository backend, used by the serverless
// deployment. Readings are partitioned by device and sorted by time.
package dynamodb

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/google/uuid"
	"github.com/sinkbot-iot/sinkbot/internal/repository"
	"github.com/sinkbot-iot/sinkbot/internal/thresholds"
	"github.com/sinkbot-iot/sinkbot/internal/types"
	"go.uber.org/zap"
)

// maxBatchWrite is the BatchWriteItem request limit
const maxBatchWrite = 25

// Config names the tables and the endpoint to talk to
type Config struct {
	Region        string
	Endpoint      string
	ReadingsTable string
	ModelsTable   string
	ProfilesTable string
}

type readingItem struct {
	DeviceID  string  `dynamodbav:"device_id"`
	SortKey   string  `dynamodbav:"sk"`
	ID        int64   `dynamodbav:"id"`
	Timestamp string  `dynamodbav:"timestamp"`
	X         float64 `dynamodbav:"x"`
	Y         float64 `dynamodbav:"y"`
	Z         float64 `dynamodbav:"z"`
	TiltX     float64 `dynamodbav:"tilt_x"`
	TiltY     float64 `dynamodbav:"tilt_y"`
	Battery   float64 `dynamodbav:"battery"`
}

type modelItem struct {
	ModelName   string `dynamodbav:"model_name"`
	ModelData   []byte `dynamodbav:"model_data"`
	CreatedAt   string `dynamodbav:"created_at"`
	SampleCount int    `dynamodbav:"sample_count"`
}

type profileItem struct {
	DeviceID  string  `dynamodbav:"device_id"`
	Tier1     float64 `dynamodbav:"tier1"`
	Tier2     float64 `dynamodbav:"tier2"`
	Tier3     float64 `dynamodbav:"tier3"`
	UpdatedAt string  `dynamodbav:"updated_at"`
}

var _ repository.Repository = (*Storage)(nil)

// Storage talks to three DynamoDB tables
type Storage struct {
	client *dynamodb.DynamoDB
	cfg    Config
	logger *zap.SugaredLogger
}

// New creates a client session for cfg. Tables must already exist.
func New(cfg Config, logger *zap.SugaredLogger) (*Storage, error) {
	if cfg.ReadingsTable == "" || cfg.ModelsTable == "" || cfg.ProfilesTable == "" {
		return nil, repository.Wrap("open", fmt.Errorf("dynamodb table names must be set"))
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, repository.Wrap("open", fmt.Errorf("failed to create AWS session: %w", err))
	}

	logger.Infof("using DynamoDB tables %s, %s, %s in %s", cfg.ReadingsTable, cfg.ModelsTable, cfg.ProfilesTable, cfg.Region)
	return &Storage{client: dynamodb.New(sess), cfg: cfg, logger: logger}, nil
}

func sortKey(ts time.Time, id int64) string {
	return fmt.Sprintf("%019d#%019d", ts.UnixNano(), id)
}

// newID derives a positive id from a random UUID
func newID() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint64(u[:8]) >> 1)
}

// AppendReading stores r under its device partition
func (s *Storage) AppendReading(ctx context.Context, r *types.Reading) error {
	id := newID()
	item, err := dynamodbattribute.MarshalMap(readingItem{
		DeviceID:  r.DeviceID,
		SortKey:   sortKey(r.Timestamp, id),
		ID:        id,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
		X:         r.X,
		Y:         r.Y,
		Z:         r.Z,
		TiltX:     r.TiltX,
		TiltY:     r.TiltY,
		Battery:   r.Battery,
	})
	if err != nil {
		return repository.Wrap("append reading", fmt.Errorf("failed to marshal reading: %w", err))
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.ReadingsTable),
		Item:      item,
	})
	if err != nil {
		return repository.Wrap("append reading", err)
	}

	r.ID = id
	return nil
}

func (s *Storage) readingItems(ctx context.Context, deviceID string, projection *string) ([]map[string]*dynamodb.AttributeValue, error) {
	var items []map[string]*dynamodb.AttributeValue
	collect := func(page []map[string]*dynamodb.AttributeValue) {
		items = append(items, page...)
	}

	if deviceID == "" {
		err := s.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.cfg.ReadingsTable),
			ProjectionExpression: projection,
			ConsistentRead:       aws.Bool(true),
		}, func(out *dynamodb.ScanOutput, _ bool) bool {
			collect(out.Items)
			return true
		})
		return items, err
	}

	err := s.client.QueryPagesWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.cfg.ReadingsTable),
		KeyConditionExpression: aws.String("device_id = :d"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":d": {S: aws.String(deviceID)},
		},
		ProjectionExpression: projection,
		ConsistentRead:       aws.Bool(true),
	}, func(out *dynamodb.QueryOutput, _ bool) bool {
		collect(out.Items)
		return true
	})
	return items, err
}

// QueryReadings returns readings ordered by device, time and id
func (s *Storage) QueryReadings(ctx context.Context, deviceID string) ([]types.Reading, error) {
	items, err := s.readingItems(ctx, deviceID, nil)
	if err != nil {
		return nil, repository.Wrap("query readings", err)
	}

	var rows []readingItem
	if err := dynamodbattribute.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, repository.Wrap("query readings", fmt.Errorf("failed to unmarshal readings: %w", err))
	}

	out := make([]types.Reading, 0, len(rows))
	for _, row := range rows {
		ts, err := time.Parse(time.RFC3339Nano, row.Timestamp)
		if err != nil {
			return nil, repository.Wrap("query readings", fmt.Errorf("bad timestamp %q: %w", row.Timestamp, err))
		}
		out = append(out, types.Reading{
			ID:        row.ID,
			DeviceID:  row.DeviceID,
			Timestamp: ts.UTC(),
			X:         row.X,
			Y:         row.Y,
			Z:         row.Z,
			TiltX:     row.TiltX,
			TiltY:     row.TiltY,
			Battery:   row.Battery,
		})
	}

	slices.SortFunc(out, func(a, b types.Reading) int {
		if a.DeviceID != b.DeviceID {
			if a.DeviceID < b.DeviceID {
				return -1
			}
			return 1
		}
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// CountReadings counts the readings table without fetching items
func (s *Storage) CountReadings(ctx context.Context) (int, error) {
	var n int64
	err := s.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.cfg.ReadingsTable),
		Select:    aws.String(dynamodb.SelectCount),
	}, func(out *dynamodb.ScanOutput, _ bool) bool {
		n += aws.Int64Value(out.Count)
		return true
	})
	if err != nil {
		return 0, repository.Wrap("count readings", err)
	}
	return int(n), nil
}

// Devices lists device ids with readings
func (s *Storage) Devices(ctx context.Context) ([]string, error) {
	items, err := s.readingItems(ctx, "", aws.String("device_id"))
	if err != nil {
		return nil, repository.Wrap("list devices", err)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, item := range items {
		v, ok := item["device_id"]
		if !ok || v.S == nil {
			continue
		}
		if _, dup := seen[*v.S]; dup {
			continue
		}
		seen[*v.S] = struct{}{}
		ids = append(ids, *v.S)
	}
	slices.Sort(ids)
	return ids, nil
}

// LatestModel loads the primary model, or nil if none has been trained
func (s *Storage) LatestModel(ctx context.Context) (*types.AnomalyModel, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.cfg.ModelsTable),
		Key: map[string]*dynamodb.AttributeValue{
			"model_name": {S: aws.String(types.PrimaryModelName)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, repository.Wrap("load model", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var item modelItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, repository.Wrap("load model", fmt.Errorf("failed to unmarshal model item: %w", err))
	}
	trainedAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return nil, repository.Wrap("load model", fmt.Errorf("bad created_at %q: %w", item.CreatedAt, err))
	}

	return &types.AnomalyModel{
		Name:        item.ModelName,
		Data:        item.ModelData,
		TrainedAt:   trainedAt.UTC(),
		SampleCount: item.SampleCount,
	}, nil
}

// PutModel replaces the model slot with a single PutItem
func (s *Storage) PutModel(ctx context.Context, m *types.AnomalyModel) error {
	item, err := dynamodbattribute.MarshalMap(modelItem{
		ModelName:   m.Name,
		ModelData:   m.Data,
		CreatedAt:   m.TrainedAt.UTC().Format(time.RFC3339Nano),
		SampleCount: m.SampleCount,
	})
	if err != nil {
		return repository.Wrap("store model", fmt.Errorf("failed to marshal model: %w", err))
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.ModelsTable),
		Item:      item,
	})
	return repository.Wrap("store model", err)
}

// Clear deletes readings in scope, then the model. DynamoDB offers no
// transaction large enough for this, so a failure part way through can leave
// some readings behind; the model is only deleted once every reading is gone.
func (s *Storage) Clear(ctx context.Context, deviceID string) error {
	keys, err := s.readingItems(ctx, deviceID, aws.String("device_id, sk"))
	if err != nil {
		return repository.Wrap("clear", err)
	}

	for start := 0; start < len(keys); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(keys))
		requests := make([]*dynamodb.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, &dynamodb.WriteRequest{
				DeleteRequest: &dynamodb.DeleteRequest{Key: key},
			})
		}
		if err := s.batchWrite(ctx, requests); err != nil {
			return repository.Wrap("clear", err)
		}
	}

	_, err = s.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cfg.ModelsTable),
		Key: map[string]*dynamodb.AttributeValue{
			"model_name": {S: aws.String(types.PrimaryModelName)},
		},
	})
	if err != nil {
		return repository.Wrap("clear", err)
	}

	s.logger.Infof("cleared %d readings from DynamoDB", len(keys))
	return nil
}

func (s *Storage) batchWrite(ctx context.Context, requests []*dynamodb.WriteRequest) error {
	pending := map[string][]*dynamodb.WriteRequest{s.cfg.ReadingsTable: requests}

	for attempt := 0; len(pending) > 0; attempt++ {
		if attempt > 0 {
			if attempt > 5 {
				return fmt.Errorf("unprocessed deletes remain after %d attempts", attempt)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*100) * time.Millisecond):
			}
		}

		out, err := s.client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		pending = out.UnprocessedItems
	}
	return nil
}

// GetProfile loads a device's threshold profile
func (s *Storage) GetProfile(ctx context.Context, deviceID string) (thresholds.Profile, bool, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.cfg.ProfilesTable),
		Key: map[string]*dynamodb.AttributeValue{
			"device_id": {S: aws.String(deviceID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return thresholds.Profile{}, false, repository.Wrap("load threshold profile", err)
	}
	if out.Item == nil {
		return thresholds.Profile{}, false, nil
	}

	var item profileItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return thresholds.Profile{}, false, repository.Wrap("load threshold profile", err)
	}
	return thresholds.Profile{DeviceID: item.DeviceID, Tier1: item.Tier1, Tier2: item.Tier2, Tier3: item.Tier3}, true, nil
}

// PutProfile upserts a device's threshold profile
func (s *Storage) PutProfile(ctx context.Context, p thresholds.Profile) error {
	item, err := dynamodbattribute.MarshalMap(profileItem{
		DeviceID:  p.DeviceID,
		Tier1:     p.Tier1,
		Tier2:     p.Tier2,
		Tier3:     p.Tier3,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return repository.Wrap("store threshold profile", err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.ProfilesTable),
		Item:      item,
	})
	return repository.Wrap("store threshold profile", err)
}

// Close is a no-op; the SDK client holds no connections that need releasing
func (s *Storage) Close() error {
	return nil
}
