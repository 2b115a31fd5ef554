// Package redis implements durablesaga.Store on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fortressi/durablesaga"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "durablesaga:instance:"

var _ durablesaga.Store = (*Store)(nil)

// Store keeps instance records in Redis, one JSON value per instance.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// New creates a Redis store. Records of terminal instances expire after
// ttl; zero keeps them forever.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

func key(id durablesaga.InstanceID) string {
	return keyPrefix + string(id)
}

// Save stores the record.
func (s *Store) Save(ctx context.Context, rec durablesaga.InstanceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var ttl time.Duration
	if rec.Status.Terminal() {
		ttl = s.ttl
	}
	if err := s.client.Set(ctx, key(rec.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	s.logger.Debug("instance record saved",
		zap.String("instance_id", string(rec.ID)),
		zap.String("status", string(rec.Status)))
	return nil
}

// Load retrieves a record.
func (s *Store) Load(ctx context.Context, id durablesaga.InstanceID) (*durablesaga.InstanceRecord, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", durablesaga.ErrInstanceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var rec durablesaga.InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id durablesaga.InstanceID) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// List returns every stored record, oldest first.
func (s *Store) List(ctx context.Context) ([]durablesaga.InstanceRecord, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}

	records := make([]durablesaga.InstanceRecord, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			// Expired between SCAN and MGET.
			continue
		}
		var rec durablesaga.InstanceRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("skipping unreadable record", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	durablesaga.SortRecords(records)
	return records, nil
}
