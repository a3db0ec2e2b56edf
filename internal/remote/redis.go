package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"checkin/internal/logger"
	"checkin/internal/model"
)

// Redis keeps the collection in a hash keyed by record key and announces
// appends on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	key     string
	channel string
}

// NewRedis binds a store to collection.
func NewRedis(client *redis.Client, collection string) *Redis {
	if collection == "" {
		collection = "asistencias"
	}
	return &Redis{client: client, key: "checkin:" + collection, channel: "checkin:" + collection + ":changes"}
}

// Append writes rec and publishes its key in one transaction.
func (r *Redis) Append(ctx context.Context, rec model.AttendanceRecord) (string, error) {
	rec.ID = newKey()
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("redis store: encode record: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key, rec.ID, data)
	pipe.Publish(ctx, r.channel, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis store: append: %w", err)
	}
	return rec.ID, nil
}

// Snapshot reads the whole collection sorted by key.
func (r *Redis) Snapshot(ctx context.Context) ([]model.AttendanceRecord, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: read collection: %w", err)
	}
	out := make([]model.AttendanceRecord, 0, len(raw))
	for id, v := range raw {
		var rec model.AttendanceRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			logger.Warningf("redis store: skipping undecodable record %s: %v", id, err)
			continue
		}
		rec.ID = id
		out = append(out, rec)
	}
	sortByKey(out)
	return out, nil
}

// Watch subscribes before reading the first snapshot so no append between
// the two is missed.
func (r *Redis) Watch(ctx context.Context) (<-chan []model.AttendanceRecord, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis store: subscribe: %w", err)
	}
	first, err := r.Snapshot(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan []model.AttendanceRecord, 1)
	offer(out, first)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				snap, err := r.Snapshot(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Warningf("redis store: refresh after change failed: %v", err)
					continue
				}
				offer(out, snap)
			}
		}
	}()
	return out, nil
}
