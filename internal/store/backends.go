package store

import (
	"context"
	"fmt"

	"checkin/internal/attendance"
	"checkin/internal/config"
	"checkin/internal/logger"
	"checkin/internal/queue"
	"checkin/internal/remote"
)

// Backends are the record store and event queue selected by configuration,
// plus the connections they run on.
type Backends struct {
	DB      *DB
	Redis   *Redis
	Records attendance.RecordStore
	Events  queue.Queue
}

// Open connects the configured record and event backends. maxListeners
// sizes the postgres pool for concurrent subscriptions.
func Open(ctx context.Context, cfg config.App, maxListeners int) (*Backends, error) {
	b := &Backends{}
	needRedis := cfg.RecordBackend == "redis" || cfg.EventsBackend == "redis"
	if needRedis {
		b.Redis = NewRedis(cfg.RedisAddr)
		if !b.Redis.Healthy(ctx) {
			logger.Warningf("redis at %s not reachable yet", cfg.RedisAddr)
		}
	}

	switch cfg.RecordBackend {
	case "memory":
		b.Records = remote.NewMemory()
	case "redis":
		b.Records = remote.NewRedis(b.Redis.Client, cfg.Collection)
	case "postgres":
		db, err := NewDB(ctx, cfg.DatabaseURL, maxListeners)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.DB = db
		pg := remote.NewPostgres(db.Client, cfg.Collection)
		if err := pg.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("record schema: %w", err)
		}
		b.Records = pg
	default:
		b.Close()
		return nil, fmt.Errorf("unknown record backend %q", cfg.RecordBackend)
	}

	switch cfg.EventsBackend {
	case "", "none":
	case "memory":
		b.Events = queue.NewInMemory(256)
	case "redis":
		b.Events = queue.NewRedisQueue(b.Redis.Client, cfg.EventsKey)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown events backend %q", cfg.EventsBackend)
	}
	logger.Infof("records: %s (collection %s), events: %s", cfg.RecordBackend, cfg.Collection, cfg.EventsBackend)
	return b, nil
}

// Checks returns a health probe per open connection.
func (b *Backends) Checks() map[string]func(context.Context) bool {
	checks := make(map[string]func(context.Context) bool)
	if b.DB != nil {
		checks["db"] = b.DB.Healthy
	}
	if b.Redis != nil {
		checks["redis"] = b.Redis.Healthy
	}
	return checks
}

// Close closes every open connection.
func (b *Backends) Close() {
	if b.DB != nil {
		_ = b.DB.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
}
