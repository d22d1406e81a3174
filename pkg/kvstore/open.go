package kvstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/paywall/pkg/mongo"
	"github.com/dmitrymomot/paywall/pkg/pg"
	"github.com/dmitrymomot/paywall/pkg/redis"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config selects and configures the backing store.
type Config struct {
	Driver   string `env:"STORE_DRIVER" envDefault:"file"`
	FilePath string `env:"STORE_FILE" envDefault:".paywall/state.json"`

	Redis    redis.Config
	Postgres pg.Config
	Mongo    mongo.Config
}

// Open builds the Store named by cfg.Driver. The returned close function
// releases the underlying connection and is never nil.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (Store, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Driver {
	case DriverMemory:
		return NewMemory(), noop, nil

	case DriverFile, "":
		f, err := OpenFile(cfg.FilePath)
		if err != nil {
			return nil, noop, err
		}
		return f, noop, nil

	case DriverRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		return NewRedis(client, cfg.Redis.KeyPrefix), func(context.Context) error { return client.Close() }, nil

	case DriverPostgres:
		pool, err := pg.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, noop, err
		}
		if err := MigratePostgres(ctx, pool, cfg.Postgres.MigrationsTable, log); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return NewPostgres(pool), func(context.Context) error { pool.Close(); return nil }, nil

	case DriverMongo:
		coll, err := mongo.Collection(ctx, cfg.Mongo)
		if err != nil {
			return nil, noop, err
		}
		return NewMongo(coll), func(ctx context.Context) error { return coll.Database().Client().Disconnect(ctx) }, nil
	}

	return nil, noop, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}
