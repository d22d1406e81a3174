package kvstore

import (
	"context"

	"github.com/dmitrymomot/paywall/pkg/mongo"
	"github.com/dmitrymomot/paywall/pkg/pg"
	"github.com/dmitrymomot/paywall/pkg/redis"
)

// Pinger is implemented by stores backed by a network connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the connection behind s. Local stores are always healthy.
func Ping(ctx context.Context, s Store) error {
	if n, ok := s.(*namespaced); ok {
		return Ping(ctx, n.next)
	}
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return redis.Healthcheck(r.client)(ctx)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return pg.Healthcheck(p.pool)(ctx)
}

func (m *Mongo) Ping(ctx context.Context) error {
	return mongo.Healthcheck(m.coll.Database().Client())(ctx)
}
