// Package redis connects to the Redis server behind the Redis key-value
// store backend.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	store := kvstore.NewRedis(client, cfg.KeyPrefix)
package redis
