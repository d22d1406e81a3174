// Package pg connects to PostgreSQL with pgx/v5 and runs goose migrations
// from an fs.FS, for the Postgres key-value store backend.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := pg.Migrate(ctx, pool, migrations, "migrations", cfg.MigrationsTable, log); err != nil {
//	    return err
//	}
package pg
