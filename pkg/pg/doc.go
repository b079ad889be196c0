// Package pg wraps the pgx/v5 connection pool used by every Postgres-backed
// store in the service.
//
// It provides:
//
//   - Config and Connect: a pool built from PG_* environment variables,
//     retried while the database is starting up.
//   - Migrate: goose/v3 migrations applied from an embedded filesystem.
//   - WithTx and Conn: a transaction carried in the context, so stores from
//     different packages join the same transaction without knowing about
//     each other.
//   - Error helpers that classify pgx and SQLSTATE errors.
//
// Typical use:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
//		return err
//	}
//	tx := pg.NewTransactor(pool)
//	err = tx.WithinTx(ctx, func(ctx context.Context) error {
//		// every store call made with ctx shares the transaction
//		return nil
//	})
package pg
