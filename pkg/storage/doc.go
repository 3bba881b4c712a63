// Package storage opens the relational store of the application management
// service and owns its schema.
//
// Three database/sql drivers are supported and selected by Config.Driver:
//
//   - "postgres": github.com/lib/pq
//   - "pgx": github.com/jackc/pgx/v5/stdlib
//   - "sqlite3": github.com/mattn/go-sqlite3, foreign keys enabled on every
//     connection
//
// The schema ships as embedded golang-migrate SQL files, one directory per
// dialect:
//
//	if err := storage.Migrate(storage.DriverSQLite, "/var/lib/appmgt.db", storage.Up); err != nil {
//		return err
//	}
//	db, err := storage.Open(ctx, storage.Config{Driver: storage.DriverSQLite, DSN: "/var/lib/appmgt.db"}, log)
//
// Open returns a *sqlx.DB; queries elsewhere are written with "?" and rebound
// for the driver in use.
package storage
