// Package sqlite binds satchel column persistence to SQLite.
//
// Importing the package registers the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/satchel"
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by this package.
const DriverName = "sqlite"

// Open opens the database file at path. SQLite allows one writer at a time,
// so the pool is limited to a single connection.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverName, path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Column creates a Persistence for column of the row in table whose key
// column equals key.
func Column(db sqlx.ExtContext, table, column string, key any, opts ...satchel.ColumnOption) *satchel.SQLColumn {
	opts = append([]satchel.ColumnOption{satchel.WithDialect(satchel.DialectSQLite)}, opts...)
	return satchel.NewSQLColumn(db, table, column, key, opts...)
}
