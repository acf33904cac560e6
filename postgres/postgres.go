// Package postgres binds satchel column persistence to PostgreSQL.
//
// Importing the package registers the lib/pq driver. Columns compare the
// Reload snapshot with IS NOT DISTINCT FROM, so a NULL column is matched too.
package postgres

import (
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/zoobzio/satchel"
)

// DriverName is the database/sql driver registered by this package.
const DriverName = "postgres"

// Open connects to the database at dsn.
func Open(dsn string) (*sqlx.DB, error) {
	return sqlx.Open(DriverName, dsn)
}

// Column creates a Persistence for column of the row in table whose key
// column equals key.
func Column(db sqlx.ExtContext, table, column string, key any, opts ...satchel.ColumnOption) *satchel.SQLColumn {
	opts = append([]satchel.ColumnOption{satchel.WithDialect(satchel.DialectPostgres)}, opts...)
	return satchel.NewSQLColumn(db, table, column, key, opts...)
}
