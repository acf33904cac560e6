// Package mariadb binds satchel column persistence to MariaDB and MySQL.
//
// Importing the package registers the go-sql-driver/mysql driver. Columns
// compare the Reload snapshot with the null-safe <=> operator.
package mariadb

import (
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/satchel"
)

// DriverName is the database/sql driver registered by this package.
const DriverName = "mysql"

// Open connects to the database at dsn.
//
// The connection reports matched rather than changed rows, so persisting an
// unchanged value is not mistaken for a conflict.
func Open(dsn string) (*sqlx.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ClientFoundRows = true
	return sqlx.Open(DriverName, cfg.FormatDSN())
}

// Column creates a Persistence for column of the row in table whose key
// column equals key.
func Column(db sqlx.ExtContext, table, column string, key any, opts ...satchel.ColumnOption) *satchel.SQLColumn {
	opts = append([]satchel.ColumnOption{satchel.WithDialect(satchel.DialectMySQL)}, opts...)
	return satchel.NewSQLColumn(db, table, column, key, opts...)
}
