// Package mssql binds satchel column persistence to Microsoft SQL Server.
//
// Importing the package registers the go-mssqldb driver. Columns compare the
// Reload snapshot with IS NOT DISTINCT FROM, which needs SQL Server 2022.
// Attachment columns should be NVARCHAR(MAX); TEXT columns cannot be compared.
package mssql

import (
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/zoobzio/satchel"
)

// DriverName is the database/sql driver registered by this package.
const DriverName = "sqlserver"

// Open connects to the database at dsn, a sqlserver:// URL.
func Open(dsn string) (*sqlx.DB, error) {
	return sqlx.Open(DriverName, dsn)
}

// Column creates a Persistence for column of the row in table whose key
// column equals key.
func Column(db sqlx.ExtContext, table, column string, key any, opts ...satchel.ColumnOption) *satchel.SQLColumn {
	opts = append([]satchel.ColumnOption{satchel.WithDialect(satchel.DialectMSSQL)}, opts...)
	return satchel.NewSQLColumn(db, table, column, key, opts...)
}
