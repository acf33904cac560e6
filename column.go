package satchel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/sentinel"
)

func init() {
	sentinel.Tag("db")
}

// Dialect selects the SQL flavour for null-safe comparison and quoting.
type Dialect int

// Supported dialects.
const (
	// DialectSQLite compares with IS.
	DialectSQLite Dialect = iota
	// DialectPostgres compares with IS NOT DISTINCT FROM.
	DialectPostgres
	// DialectMySQL compares with <=>.
	DialectMySQL
	// DialectMSSQL compares with IS NOT DISTINCT FROM (SQL Server 2022).
	DialectMSSQL
)

func (d Dialect) quote(ident string) string {
	switch d {
	case DialectMySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	case DialectMSSQL:
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

func (d Dialect) nullSafeEq() string {
	switch d {
	case DialectPostgres, DialectMSSQL:
		return "IS NOT DISTINCT FROM"
	case DialectMySQL:
		return "<=>"
	default:
		return "IS"
	}
}

// SQLColumn is a Persistence over one text column of one SQL row.
//
// Reload selects the column and remembers its raw value. Persist updates the
// column only where it still holds that value, so a concurrent writer makes
// the update match no row and Persist reports ErrConflict. A row deleted in
// between is reported as ErrRecordMissing.
type SQLColumn struct {
	db        sqlx.ExtContext
	table     string
	column    string
	keyColumn string
	key       any
	dialect   Dialect
	codec     Codec

	snapshot sql.NullString
	loaded   bool
}

// ColumnOption configures an SQLColumn.
type ColumnOption func(*SQLColumn)

// WithDialect sets the SQL dialect. If not specified, DialectSQLite is used.
func WithDialect(d Dialect) ColumnOption {
	return func(c *SQLColumn) {
		c.dialect = d
	}
}

// WithKeyColumn sets the primary key column. If not specified, "id" is used.
func WithKeyColumn(col string) ColumnOption {
	return func(c *SQLColumn) {
		c.keyColumn = col
	}
}

// WithColumnCodec sets the codec for the column value.
// It must match the codec of the attachment. If not specified, JSONCodec is used.
func WithColumnCodec(codec Codec) ColumnOption {
	return func(c *SQLColumn) {
		c.codec = codec
	}
}

// NewSQLColumn creates a Persistence for column of the row in table whose key
// column equals key.
func NewSQLColumn(db sqlx.ExtContext, table, column string, key any, opts ...ColumnOption) *SQLColumn {
	c := &SQLColumn{
		db:        db,
		table:     table,
		column:    column,
		keyColumn: "id",
		key:       key,
		codec:     JSONCodec{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.codec == nil {
		c.codec = JSONCodec{}
	}
	return c
}

// ColumnFor is NewSQLColumn with the column resolved from the db tag of the
// named field of T.
func ColumnFor[T any](db sqlx.ExtContext, table, field string, key any, opts ...ColumnOption) (*SQLColumn, error) {
	meta := sentinel.Inspect[T]()
	for _, f := range meta.Fields {
		if f.Name != field {
			continue
		}
		col := f.Tags["db"]
		if col == "" || col == "-" {
			return nil, fmt.Errorf("satchel: %s.%s has no db column", meta.TypeName, field)
		}
		return NewSQLColumn(db, table, col, key, opts...), nil
	}
	return nil, fmt.Errorf("satchel: %s has no field %s", meta.TypeName, field)
}

// Column returns the column name.
func (c *SQLColumn) Column() string {
	return c.column
}

// Reload reads the column fresh and remembers it for the next Persist.
// Returns ErrRecordMissing if no row has the key.
func (c *SQLColumn) Reload(ctx context.Context) (Tree, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		c.dialect.quote(c.column), c.dialect.quote(c.table), c.dialect.quote(c.keyColumn))

	var value sql.NullString
	if err := c.db.QueryRowxContext(ctx, c.db.Rebind(q), c.key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %v", ErrRecordMissing, c.table, c.key)
		}
		return nil, err
	}
	tree, err := DecodeTree(c.codec, []byte(value.String))
	if err != nil {
		return nil, err
	}
	c.snapshot = value
	c.loaded = true
	return tree, nil
}

// Persist writes tree if the column still holds the value seen by Reload.
// Returns ErrConflict otherwise, or ErrRecordMissing if the row is gone.
func (c *SQLColumn) Persist(ctx context.Context, tree Tree) error {
	if !c.loaded {
		if _, err := c.Reload(ctx); err != nil {
			return err
		}
	}

	var value sql.NullString
	if tree != nil {
		data, err := EncodeTree(c.codec, tree)
		if err != nil {
			return err
		}
		value = sql.NullString{String: string(data), Valid: true}
	}

	q := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ? AND %s %s ?",
		c.dialect.quote(c.table),
		c.dialect.quote(c.column),
		c.dialect.quote(c.keyColumn),
		c.dialect.quote(c.column), c.dialect.nullSafeEq(),
	)
	res, err := c.db.ExecContext(ctx, c.db.Rebind(q), value, c.key, c.snapshot)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return c.missed(ctx)
	}
	c.snapshot = value
	return nil
}

// missed explains an update that matched no row: either the row is gone or
// its column changed since Reload.
func (c *SQLColumn) missed(ctx context.Context) error {
	q := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?",
		c.dialect.quote(c.table), c.dialect.quote(c.keyColumn))

	var found any
	err := c.db.QueryRowxContext(ctx, c.db.Rebind(q), c.key).Scan(&found)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s %v", ErrRecordMissing, c.table, c.key)
	case err != nil:
		return err
	}
	return fmt.Errorf("%w: %s.%s of %v changed", ErrConflict, c.table, c.column, c.key)
}
