// Package mockdb provides a scripted SQL driver for testing persistence
// adapters without a database.
package mockdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
)

var (
	states sync.Map // dsn -> *State
	nextID atomic.Int64
)

func init() {
	sql.Register("mockdb", &Driver{})
}

// State is the scripted behavior and query log of one mock database.
type State struct {
	mu           sync.Mutex
	queries      []Query
	queryErr     error
	execErr      error
	rowsAffected int64
	columns      []string
	row          []driver.Value
}

// Query is one statement received by the mock database.
type Query struct {
	SQL  string
	Args []any
}

// New opens a mock database with its own State. Queries return no rows and
// statements affect one row until scripted otherwise.
func New() (*sqlx.DB, *State) {
	dsn := fmt.Sprintf("mock-%d", nextID.Add(1))
	st := &State{rowsAffected: 1}
	states.Store(dsn, st)
	db, err := sql.Open("mockdb", dsn)
	if err != nil {
		panic("mockdb: failed to open: " + err.Error())
	}
	return sqlx.NewDb(db, "mockdb"), st
}

// SetRow makes every query return a single row with the given columns.
func (s *State) SetRow(columns []string, values ...driver.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns = columns
	s.row = values
}

// ClearRow makes every query return no rows.
func (s *State) ClearRow() {
	s.SetRow(nil)
}

// SetQueryErr sets the error returned by queries.
func (s *State) SetQueryErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr = err
}

// SetExecErr sets the error returned by statements.
func (s *State) SetExecErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execErr = err
}

// SetRowsAffected sets the affected row count reported by statements.
func (s *State) SetRowsAffected(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowsAffected = n
}

// Queries returns every statement received so far.
func (s *State) Queries() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Query(nil), s.queries...)
}

// Last returns the most recent statement.
func (s *State) Last() (Query, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return Query{}, false
	}
	return s.queries[len(s.queries)-1], true
}

func (s *State) record(query string, args []driver.NamedValue) {
	values := make([]any, len(args))
	for i, nv := range args {
		values[i] = nv.Value
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, Query{SQL: query, Args: values})
}

// Driver opens connections bound to the State registered for the DSN.
type Driver struct{}

// Open returns a connection for dsn.
func (*Driver) Open(dsn string) (driver.Conn, error) {
	v, ok := states.Load(dsn)
	if !ok {
		return nil, fmt.Errorf("mockdb: unknown dsn %q", dsn)
	}
	return &conn{state: v.(*State)}, nil
}

type conn struct {
	state *State
}

func (*conn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("mockdb: prepared statements are not supported")
}

func (*conn) Close() error { return nil }

func (*conn) Begin() (driver.Tx, error) { return tx{}, nil }

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.state.record(query, args)
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.queryErr != nil {
		return nil, c.state.queryErr
	}
	r := &rows{columns: c.state.columns}
	if c.state.columns != nil {
		r.pending = [][]driver.Value{c.state.row}
	}
	return r, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.state.record(query, args)
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.execErr != nil {
		return nil, c.state.execErr
	}
	return driver.RowsAffected(c.state.rowsAffected), nil
}

type tx struct{}

func (tx) Commit() error   { return nil }
func (tx) Rollback() error { return nil }

type rows struct {
	columns []string
	pending [][]driver.Value
}

func (r *rows) Columns() []string { return r.columns }

func (*rows) Close() error { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if len(r.pending) == 0 {
		return io.EOF
	}
	copy(dest, r.pending[0])
	r.pending = r.pending[1:]
	return nil
}
