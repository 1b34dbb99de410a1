// Package dbgateway implements the prepared-statement CRUD gateway every
// consumer and the producer use to read and mutate work records. It owns
// exactly one MySQL connection per process and transparently reconnects
// once when the driver reports the connection was dropped server-side.
package dbgateway

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Credentials identifies the MySQL instance and database a Gateway binds
// to. It is cached so the gateway can redial with the same parameters
// after a "server gone away" error.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

func (c Credentials) dsn() string {
	cfg := mysql.Config{
		User:                 c.User,
		Passwd:               c.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%d", c.Host, c.Port),
		DBName:               c.Database,
		ParseTime:            true,
		AllowNativePasswords: true,
	}
	return cfg.FormatDSN()
}

// Gateway is a single-connection, single-threaded CRUD facade. It is not
// safe for concurrent use by multiple goroutines; the consumer runtime
// and the producer each own exactly one.
type Gateway struct {
	creds Credentials
	db    *sqlx.DB

	// dial opens a new connection from a DSN. It is overridden in tests
	// to substitute a sqlmock connection for the real MySQL driver
	// without touching the reconnect logic under test.
	dial func(ctx context.Context, dsn string) (*sqlx.DB, error)

	// OnReconnect, when set, is invoked every time withReconnect redials
	// successfully. The consumer wiring in cmd/pipeline uses it to
	// increment a Prometheus counter; it is never required for correctness.
	OnReconnect func()
}

// Open connects to MySQL using creds. The connection is the gateway's
// sole handle; no other component may hold a reference to it, so that
// a reconnect can swap it out transparently.
func Open(ctx context.Context, creds Credentials) (*Gateway, error) {
	g := &Gateway{creds: creds, dial: dialMySQL}
	db, err := g.dial(ctx, creds.dsn())
	if err != nil {
		return nil, &DatabaseError{Message: err.Error(), Cause: err}
	}
	g.db = db
	return g, nil
}

func dialMySQL(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return sqlx.ConnectContext(ctx, "mysql", dsn)
}

// NewWithDB wraps an already-open connection in a Gateway, bypassing
// Open's dial step. Stage tests use this to substitute a sqlmock
// connection for the real MySQL driver.
func NewWithDB(db *sqlx.DB, creds Credentials) *Gateway {
	return &Gateway{creds: creds, db: db, dial: dialMySQL}
}

// Close releases the underlying connection.
func (g *Gateway) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

// SelectOptions carries the optional clauses select() may apply on top
// of the conjunctive AND equality predicate.
type SelectOptions struct {
	GroupBy string
	OrderBy string
	Limit   string
}

// Select returns every row of table matching the AND-equality predicate
// in where, with optional group/order/limit clauses appended verbatim
// (callers own sanitising these — they are operator-supplied config
// fragments, not user input).
func (g *Gateway) Select(ctx context.Context, table string, where map[string]any, opts SelectOptions) ([]map[string]any, error) {
	if err := requireNonEmpty(table, nil, false); err != nil {
		return nil, err
	}

	cols, args := conjunctiveClause(where)
	query := fmt.Sprintf("SELECT * FROM %s", table)
	if cols != "" {
		query += " WHERE " + cols
	}
	if opts.GroupBy != "" {
		query += " GROUP BY " + opts.GroupBy
	}
	if opts.OrderBy != "" {
		query += " ORDER BY " + opts.OrderBy
	}
	if opts.Limit != "" {
		query += " LIMIT " + opts.Limit
	}

	var rows *sqlx.Rows
	err := g.withReconnect(ctx, func() (err error) {
		rows, err = g.db.QueryxContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, &DatabaseError{Message: err.Error(), Cause: err}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Insert builds a single-row INSERT from values and returns the
// driver-assigned row id as a string.
func (g *Gateway) Insert(ctx context.Context, table string, values map[string]any) (string, error) {
	if err := requireNonEmpty(table, values, true); err != nil {
		return "", err
	}

	cols := sortedKeys(values)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = values[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var result sql.Result
	err := g.withReconnect(ctx, func() (err error) {
		result, err = g.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return "", err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return "", &DatabaseError{Message: err.Error(), Cause: err}
	}
	return fmt.Sprintf("%d", id), nil
}

// Update applies values to every row of table matching the AND-equality
// predicate in where, returning the number of affected rows.
func (g *Gateway) Update(ctx context.Context, table string, values map[string]any, where map[string]any) (int64, error) {
	if err := requireNonEmpty(table, values, true); err != nil {
		return 0, err
	}

	setCols := sortedKeys(values)
	setClauses := make([]string, len(setCols))
	args := make([]any, 0, len(setCols)+len(where))
	for i, c := range setCols {
		setClauses[i] = c + " = ?"
		args = append(args, values[c])
	}

	query := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(setClauses, ", "))
	whereCols, whereArgs := conjunctiveClause(where)
	if whereCols != "" {
		query += " WHERE " + whereCols
		args = append(args, whereArgs...)
	}

	var result sql.Result
	err := g.withReconnect(ctx, func() (err error) {
		result, err = g.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return 0, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, &DatabaseError{Message: err.Error(), Cause: err}
	}
	return n, nil
}

// Delete removes every row of table matching the AND-equality predicate
// in where, returning the number of affected rows.
func (g *Gateway) Delete(ctx context.Context, table string, where map[string]any) (int64, error) {
	if err := requireNonEmpty(table, nil, false); err != nil {
		return 0, err
	}

	cols, args := conjunctiveClause(where)
	query := fmt.Sprintf("DELETE FROM %s", table)
	if cols != "" {
		query += " WHERE " + cols
	}

	var result sql.Result
	err := g.withReconnect(ctx, func() (err error) {
		result, err = g.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return 0, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, &DatabaseError{Message: err.Error(), Cause: err}
	}
	return n, nil
}

// withReconnect runs op once. If it fails with a "server gone away"
// class error, the gateway redials using its cached credentials — host
// and port in their correct positions, not swapped, per the regression
// this gateway carries against the original reconnect bug — and retries
// op exactly once. Any other error, or a second failure after
// reconnecting, is wrapped as DatabaseError.
func (g *Gateway) withReconnect(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if !isConnectionLost(err) {
		return wrapDatabaseError(err)
	}

	if rerr := g.reconnect(ctx); rerr != nil {
		return &DatabaseError{Message: fmt.Sprintf("reconnect failed: %v (original error: %v)", rerr, err), Cause: err}
	}
	if g.OnReconnect != nil {
		g.OnReconnect()
	}

	if err := op(); err != nil {
		return wrapDatabaseError(err)
	}
	return nil
}

func (g *Gateway) reconnect(ctx context.Context) error {
	if g.db != nil {
		g.db.Close()
	}
	db, err := g.dial(ctx, g.creds.dsn())
	if err != nil {
		return err
	}
	g.db = db
	return nil
}

// isConnectionLost classifies the MySQL "server has gone away" (2006) /
// "lost connection during query" (2013) errors, and the generic
// database/sql ErrBadConn sentinel, as transient connection loss worth
// a single reconnect-and-retry. Every other error is a real statement
// or constraint failure and must not be retried.
func isConnectionLost(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 2006, 2013:
			return true
		}
	}
	return false
}

func wrapDatabaseError(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return &DatabaseError{Code: myErr.Number, Message: myErr.Message, Cause: err}
	}
	return &DatabaseError{Message: err.Error(), Cause: err}
}

// requireNonEmpty rejects an empty table name unconditionally, and an
// empty (including nil) value map whenever requireValues is true. Select
// and Delete have no value map to validate, so they pass requireValues
// false.
func requireNonEmpty(table string, values map[string]any, requireValues bool) error {
	if table == "" {
		return &UsageError{Reason: "table name must not be empty"}
	}
	if requireValues && len(values) == 0 {
		return &UsageError{Reason: "value map must not be empty"}
	}
	return nil
}

func conjunctiveClause(where map[string]any) (string, []any) {
	if len(where) == 0 {
		return "", nil
	}
	cols := sortedKeys(where)
	clauses := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		clauses[i] = c + " = ?"
		args[i] = where[c]
	}
	return strings.Join(clauses, " AND "), args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
