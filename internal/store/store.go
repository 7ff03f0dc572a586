// Package store is a thin, table-agnostic data-access layer over Postgres.
// It builds parameterized statements, exposes a fluent cursor for reads,
// and scopes transactions so that callers never hold a connection beyond
// one logical operation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrEmptyPredicate is returned when Update or Delete is called without a
// WHERE condition. An unconditional mutation of a whole table is never
// intended in this codebase.
var ErrEmptyPredicate = errors.New("store: update/delete requires a non-empty predicate")

// QueryError wraps any driver or server failure together with the statement
// that caused it. It is logged once at this layer and propagated unchanged.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %s: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Row is one result row keyed by column name.
type Row map[string]any

// String reads a column as text. lib/pq hands some text columns back as
// []byte depending on the wire format.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	}
}

// Int64 reads a column as an integer. BIGINT columns arrive as int64.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case []byte:
		var n int64
		fmt.Sscanf(string(v), "%d", &n)
		return n
	case string:
		var n int64
		fmt.Sscanf(v, "%d", &n)
		return n
	default:
		return 0
	}
}

// Time reads a timestamp column, zero value when absent.
func (r Row) Time(col string) time.Time {
	if t, ok := r[col].(time.Time); ok {
		return t
	}
	return time.Time{}
}

// Result is the outcome of one executed statement.
type Result struct {
	Rows     []Row
	RowCount int
}

// Values is a column/value assignment set for Insert and Update. Columns
// are emitted in sorted order so generated SQL is deterministic.
type Values map[string]any

type executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store executes statements against either the shared pool or, when
// produced by Transaction, a single database transaction.
type Store struct {
	exec executor
	db   *sql.DB // nil when transaction-scoped
	log  zerolog.Logger
}

// New builds a pool-backed store.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{exec: db, db: db, log: log}
}

// Query executes one parameterized statement and materializes every row.
func (s *Store) Query(ctx context.Context, text string, params ...any) (Result, error) {
	s.log.Debug().Str("query", text).Interface("params", params).Msg("executing query")

	rows, err := s.exec.QueryContext(ctx, text, params...)
	if err != nil {
		s.log.Error().Err(err).Str("query", text).Msg("database query error")
		return Result{}, &QueryError{Query: text, Err: err}
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		s.log.Error().Err(err).Str("query", text).Msg("database scan error")
		return Result{}, &QueryError{Query: text, Err: err}
	}
	return Result{Rows: out, RowCount: len(out)}, nil
}

// Select starts a read cursor over the given table.
func (s *Store) Select(table string) *Cursor {
	return &Cursor{store: s, table: table}
}

// Insert builds INSERT ... RETURNING * and returns the inserted row.
func (s *Store) Insert(ctx context.Context, table string, data Values) (Row, error) {
	cols := sortedColumns(data)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = data[col]
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)

	res, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}

// Update builds UPDATE ... SET ... WHERE ... RETURNING *. WHERE placeholder
// ordinals continue after the SET ordinals; the Nth placeholder always
// matches the Nth positional argument.
func (s *Store) Update(ctx context.Context, table string, data Values, conds ...Condition) (Row, error) {
	if len(conds) == 0 {
		return nil, ErrEmptyPredicate
	}

	cols := sortedColumns(data)
	set := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(conds))
	for i, col := range cols {
		set[i] = fmt.Sprintf("%s = $%d", col, i+1)
		args = append(args, data[col])
	}

	clause, whereArgs := buildWhere(conds, len(cols)+1)
	args = append(args, whereArgs...)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s RETURNING *",
		table, strings.Join(set, ", "), clause,
	)

	res, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}

// Delete builds DELETE ... WHERE ... RETURNING * and returns the first
// deleted row, nil when nothing matched.
func (s *Store) Delete(ctx context.Context, table string, conds ...Condition) (Row, error) {
	if len(conds) == 0 {
		return nil, ErrEmptyPredicate
	}

	clause, args := buildWhere(conds, 1)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING *", table, clause)

	res, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}

// Transaction runs fn against a store bound to one database transaction.
// The transaction commits on a nil return, rolls back on any error (which
// is rethrown unchanged), and the connection is released on every path.
// This is the only way a transaction-scoped store is ever produced; the
// handle must not escape fn.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return errors.New("store: nested transactions are not supported")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &QueryError{Query: "BEGIN", Err: err}
	}

	scoped := &Store{exec: tx, log: s.log}
	if err := fn(scoped); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return &QueryError{Query: "COMMIT", Err: err}
	}
	return nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func sortedColumns(data Values) []string {
	cols := make([]string, 0, len(data))
	for col := range data {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
