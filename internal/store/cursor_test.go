package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestCursor_SQL(t *testing.T) {
	s := &Store{}

	tests := []struct {
		name string
		c    *Cursor
		sql  string
		args []any
	}{
		{
			name: "bare select",
			c:    s.Select("users"),
			sql:  "SELECT * FROM users",
			args: []any{},
		},
		{
			name: "projection and order",
			c:    s.Select("users").Fields("id", "balance").OrderBy("created_at"),
			sql:  "SELECT id, balance FROM users ORDER BY created_at",
			args: []any{},
		},
		{
			name: "explicit conditions with row lock",
			c:    s.Select("users").Where(Eq("id", "u1")).ForUpdate(),
			sql:  "SELECT * FROM users WHERE id = $1 FOR UPDATE",
			args: []any{"u1"},
		},
		{
			name: "greater-or-equal prefix inferred",
			c:    s.Select("users").WhereMap(map[string]any{"balance": ">=500"}),
			sql:  "SELECT * FROM users WHERE balance >= $1",
			args: []any{"500"},
		},
		{
			name: "glob pattern becomes LIKE",
			c:    s.Select("users").WhereMap(map[string]any{"email": "a*@b.com"}),
			sql:  "SELECT * FROM users WHERE email LIKE $1",
			args: []any{"a%@b.com"},
		},
		{
			name: "question mark glob becomes underscore",
			c:    s.Select("users").WhereMap(map[string]any{"id": "u?"}),
			sql:  "SELECT * FROM users WHERE id LIKE $1",
			args: []any{"u_"},
		},
		{
			name: "map fields applied in sorted order",
			c:    s.Select("transactions").WhereMap(map[string]any{"status": "PENDING", "amount": ">100"}),
			sql:  "SELECT * FROM transactions WHERE amount > $1 AND status = $2",
			args: []any{"100", "PENDING"},
		},
		{
			name: "not-equals and less-than prefixes",
			c:    s.Select("transactions").WhereMap(map[string]any{"amount": "<=900", "status": "<>FAILED"}),
			sql:  "SELECT * FROM transactions WHERE amount <= $1 AND status <> $2",
			args: []any{"900", "FAILED"},
		},
		{
			name: "non-string values compare for equality",
			c:    s.Select("users").WhereMap(map[string]any{"balance": int64(500)}),
			sql:  "SELECT * FROM users WHERE balance = $1",
			args: []any{int64(500)},
		},
		{
			name: "explicit constructors bypass inference",
			c:    s.Select("users").Where(Gte("balance", 500), Like("email", "%@b.com")),
			sql:  "SELECT * FROM users WHERE balance >= $1 AND email LIKE $2",
			args: []any{500, "%@b.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.c.SQL()
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestCursor_Row(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	t.Run("first matching row", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("u1", int64(250)))

		row, err := s.Select("users").Where(Eq("id", "u1")).Row(ctx)
		assert.NoError(t, err)
		assert.Equal(t, int64(250), row.Int64("balance"))
	})

	t.Run("nil without error when nothing matched", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		row, err := s.Select("users").Where(Eq("id", "missing")).Row(ctx)
		assert.NoError(t, err)
		assert.Nil(t, row)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCursor_Value(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	t.Run("first projected column of the first row", func(t *testing.T) {
		mock.ExpectQuery(`SELECT balance FROM users WHERE id = \$1`).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(900)))

		v, err := s.Select("users").Fields("balance").Where(Eq("id", "u1")).Value(ctx)
		assert.NoError(t, err)
		assert.Equal(t, int64(900), v)
	})

	t.Run("requires explicit projection", func(t *testing.T) {
		_, err := s.Select("users").Where(Eq("id", "u1")).Value(ctx)
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCursor_Column(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT email FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).
			AddRow("a@b.com").
			AddRow("c@d.com"))

	emails, err := s.Select("users").Fields("email").Column(ctx, "email")
	assert.NoError(t, err)
	assert.Equal(t, []any{"a@b.com", "c@d.com"}, emails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCursor_Count(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM transactions WHERE status = \$1`).
		WithArgs("FAILED").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := s.Select("transactions").Where(Eq("status", "FAILED")).Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
