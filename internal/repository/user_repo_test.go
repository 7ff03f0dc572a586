package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/paywire/backend/internal/models"
)

func TestUserRepository_Create(t *testing.T) {
	s, mock := newTestStore(t)
	repo := NewUserRepository(s)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO users \(balance, created_at, email, full_name, id, password_hash, updated_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\) RETURNING \*`).
		WithArgs(int64(0), now, "ada@b.com", "Ada Lovelace", "u1", "hashed", now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "balance"}).
			AddRow("u1", "ada@b.com", "Ada Lovelace", int64(0)))

	user, err := repo.Create(context.Background(), &models.User{
		ID:           "u1",
		FullName:     "Ada Lovelace",
		Email:        "ada@b.com",
		PasswordHash: "hashed",
		Balance:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	assert.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "ada@b.com", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByEmail(t *testing.T) {
	s, mock := newTestStore(t)
	repo := NewUserRepository(s)
	ctx := context.Background()

	t.Run("existing user", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM users WHERE email = \$1`).
			WithArgs("ada@b.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "balance"}).
				AddRow("u1", "ada@b.com", int64(1200)))

		user, err := repo.GetByEmail(ctx, "ada@b.com")
		assert.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
		assert.Equal(t, int64(1200), user.Balance)
	})

	t.Run("unknown email is nil, nil", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM users WHERE email = \$1`).
			WithArgs("nobody@b.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		user, err := repo.GetByEmail(ctx, "nobody@b.com")
		assert.NoError(t, err)
		assert.Nil(t, user)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_UpdateBalance(t *testing.T) {
	s, mock := newTestStore(t)
	repo := NewUserRepository(s)

	mock.ExpectQuery(`UPDATE users SET balance = \$1, updated_at = \$2 WHERE id = \$3 RETURNING \*`).
		WithArgs(int64(2500), sqlmock.AnyArg(), "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("u1", int64(2500)))

	err := repo.UpdateBalance(context.Background(), "u1", 2500)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
