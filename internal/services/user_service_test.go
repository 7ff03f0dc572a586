package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/paywire/backend/internal/models"
	"github.com/paywire/backend/internal/repository"
	"github.com/paywire/backend/internal/store"
)

type fakePublisher struct {
	published []models.TransferMessage
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, msg models.TransferMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func newUserService(t *testing.T, cache *redis.Client) (*UserService, sqlmock.Sqlmock, *fakePublisher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pub := &fakePublisher{}
	s := store.New(db, zerolog.Nop())
	return NewUserService(repository.NewUserRepository(s), pub, cache, zerolog.Nop()), mock, pub
}

func expectUserByEmail(mock sqlmock.Sqlmock, email string, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT \* FROM users WHERE email = \$1`).
		WithArgs(email).
		WillReturnRows(rows)
}

func expectUserByID(mock sqlmock.Sqlmock, id string, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(rows)
}

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the user with a lowercased email", func(t *testing.T) {
		svc, mock, _ := newUserService(t, nil)

		expectUserByEmail(mock, "ada@b.com", sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(`INSERT INTO users \(balance, created_at, email, full_name, id, password_hash, updated_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\) RETURNING \*`).
			WithArgs(int64(0), sqlmock.AnyArg(), "ada@b.com", "Ada Lovelace", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "balance"}).
				AddRow("u1", "ada@b.com", "Ada Lovelace", int64(0)))

		user, err := svc.Register(ctx, "Ada Lovelace", "Ada@B.com", "s3cret")
		assert.NoError(t, err)
		assert.Equal(t, "ada@b.com", user.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc, mock, _ := newUserService(t, nil)

		expectUserByEmail(mock, "ada@b.com", sqlmock.NewRows([]string{"id", "email"}).AddRow("u1", "ada@b.com"))

		_, err := svc.Register(ctx, "Ada Lovelace", "ada@b.com", "s3cret")
		assert.ErrorIs(t, err, ErrUserAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserService_Login(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		svc, mock, _ := newUserService(t, nil)

		expectUserByEmail(mock, "ada@b.com", sqlmock.NewRows([]string{"id", "email", "password_hash"}).
			AddRow("u1", "ada@b.com", string(hash)))

		user, err := svc.Login(ctx, "Ada@B.com", "s3cret")
		assert.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, mock, _ := newUserService(t, nil)

		expectUserByEmail(mock, "ada@b.com", sqlmock.NewRows([]string{"id", "email", "password_hash"}).
			AddRow("u1", "ada@b.com", string(hash)))

		_, err := svc.Login(ctx, "ada@b.com", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		svc, mock, _ := newUserService(t, nil)

		expectUserByEmail(mock, "nobody@b.com", sqlmock.NewRows([]string{"id"}))

		_, err := svc.Login(ctx, "nobody@b.com", "s3cret")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestUserService_Profile(t *testing.T) {
	ctx := context.Background()

	t.Run("cache hit skips the database", func(t *testing.T) {
		cache, cacheMock := redismock.NewClientMock()
		svc, dbMock, _ := newUserService(t, cache)

		cached, err := json.Marshal(&models.User{ID: "u1", Email: "ada@b.com", Balance: 700})
		require.NoError(t, err)
		cacheMock.ExpectGet("profile:u1").SetVal(string(cached))

		user, err := svc.Profile(ctx, "u1")
		assert.NoError(t, err)
		assert.Equal(t, int64(700), user.Balance)
		assert.NoError(t, cacheMock.ExpectationsWereMet())
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("cache miss reads the database and fills the cache", func(t *testing.T) {
		cache, cacheMock := redismock.NewClientMock()
		svc, dbMock, _ := newUserService(t, cache)

		cacheMock.ExpectGet("profile:u1").RedisNil()
		expectUserByID(dbMock, "u1", sqlmock.NewRows([]string{"id", "email", "balance"}).
			AddRow("u1", "ada@b.com", int64(700)))
		cacheMock.Regexp().ExpectSet("profile:u1", `.*`, profileCacheTTL).SetVal("OK")

		user, err := svc.Profile(ctx, "u1")
		assert.NoError(t, err)
		assert.Equal(t, "ada@b.com", user.Email)
		assert.NoError(t, cacheMock.ExpectationsWereMet())
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("unknown user without a cache", func(t *testing.T) {
		svc, mock, _ := newUserService(t, nil)

		expectUserByID(mock, "ghost", sqlmock.NewRows([]string{"id"}))

		_, err := svc.Profile(ctx, "ghost")
		assert.True(t, IsKind(err, KindUserNotFound))
	})
}

func TestUserService_AddBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("credits minor units and invalidates the cached profile", func(t *testing.T) {
		cache, cacheMock := redismock.NewClientMock()
		svc, dbMock, _ := newUserService(t, cache)

		expectUserByID(dbMock, "u1", sqlmock.NewRows([]string{"id", "balance"}).AddRow("u1", int64(100)))
		dbMock.ExpectQuery(`UPDATE users SET balance = \$1, updated_at = \$2 WHERE id = \$3 RETURNING \*`).
			WithArgs(int64(2099), sqlmock.AnyArg(), "u1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("u1", int64(2099)))
		cacheMock.ExpectDel("profile:u1").SetVal(1)

		balance, err := svc.AddBalance(ctx, "u1", 19.99)
		assert.NoError(t, err)
		assert.Equal(t, int64(2099), balance)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, cacheMock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, mock, _ := newUserService(t, nil)

		expectUserByID(mock, "ghost", sqlmock.NewRows([]string{"id"}))

		_, err := svc.AddBalance(ctx, "ghost", 10)
		assert.True(t, IsKind(err, KindUserNotFound))
	})
}

func TestUserService_Transfer(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes the message without touching balances", func(t *testing.T) {
		svc, mock, pub := newUserService(t, nil)

		expectUserByID(mock, "u1", sqlmock.NewRows([]string{"id", "balance"}).AddRow("u1", int64(1000)))
		expectUserByEmail(mock, "bob@b.com", sqlmock.NewRows([]string{"id", "email"}).AddRow("u2", "bob@b.com"))

		txID, err := svc.Transfer(ctx, "u1", "Bob@B.com", 6.00)
		assert.NoError(t, err)
		assert.NotEmpty(t, txID)

		require.Len(t, pub.published, 1)
		msg := pub.published[0]
		assert.Equal(t, txID, msg.TransactionID)
		assert.Equal(t, "u1", msg.UserID)
		assert.Equal(t, "u2", msg.RecipientID)
		assert.Equal(t, 6.00, msg.Amount)
		assert.Equal(t, "USD", msg.Currency)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown recipient", func(t *testing.T) {
		svc, mock, pub := newUserService(t, nil)

		expectUserByID(mock, "u1", sqlmock.NewRows([]string{"id", "balance"}).AddRow("u1", int64(1000)))
		expectUserByEmail(mock, "nobody@b.com", sqlmock.NewRows([]string{"id"}))

		_, err := svc.Transfer(ctx, "u1", "nobody@b.com", 6.00)
		assert.ErrorIs(t, err, ErrRecipientNotFound)
		assert.Empty(t, pub.published)
	})

	t.Run("transfer to own account is rejected before publishing", func(t *testing.T) {
		svc, mock, pub := newUserService(t, nil)

		expectUserByID(mock, "u1", sqlmock.NewRows([]string{"id", "email", "balance"}).
			AddRow("u1", "ada@b.com", int64(1000)))
		expectUserByEmail(mock, "ada@b.com", sqlmock.NewRows([]string{"id", "email"}).
			AddRow("u1", "ada@b.com"))

		_, err := svc.Transfer(ctx, "u1", "ada@b.com", 6.00)
		assert.True(t, IsKind(err, KindInvalidTransaction))
		assert.Empty(t, pub.published)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("advisory balance check rejects before publishing", func(t *testing.T) {
		svc, mock, pub := newUserService(t, nil)

		expectUserByID(mock, "u1", sqlmock.NewRows([]string{"id", "balance"}).AddRow("u1", int64(500)))
		expectUserByEmail(mock, "bob@b.com", sqlmock.NewRows([]string{"id", "email"}).AddRow("u2", "bob@b.com"))

		_, err := svc.Transfer(ctx, "u1", "bob@b.com", 6.00)
		assert.True(t, IsKind(err, KindInsufficientFunds))
		assert.Empty(t, pub.published)
	})

	t.Run("broker failure surfaces as infrastructure", func(t *testing.T) {
		svc, mock, pub := newUserService(t, nil)
		pub.err = errors.New("channel closed")

		expectUserByID(mock, "u1", sqlmock.NewRows([]string{"id", "balance"}).AddRow("u1", int64(1000)))
		expectUserByEmail(mock, "bob@b.com", sqlmock.NewRows([]string{"id", "email"}).AddRow("u2", "bob@b.com"))

		_, err := svc.Transfer(ctx, "u1", "bob@b.com", 6.00)
		assert.True(t, IsKind(err, KindInfrastructure))
	})
}
