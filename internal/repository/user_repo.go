package repository

import (
	"context"
	"time"

	"github.com/paywire/backend/internal/models"
	"github.com/paywire/backend/internal/store"
)

const usersTable = "users"

// UserRepository is scoped to the users table. It serves the user-facing
// API service; the transfer worker reads and locks user rows through the
// store inside its own transaction.
type UserRepository struct {
	store *store.Store
}

func NewUserRepository(s *store.Store) *UserRepository {
	return &UserRepository{store: s}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	row, err := r.store.Insert(ctx, usersTable, store.Values{
		"id":            user.ID,
		"full_name":     user.FullName,
		"email":         user.Email,
		"password_hash": user.PasswordHash,
		"balance":       user.Balance,
		"created_at":    user.CreatedAt,
		"updated_at":    user.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	return userFromRow(row), nil
}

// GetByID returns nil, nil when the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	row, err := r.store.Select(usersTable).Where(store.Eq("id", id)).Row(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return userFromRow(row), nil
}

// GetByEmail returns nil, nil when no user carries the email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row, err := r.store.Select(usersTable).Where(store.Eq("email", email)).Row(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return userFromRow(row), nil
}

func (r *UserRepository) UpdateBalance(ctx context.Context, id string, balance int64) error {
	_, err := r.store.Update(ctx, usersTable, store.Values{
		"balance":    balance,
		"updated_at": time.Now(),
	}, store.Eq("id", id))
	return err
}

func userFromRow(row store.Row) *models.User {
	if row == nil {
		return nil
	}
	return &models.User{
		ID:           row.String("id"),
		FullName:     row.String("full_name"),
		Email:        row.String("email"),
		PasswordHash: row.String("password_hash"),
		Balance:      row.Int64("balance"),
		CreatedAt:    row.Time("created_at"),
		UpdatedAt:    row.Time("updated_at"),
	}
}
