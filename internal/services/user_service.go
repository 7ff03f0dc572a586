package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/paywire/backend/internal/models"
	"github.com/paywire/backend/internal/repository"
)

const profileCacheTTL = 5 * time.Minute

// TransferPublisher publishes a transfer-request message to the broker.
type TransferPublisher interface {
	Publish(ctx context.Context, msg models.TransferMessage) error
}

// UserService is the producer side of the pipeline: account registration,
// login, top-up, and transfer submission. It never mutates balances for a
// transfer; the ledger mutation belongs exclusively to the consumer's
// atomic transaction.
type UserService struct {
	users     *repository.UserRepository
	publisher TransferPublisher
	cache     *redis.Client
	log       zerolog.Logger
}

// NewUserService builds the service. cache may be nil to run without the
// profile read cache.
func NewUserService(users *repository.UserRepository, publisher TransferPublisher, cache *redis.Client, log zerolog.Logger) *UserService {
	return &UserService{users: users, publisher: publisher, cache: cache, log: log}
}

func (s *UserService) Register(ctx context.Context, fullName, email, password string) (*models.User, error) {
	email = strings.ToLower(email)

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return s.users.Create(ctx, &models.User{
		ID:           uuid.NewString(),
		FullName:     fullName,
		Email:        email,
		PasswordHash: string(hash),
		Balance:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Profile reads the user through the redis cache when one is configured.
// Cache failures are logged and ignored; Postgres stays authoritative.
func (s *UserService) Profile(ctx context.Context, userID string) (*models.User, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, profileKey(userID)).Bytes(); err == nil {
			var user models.User
			if json.Unmarshal(data, &user) == nil {
				return &user, nil
			}
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NotFound("user")
	}

	if s.cache != nil {
		if data, err := json.Marshal(user); err == nil {
			if err := s.cache.Set(ctx, profileKey(userID), data, profileCacheTTL).Err(); err != nil {
				s.log.Warn().Err(err).Str("user_id", userID).Msg("profile cache write failed")
			}
		}
	}
	return user, nil
}

// AddBalance credits a top-up directly to the user's balance and returns
// the new balance in minor units.
func (s *UserService) AddBalance(ctx context.Context, userID string, amount float64) (int64, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, NotFound("user")
	}

	newBalance := user.Balance + models.MinorUnits(amount)
	if err := s.users.UpdateBalance(ctx, user.ID, newBalance); err != nil {
		return 0, err
	}
	s.invalidateProfile(ctx, userID)
	return newBalance, nil
}

// Transfer validates the request and publishes the transfer message with a
// freshly generated transaction id. The balance check here is advisory;
// the authoritative check happens under the row lock in the consumer.
func (s *UserService) Transfer(ctx context.Context, userID, recipientEmail string, amount float64) (string, error) {
	sender, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if sender == nil {
		return "", NotFound("sender")
	}

	recipient, err := s.users.GetByEmail(ctx, strings.ToLower(recipientEmail))
	if err != nil {
		return "", err
	}
	if recipient == nil {
		return "", ErrRecipientNotFound
	}
	if recipient.ID == sender.ID {
		return "", InvalidTransaction(errors.New("cannot transfer to own account"))
	}

	if sender.Balance < models.MinorUnits(amount) {
		return "", InsufficientFunds()
	}

	msg := models.TransferMessage{
		TransactionID: uuid.NewString(),
		UserID:        sender.ID,
		RecipientID:   recipient.ID,
		Amount:        amount,
		Currency:      "USD",
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return "", Infrastructure("transfer publish failed", err)
	}

	s.log.Info().
		Str("transaction_id", msg.TransactionID).
		Str("sender_id", sender.ID).
		Str("recipient_id", recipient.ID).
		Msg("transfer message published")
	return msg.TransactionID, nil
}

func (s *UserService) invalidateProfile(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, profileKey(userID)).Err(); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("profile cache invalidation failed")
	}
}

func profileKey(userID string) string {
	return "profile:" + userID
}
