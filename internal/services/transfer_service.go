package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/paywire/backend/internal/models"
	"github.com/paywire/backend/internal/repository"
	"github.com/paywire/backend/internal/store"
)

// TransferService applies transfer messages to the ledger exactly once.
// It is driven by the queue consumer and touches the database only through
// store-scoped transactions.
type TransferService struct {
	store        *store.Store
	transactions *repository.TransactionRepository
	validate     *validator.Validate
	log          zerolog.Logger
}

func NewTransferService(s *store.Store, transactions *repository.TransactionRepository, log zerolog.Logger) *TransferService {
	return &TransferService{
		store:        s,
		transactions: transactions,
		validate:     validator.New(),
		log:          log,
	}
}

// ProcessTransaction validates the message, enforces idempotency against
// redelivery, and executes the debit/credit/record sequence as one atomic
// unit. Every failure surfaces to the caller; retry versus dead-letter is
// the consumer's decision, not ours.
func (s *TransferService) ProcessTransaction(ctx context.Context, msg models.TransferMessage) error {
	if err := s.validate.Struct(&msg); err != nil {
		return InvalidTransaction(err)
	}
	// A self-transfer would read one row's balance twice and let the credit
	// overwrite the debit, minting the transfer amount.
	if msg.UserID == msg.RecipientID {
		return InvalidTransaction(errors.New("sender and recipient are the same account"))
	}

	existing, err := s.transactions.GetByID(ctx, msg.TransactionID)
	if err != nil {
		return Infrastructure("transaction lookup failed", err)
	}
	if existing != nil {
		return DuplicateTransaction(msg.TransactionID)
	}

	return s.store.Transaction(ctx, func(tx *store.Store) error {
		// Lock both user rows in ascending id order so concurrent
		// transfers over the same pair cannot deadlock.
		firstID, secondID := msg.UserID, msg.RecipientID
		if firstID > secondID {
			firstID, secondID = secondID, firstID
		}

		first, err := lockUser(ctx, tx, firstID)
		if err != nil {
			return Infrastructure("sender lock failed", err)
		}
		second, err := lockUser(ctx, tx, secondID)
		if err != nil {
			return Infrastructure("recipient lock failed", err)
		}

		sender, recipient := first, second
		if firstID != msg.UserID {
			sender, recipient = second, first
		}

		if sender == nil {
			return NotFound("sender")
		}
		if recipient == nil {
			return NotFound("recipient")
		}

		amount := models.MinorUnits(msg.Amount)
		if sender.Balance < amount {
			return InsufficientFunds()
		}

		now := time.Now()
		if _, err := tx.Update(ctx, "users", store.Values{
			"balance":    sender.Balance - amount,
			"updated_at": now,
		}, store.Eq("id", sender.ID)); err != nil {
			return Infrastructure("debit failed", err)
		}
		if _, err := tx.Update(ctx, "users", store.Values{
			"balance":    recipient.Balance + amount,
			"updated_at": now,
		}, store.Eq("id", recipient.ID)); err != nil {
			return Infrastructure("credit failed", err)
		}

		if _, err := s.transactions.WithStore(tx).Create(ctx, &models.Transaction{
			ID:          msg.TransactionID,
			SenderID:    msg.UserID,
			RecipientID: msg.RecipientID,
			Amount:      amount,
			Status:      models.StatusSuccess,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return Infrastructure("ledger insert failed", err)
		}

		s.log.Info().
			Str("transaction_id", msg.TransactionID).
			Str("sender_id", msg.UserID).
			Str("recipient_id", msg.RecipientID).
			Int64("amount", amount).
			Msg("transfer applied")
		return nil
	})
}

func lockUser(ctx context.Context, tx *store.Store, id string) (*models.User, error) {
	row, err := tx.Select("users").
		Where(store.Eq("id", id)).
		ForUpdate().
		Row(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return &models.User{
		ID:      row.String("id"),
		Balance: row.Int64("balance"),
	}, nil
}
