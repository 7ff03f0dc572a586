// Package repository provides typed accessors over the store. It keeps
// table names and row shapes out of the service layer and carries no
// business logic; store errors propagate unchanged.
package repository

import (
	"context"
	"time"

	"github.com/paywire/backend/internal/models"
	"github.com/paywire/backend/internal/store"
)

const transactionsTable = "transactions"

// TransactionRepository is scoped to the transactions ledger table.
type TransactionRepository struct {
	store *store.Store
}

func NewTransactionRepository(s *store.Store) *TransactionRepository {
	return &TransactionRepository{store: s}
}

// WithStore rebinds the repository to another store, typically one scoped
// to a transaction. The returned value must not outlive that scope.
func (r *TransactionRepository) WithStore(s *store.Store) *TransactionRepository {
	return &TransactionRepository{store: s}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	row, err := r.store.Insert(ctx, transactionsTable, store.Values{
		"id":           txn.ID,
		"sender_id":    txn.SenderID,
		"recipient_id": txn.RecipientID,
		"amount":       txn.Amount,
		"status":       string(txn.Status),
		"created_at":   txn.CreatedAt,
		"updated_at":   txn.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	return transactionFromRow(row), nil
}

// GetByID returns nil, nil when no ledger row exists for the id.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	row, err := r.store.Select(transactionsTable).Where(store.Eq("id", id)).Row(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return transactionFromRow(row), nil
}

func (r *TransactionRepository) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	_, err := r.store.Update(ctx, transactionsTable, store.Values{
		"status":     string(status),
		"updated_at": time.Now(),
	}, store.Eq("id", id))
	return err
}

func transactionFromRow(row store.Row) *models.Transaction {
	if row == nil {
		return nil
	}
	return &models.Transaction{
		ID:          row.String("id"),
		SenderID:    row.String("sender_id"),
		RecipientID: row.String("recipient_id"),
		Amount:      row.Int64("amount"),
		Status:      models.Status(row.String("status")),
		CreatedAt:   row.Time("created_at"),
		UpdatedAt:   row.Time("updated_at"),
	}
}
