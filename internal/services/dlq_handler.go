package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/paywire/backend/internal/models"
	"github.com/paywire/backend/internal/repository"
)

// DLQHandler reconciles ledger state for messages that exhausted their
// retries. There is no escalation path past the dead-letter queue, so
// reconciliation errors are logged and the message is dropped rather than
// re-queued; re-queueing dead letters would livelock the pipeline.
type DLQHandler struct {
	transactions *repository.TransactionRepository
	log          zerolog.Logger
}

func NewDLQHandler(transactions *repository.TransactionRepository, log zerolog.Logger) *DLQHandler {
	return &DLQHandler{transactions: transactions, log: log}
}

// HandleMessage converges the ledger row for the message's transaction id
// to FAILED. Repeated delivery of the same id reaches the same state.
func (h *DLQHandler) HandleMessage(ctx context.Context, msg models.TransferMessage) {
	if msg.TransactionID == "" {
		h.log.Error().Interface("message", msg).Msg("transaction id missing in dead-letter message")
		return
	}

	existing, err := h.transactions.GetByID(ctx, msg.TransactionID)
	if err != nil {
		h.log.Error().Err(err).Str("transaction_id", msg.TransactionID).Msg("dead-letter lookup failed")
		return
	}

	if existing != nil {
		// An applied transfer must never be re-marked. A duplicate that
		// exhausted its retries lands here while the original row already
		// says SUCCESS.
		if existing.Status == models.StatusSuccess || existing.Status == models.StatusRefunded {
			h.log.Info().
				Str("transaction_id", msg.TransactionID).
				Str("status", string(existing.Status)).
				Msg("dead-letter message for settled transaction, leaving untouched")
			return
		}

		if err := h.transactions.UpdateStatus(ctx, msg.TransactionID, models.StatusFailed); err != nil {
			h.log.Error().Err(err).Str("transaction_id", msg.TransactionID).Msg("failed to mark transaction FAILED")
			return
		}
		h.log.Info().Str("transaction_id", msg.TransactionID).Msg("transaction status updated to FAILED")
		return
	}

	now := time.Now()
	if _, err := h.transactions.Create(ctx, &models.Transaction{
		ID:          msg.TransactionID,
		SenderID:    msg.UserID,
		RecipientID: msg.RecipientID,
		Amount:      models.MinorUnits(msg.Amount),
		Status:      models.StatusFailed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		h.log.Error().Err(err).Str("transaction_id", msg.TransactionID).Msg("failed to record FAILED transaction")
		return
	}
	h.log.Info().Str("transaction_id", msg.TransactionID).Msg("transaction recorded with status FAILED")
}
