package models

import (
	"math"
	"time"
)

// Status is the lifecycle state of a ledger row.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRefunded Status = "REFUNDED"
)

// Transaction represents one row of the transfer ledger.
// Amount is in integer minor units (cents).
type Transaction struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Amount      int64     `json:"amount"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TransferMessage is the wire shape published by the user service and
// consumed by the transfer worker. Amount is in original currency units.
type TransferMessage struct {
	TransactionID string  `json:"transactionId" validate:"required"`
	UserID        string  `json:"userId" validate:"required"`
	RecipientID   string  `json:"recipientId" validate:"required"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	Currency      string  `json:"currency" validate:"required"`
}

// MinorUnits converts an original-unit amount to integer minor units,
// rounding half away from zero. Every place an amount crosses into the
// ledger must go through this single rule so balances and ledger rows
// stay arithmetically consistent.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
