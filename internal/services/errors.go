// Package services holds the transfer engine, the dead-letter handler and
// the user-facing account service.
//
// Transfer failures are a closed set of kinds carried by TransferError;
// callers dispatch on the Kind tag, never on message text. The queue
// consumer is the single place that turns a failure into retry or
// dead-letter; the HTTP layer maps kinds to status codes.
package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind identifies one failure class of the transfer pipeline.
type ErrorKind int

const (
	KindInvalidTransaction ErrorKind = iota
	KindDuplicateTransaction
	KindUserNotFound
	KindInsufficientFunds
	KindInfrastructure
)

// TransferError tags a failure with its kind.
type TransferError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransferError) Unwrap() error { return e.Err }

// StatusCode maps the failure class to the HTTP status the API reports.
func (e *TransferError) StatusCode() int {
	switch e.Kind {
	case KindInvalidTransaction, KindInsufficientFunds:
		return http.StatusBadRequest
	case KindDuplicateTransaction:
		return http.StatusConflict
	case KindUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func InvalidTransaction(err error) *TransferError {
	return &TransferError{Kind: KindInvalidTransaction, Message: "invalid transfer message", Err: err}
}

func DuplicateTransaction(id string) *TransferError {
	return &TransferError{Kind: KindDuplicateTransaction, Message: fmt.Sprintf("transaction %s already processed", id)}
}

func NotFound(subject string) *TransferError {
	return &TransferError{Kind: KindUserNotFound, Message: subject + " not found"}
}

func InsufficientFunds() *TransferError {
	return &TransferError{Kind: KindInsufficientFunds, Message: "insufficient funds"}
}

func Infrastructure(msg string, err error) *TransferError {
	return &TransferError{Kind: KindInfrastructure, Message: msg, Err: err}
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *TransferError
	return errors.As(err, &te) && te.Kind == kind
}

// Account-service errors, surfaced only through the HTTP layer.
var (
	// ErrUserAlreadyExists is returned when registering an email that is
	// already taken.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidCredentials is returned on login with an unknown email or
	// a wrong password; callers must not be able to tell which.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRecipientNotFound is returned when a transfer names a recipient
	// email with no account.
	ErrRecipientNotFound = errors.New("recipient not found")
)
