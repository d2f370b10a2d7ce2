// Package store defines the interface for database implementations to the ledger microservice.
package store

import (
	"context"
	"errors"
)

// Balance denominations.
const (
	Fake string = "fake"
	Real string = "real"
)

// DB defines required methods for the ledger service
type DB interface {
	// GetOrCreateBalance returns the balance record for the user, creating a zeroed one if none exists.
	GetOrCreateBalance(ctx context.Context, userID int64) (Balance, error)
	// SetBalance overwrites only the denominations supplied. A nil pointer leaves that denomination untouched.
	SetBalance(ctx context.Context, userID int64, fake, real *float64) (Balance, error)
	// AdjustBalance adds or subtracts amount from the given denomination. Decreases are conditional on funds.
	AdjustBalance(ctx context.Context, userID int64, amount float64, kind string, decrease bool) (Balance, error)
	// Transfer moves amount of fake balance between users atomically and records a ledger entry.
	Transfer(ctx context.Context, fromUserID, toUserID int64, amount float64) (LedgerTx, error)
}

// Errors returned
var (
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrInvalidKind      = errors.New("kind must be fake or real")
	ErrInsufficientFake = errors.New("insufficient fake balance")
	ErrInsufficientReal = errors.New("insufficient real balance")
)
