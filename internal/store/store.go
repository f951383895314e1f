// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/chatpay/internal/domain"
)

// SessionMutation is a transaction function applied to one session record.
// It mutates sess in place and returns the wallet effects to commit with it.
// Returning an error rolls the whole transaction back.
type SessionMutation func(sess *domain.ChatSession, wallets domain.BalanceReader) (domain.Effects, error)

// Repository defines the interface for persisting sessions, deposits and wallets.
type Repository interface {
	// CreateSession inserts a new session. It returns domain.ErrSessionExists
	// if a session with the same ID is already stored.
	CreateSession(ctx context.Context, sess *domain.ChatSession) error

	// GetSession retrieves a session by ID. Returns nil, nil if not found.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// UpdateSession runs fn inside a single transaction scoped to the session
	// row and every wallet row its effects touch, then persists the result.
	// Lock contention is reported as domain.ErrConcurrencyConflict.
	UpdateSession(ctx context.Context, sessionID string, fn SessionMutation) (*domain.ChatSession, error)

	// ListInactiveSessions returns IDs of non-closed sessions idle since before cutoff.
	ListInactiveSessions(ctx context.Context, cutoff time.Time) ([]string, error)

	// ListDeposits returns the deposit records of a session, oldest first.
	ListDeposits(ctx context.Context, sessionID string) ([]domain.DepositRecord, error)

	// GetWallet returns a user's wallet; users without one have a zero balance.
	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)

	// CreditWallet adds amount to a user's wallet and returns the new balance.
	CreditWallet(ctx context.Context, userID string, amount int64) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
