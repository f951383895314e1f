package domain

import "time"

// DepositRecord is an append-only record of one payer deposit into a session.
// PlatformFee + EscrowCredit always equals Amount.
type DepositRecord struct {
	ID           string    `json:"deposit_id"`
	SessionID    string    `json:"session_id"`
	PayerID      string    `json:"payer_id"`
	Amount       int64     `json:"amount"`
	PlatformFee  int64     `json:"platform_fee"`
	EscrowCredit int64     `json:"escrow_credit"`
	CreatedAt    time.Time `json:"created_at"`
}

// BalanceDelta is a signed change to one user's external wallet balance.
type BalanceDelta struct {
	UserID string
	Amount int64
}

// Effects are the side effects a session mutation asks the store to commit
// in the same transaction as the session record.
type Effects struct {
	Deltas  []BalanceDelta
	Deposit *DepositRecord
}

// Merge appends other's effects to e.
func (e *Effects) Merge(other Effects) {
	e.Deltas = append(e.Deltas, other.Deltas...)
	if other.Deposit != nil {
		e.Deposit = other.Deposit
	}
}

// BalanceReader reads external wallet balances inside a session transaction.
type BalanceReader interface {
	Balance(userID string) (int64, error)
}

// Wallet is a user's spendable/earnable balance outside of escrow.
type Wallet struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}
