// Package ledger holds the escrow transaction functions. Each function takes
// the prior session state, mutates it in place and returns the external
// wallet effects that must commit atomically with it.
package ledger

import (
	"fmt"
	"time"

	"github.com/ashureev/chatpay/internal/domain"
	"github.com/ashureev/chatpay/internal/session"
	"github.com/google/uuid"
)

// Split divides a deposit into the platform fee and the escrow credit.
// The fee is rounded down so fee + escrow always equals amount.
func Split(amount int64, feePercent int) (fee, escrow int64) {
	if amount <= 0 {
		return 0, 0
	}
	fee = amount * int64(feePercent) / 100
	return fee, amount - fee
}

// Deposit moves amount from the payer's wallet into the session: the fee to
// the platform and the remainder into escrow. The session must be awaiting a
// deposit and payerID must be its payer.
func Deposit(sess *domain.ChatSession, payerID string, amount int64, feePercent int, wallets domain.BalanceReader, now time.Time) (domain.Effects, error) {
	if sess.State != domain.StateAwaitingDeposit {
		return domain.Effects{}, fmt.Errorf("%w: session %s is %s, not %s",
			domain.ErrInvalidState, sess.ID, sess.State, domain.StateAwaitingDeposit)
	}
	if payerID != sess.Roles.PayerID {
		return domain.Effects{}, fmt.Errorf("%w: %s is not the payer of session %s",
			domain.ErrNotParticipant, payerID, sess.ID)
	}
	if amount <= 0 {
		return domain.Effects{}, fmt.Errorf("deposit amount must be positive, got %d", amount)
	}

	balance, err := wallets.Balance(payerID)
	if err != nil {
		return domain.Effects{}, fmt.Errorf("read payer balance: %w", err)
	}
	if balance < amount {
		return domain.Effects{}, fmt.Errorf("%w: payer %s has %d, deposit needs %d",
			domain.ErrInsufficientBalance, payerID, balance, amount)
	}

	fee, credit := Split(amount, feePercent)
	if err := session.Transition(sess, domain.StatePaidActive); err != nil {
		return domain.Effects{}, err
	}
	sess.EscrowBalance += credit
	sess.TotalDeposited += credit
	sess.LastActivityAt = now

	return domain.Effects{
		Deltas: []domain.BalanceDelta{{UserID: payerID, Amount: -amount}},
		Deposit: &domain.DepositRecord{
			ID:           uuid.NewString(),
			SessionID:    sess.ID,
			PayerID:      payerID,
			Amount:       amount,
			PlatformFee:  fee,
			EscrowCredit: credit,
			CreatedAt:    now,
		},
	}, nil
}

// DebitAndCredit draws cost from escrow and credits the earner immediately.
// When the platform is the earner nothing is credited. If escrow cannot
// cover cost the session is left untouched and ErrInsufficientEscrow is returned.
func DebitAndCredit(sess *domain.ChatSession, cost int64) (domain.Effects, error) {
	if sess.State != domain.StatePaidActive {
		return domain.Effects{}, fmt.Errorf("%w: cannot bill session %s in state %s",
			domain.ErrInvalidState, sess.ID, sess.State)
	}
	if cost < 0 {
		return domain.Effects{}, fmt.Errorf("cost must be non-negative, got %d", cost)
	}
	if sess.EscrowBalance < cost {
		return domain.Effects{}, fmt.Errorf("%w: session %s holds %d, message costs %d",
			domain.ErrInsufficientEscrow, sess.ID, sess.EscrowBalance, cost)
	}

	sess.EscrowBalance -= cost
	sess.TotalConsumed += cost

	if cost == 0 || sess.Roles.PlatformEarns() {
		return domain.Effects{}, nil
	}
	return domain.Effects{
		Deltas: []domain.BalanceDelta{{UserID: sess.Roles.EarnerID, Amount: cost}},
	}, nil
}

// RefundAndClose settles the session: remaining escrow goes back to the payer
// and the session becomes Closed. Closing an already closed session is a
// no-op that refunds nothing.
func RefundAndClose(sess *domain.ChatSession, closedBy string, now time.Time) (int64, domain.Effects, error) {
	if sess.IsClosed() {
		return 0, domain.Effects{}, nil
	}

	remaining := sess.EscrowBalance
	if err := session.Transition(sess, domain.StateClosed); err != nil {
		return 0, domain.Effects{}, err
	}
	sess.EscrowBalance = 0
	sess.TotalRefunded += remaining
	closedAt := now
	sess.ClosedAt = &closedAt
	sess.ClosedBy = closedBy

	var effects domain.Effects
	if remaining > 0 {
		effects.Deltas = []domain.BalanceDelta{{UserID: sess.Roles.PayerID, Amount: remaining}}
	}
	return remaining, effects, nil
}
