// Package session implements the chat session lifecycle state machine.
package session

import (
	"fmt"
	"time"

	"github.com/ashureev/chatpay/internal/domain"
)

// transitions lists the legal moves out of each state. PaidActive may fall
// back to AwaitingDeposit when escrow runs dry; nothing returns to FreeActive.
var transitions = map[domain.State][]domain.State{
	domain.StateFreeActive:      {domain.StateAwaitingDeposit, domain.StateClosed},
	domain.StateAwaitingDeposit: {domain.StatePaidActive, domain.StateClosed},
	domain.StatePaidActive:      {domain.StateAwaitingDeposit, domain.StateClosed},
	domain.StateClosed:          nil,
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to domain.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves sess to the target state or fails with ErrInvalidState.
func Transition(sess *domain.ChatSession, to domain.State) error {
	if !CanTransition(sess.State, to) {
		return fmt.Errorf("%w: cannot move session %s from %s to %s", domain.ErrInvalidState, sess.ID, sess.State, to)
	}
	sess.State = to
	return nil
}

// Verdict is the outcome of admitting one message.
type Verdict int

const (
	// Free messages are sent at zero cost.
	Free Verdict = iota
	// Bill messages are earner-authored and must be priced and debited from escrow.
	Bill
	// DepositRequired messages are rejected until the payer deposits.
	DepositRequired
	// SessionClosed messages are rejected because the session ended.
	SessionClosed
)

func (v Verdict) String() string {
	switch v {
	case Free:
		return "free"
	case Bill:
		return "bill"
	case DepositRequired:
		return "deposit_required"
	case SessionClosed:
		return "session_closed"
	default:
		return "unknown"
	}
}

// Admit decides how a message from senderID is handled before any cost is
// computed. It consumes free allowance and performs the FreeActive ->
// AwaitingDeposit transition when the allowance runs out.
func Admit(sess *domain.ChatSession, senderID string) (Verdict, error) {
	if sess.IsClosed() {
		return SessionClosed, nil
	}
	if !sess.IsParticipant(senderID) {
		return 0, fmt.Errorf("%w: %s in session %s", domain.ErrNotParticipant, senderID, sess.ID)
	}

	if sess.Roles.Mode == domain.ModeFreePoolUnmetered {
		return Free, nil
	}

	if sess.State == domain.StateFreeActive {
		if consumeFreeAllowance(sess, senderID) {
			return Free, nil
		}
		// A payer past their own allowance stays free until the earning side
		// has used its allowance too.
		if payerWaitsForEarnerIntro(sess, senderID) {
			return Free, nil
		}
		if err := Transition(sess, domain.StateAwaitingDeposit); err != nil {
			return 0, err
		}
	}

	switch sess.State {
	case domain.StateAwaitingDeposit:
		return DepositRequired, nil
	case domain.StatePaidActive:
		if senderID == sess.Roles.PayerID {
			return Free, nil
		}
		return Bill, nil
	default:
		return 0, fmt.Errorf("%w: unexpected state %s for session %s", domain.ErrInvalidState, sess.State, sess.ID)
	}
}

// consumeFreeAllowance spends one free message if any is left.
// Capped free-pool sessions share FreeMessageLimit across both participants;
// paid sessions give each participant their own intro counter.
func consumeFreeAllowance(sess *domain.ChatSession, senderID string) bool {
	switch sess.Roles.Mode {
	case domain.ModeFreePoolCapped:
		return sess.MessageCount < int64(sess.Roles.FreeMessageLimit)
	case domain.ModePaid:
		if sess.FreeRemaining[senderID] > 0 {
			sess.FreeRemaining[senderID]--
			return true
		}
	}
	return false
}

func payerWaitsForEarnerIntro(sess *domain.ChatSession, senderID string) bool {
	return sess.Roles.Mode == domain.ModePaid &&
		senderID == sess.Roles.PayerID &&
		sess.FreeRemaining[sess.EarningSideID()] > 0
}

// RecordMessage counts an accepted message as session activity.
func RecordMessage(sess *domain.ChatSession, now time.Time) {
	sess.MessageCount++
	sess.LastActivityAt = now
}
