package domain

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a chat session.
type State string

const (
	StateFreeActive      State = "free_active"
	StateAwaitingDeposit State = "awaiting_deposit"
	StatePaidActive      State = "paid_active"
	StateClosed          State = "closed"
)

// ClosedBySystem is recorded as closedBy when the inactivity reaper closes a session.
const ClosedBySystem = "system"

// ChatSession is the persisted record of one two-party monetized conversation.
type ChatSession struct {
	ID             string            `json:"session_id"`
	ParticipantIDs [2]string         `json:"participant_ids"`
	Roles          MonetizationRoles `json:"roles"`
	State          State             `json:"state"`
	// FreeRemaining holds exactly one intro allowance counter per participant.
	FreeRemaining  map[string]int `json:"free_remaining"`
	EscrowBalance  int64          `json:"escrow_balance"`
	TotalDeposited int64          `json:"total_deposited"`
	TotalConsumed  int64          `json:"total_consumed"`
	TotalRefunded  int64          `json:"total_refunded"`
	MessageCount   int64          `json:"message_count"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	CreatedAt      time.Time      `json:"created_at"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
	ClosedBy       string         `json:"closed_by,omitempty"`
	// Version is bumped on every committed mutation for optimistic locking.
	Version int64 `json:"version"`
}

// NewChatSession builds a session in its initial state.
func NewChatSession(id string, participantIDs [2]string, roles MonetizationRoles, freeAllowance int, now time.Time) *ChatSession {
	return &ChatSession{
		ID:             id,
		ParticipantIDs: participantIDs,
		Roles:          roles,
		State:          StateFreeActive,
		FreeRemaining: map[string]int{
			participantIDs[0]: freeAllowance,
			participantIDs[1]: freeAllowance,
		},
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// Clone returns a deep copy of the session.
func (s *ChatSession) Clone() *ChatSession {
	c := *s
	c.FreeRemaining = make(map[string]int, len(s.FreeRemaining))
	for k, v := range s.FreeRemaining {
		c.FreeRemaining[k] = v
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// IsParticipant reports whether userID is one of the two participants.
func (s *ChatSession) IsParticipant(userID string) bool {
	return userID != "" && (s.ParticipantIDs[0] == userID || s.ParticipantIDs[1] == userID)
}

// EarningSideID returns the participant opposite the payer. Their words are
// billable even when the platform, not they, receives the tokens.
func (s *ChatSession) EarningSideID() string {
	if s.ParticipantIDs[0] == s.Roles.PayerID {
		return s.ParticipantIDs[1]
	}
	return s.ParticipantIDs[0]
}

// IsClosed reports whether the session reached its terminal state.
func (s *ChatSession) IsClosed() bool {
	return s.State == StateClosed
}

// IdleFor returns how long the session has been inactive at now.
func (s *ChatSession) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(s.LastActivityAt)
	if idle < 0 {
		return 0
	}
	return idle
}

// VerifyTransition checks the money and lifecycle invariants between two
// snapshots of the same session. Any failure is an *InvariantError.
func VerifyTransition(op string, prev, next *ChatSession) error {
	fail := func(format string, args ...any) error {
		return &InvariantError{Op: op, SessionID: next.ID, Detail: fmt.Sprintf(format, args...)}
	}

	if prev.IsClosed() && !sameSnapshot(prev, next) {
		return fail("closed session was mutated")
	}
	if next.EscrowBalance < 0 {
		return fail("escrow balance is negative (%d)", next.EscrowBalance)
	}
	if next.TotalConsumed < prev.TotalConsumed {
		return fail("total consumed decreased from %d to %d", prev.TotalConsumed, next.TotalConsumed)
	}
	if next.MessageCount < prev.MessageCount {
		return fail("message count decreased from %d to %d", prev.MessageCount, next.MessageCount)
	}
	if next.TotalDeposited < prev.TotalDeposited || next.TotalRefunded < prev.TotalRefunded {
		return fail("deposit or refund totals decreased")
	}
	if limit := next.TotalDeposited - next.TotalConsumed - next.TotalRefunded; next.EscrowBalance > limit {
		return fail("escrow balance %d exceeds deposited-consumed-refunded %d", next.EscrowBalance, limit)
	}
	if prev.State != StateFreeActive && next.State == StateFreeActive {
		return fail("session re-entered %s from %s", StateFreeActive, prev.State)
	}
	if len(next.FreeRemaining) != 2 {
		return fail("expected 2 free message counters, found %d", len(next.FreeRemaining))
	}
	for id, n := range next.FreeRemaining {
		if n < 0 {
			return fail("free message counter for %s is negative", id)
		}
	}
	return nil
}

// sameSnapshot compares the fields a closed session must never change.
func sameSnapshot(a, b *ChatSession) bool {
	if a.State != b.State || a.EscrowBalance != b.EscrowBalance ||
		a.TotalDeposited != b.TotalDeposited || a.TotalConsumed != b.TotalConsumed ||
		a.TotalRefunded != b.TotalRefunded || a.MessageCount != b.MessageCount ||
		a.ClosedBy != b.ClosedBy || !a.LastActivityAt.Equal(b.LastActivityAt) {
		return false
	}
	for k, v := range a.FreeRemaining {
		if b.FreeRemaining[k] != v {
			return false
		}
	}
	return true
}
