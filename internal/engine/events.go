package engine

import (
	"time"

	"github.com/ashureev/chatpay/internal/domain"
)

// EventType names a committed session change pushed to participants.
type EventType string

const (
	EventSessionOpened    EventType = "session_opened"
	EventMessageBilled    EventType = "message_billed"
	EventDepositRequired  EventType = "deposit_required"
	EventDepositCompleted EventType = "deposit_completed"
	EventSessionClosed    EventType = "session_closed"
)

// Event is emitted after a session transaction commits.
type Event struct {
	Type          EventType    `json:"type"`
	SessionID     string       `json:"session_id"`
	Recipients    []string     `json:"-"`
	State         domain.State `json:"state"`
	EscrowBalance int64        `json:"escrow_balance"`
	Amount        int64        `json:"amount,omitempty"`
	At            time.Time    `json:"at"`
}

// Notifier receives committed session events. Publish must not block and
// delivery is best effort: billing outcomes never depend on it.
type Notifier interface {
	Publish(evt Event)
}

type noopNotifier struct{}

func (noopNotifier) Publish(Event) {}

func newEvent(t EventType, sess *domain.ChatSession, amount int64, at time.Time) Event {
	return Event{
		Type:          t,
		SessionID:     sess.ID,
		Recipients:    []string{sess.ParticipantIDs[0], sess.ParticipantIDs[1]},
		State:         sess.State,
		EscrowBalance: sess.EscrowBalance,
		Amount:        amount,
		At:            at,
	}
}
