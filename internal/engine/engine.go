// Package engine exposes the chat monetization operations. Every operation
// that changes a session runs as one store transaction covering the session
// record and the wallets it touches.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/chatpay/internal/billing"
	"github.com/ashureev/chatpay/internal/domain"
	"github.com/ashureev/chatpay/internal/ledger"
	"github.com/ashureev/chatpay/internal/roles"
	"github.com/ashureev/chatpay/internal/session"
	"github.com/ashureev/chatpay/internal/shared"
	"github.com/ashureev/chatpay/internal/store"
	"github.com/google/uuid"
)

// Config holds the engine's money constants.
type Config struct {
	DepositAmount              int64
	PlatformFeePercent         int
	FreeMessagesPerParticipant int
	InactivityTimeout          time.Duration
	Retry                      shared.RetryPolicy
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		DepositAmount:              100,
		PlatformFeePercent:         35,
		FreeMessagesPerParticipant: 3,
		InactivityTimeout:          48 * time.Hour,
		Retry:                      shared.DefaultRetryPolicy(),
	}
}

// RejectReason explains why a message was not sent.
type RejectReason string

const (
	ReasonDepositRequired RejectReason = "deposit_required"
	ReasonSessionClosed   RejectReason = "session_closed"
)

// MessageResult is the outcome of SubmitMessage.
type MessageResult struct {
	Allowed       bool         `json:"allowed"`
	Reason        RejectReason `json:"reason,omitempty"`
	Words         int          `json:"words"`
	Cost          int64        `json:"cost"`
	State         domain.State `json:"state"`
	EscrowBalance int64        `json:"escrow_balance"`
}

// DepositResult is the outcome of a successful Deposit.
type DepositResult struct {
	EscrowCredited int64                `json:"escrow_credited"`
	PlatformFee    int64                `json:"platform_fee"`
	Record         domain.DepositRecord `json:"deposit"`
}

// CloseResult is the outcome of CloseSession.
type CloseResult struct {
	Refunded      int64 `json:"refunded"`
	AlreadyClosed bool  `json:"already_closed"`
}

// SweepResult summarizes one inactivity sweep.
type SweepResult struct {
	Scanned     int `json:"scanned"`
	ClosedCount int `json:"closed_count"`
	Failed      int `json:"failed"`
}

// Sentinels that abort a transaction without writing anything.
var (
	errClosed      = errors.New("session already closed")
	errStillActive = errors.New("session active since scan")
)

// Engine is the chat monetization engine.
type Engine struct {
	repo     store.Repository
	resolver *roles.Resolver
	cfg      Config
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine backed by repo.
func New(repo store.Repository, resolver *roles.Resolver, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		resolver: resolver,
		cfg:      cfg,
		notifier: noopNotifier{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolveRoles decides payer, earner, rate and mode for a conversation.
func (e *Engine) ResolveRoles(a, b domain.ParticipantContext, initiatorID string) (domain.MonetizationRoles, error) {
	return e.resolver.Resolve(a, b, initiatorID)
}

// OpenSession persists a new session with fixed roles. Opening an existing
// session with the same participants returns the stored session unchanged;
// an empty sessionID gets a generated one.
func (e *Engine) OpenSession(ctx context.Context, sessionID string, r domain.MonetizationRoles, participantIDs [2]string) (*domain.ChatSession, error) {
	if err := validateParticipants(r, participantIDs); err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess := domain.NewChatSession(sessionID, participantIDs, r, e.cfg.FreeMessagesPerParticipant, e.now())
	err := e.repo.CreateSession(ctx, sess)
	if errors.Is(err, domain.ErrSessionExists) {
		existing, getErr := e.repo.GetSession(ctx, sessionID)
		if getErr != nil {
			return nil, fmt.Errorf("load existing session: %w", getErr)
		}
		if existing == nil || !sameParticipants(existing.ParticipantIDs, participantIDs) {
			return nil, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	e.logger.Info("Session opened",
		"session_id", sess.ID,
		"payer_id", r.PayerID,
		"earner_id", r.EarnerID,
		"mode", r.Mode,
		"words_per_token", r.WordsPerToken)
	e.notifier.Publish(newEvent(EventSessionOpened, sess, 0, sess.CreatedAt))
	return sess, nil
}

// StartSession resolves roles from participant contexts and opens the session.
func (e *Engine) StartSession(ctx context.Context, sessionID string, a, b domain.ParticipantContext, initiatorID string) (*domain.ChatSession, error) {
	r, err := e.ResolveRoles(a, b, initiatorID)
	if err != nil {
		return nil, err
	}
	return e.OpenSession(ctx, sessionID, r, [2]string{a.UserID, b.UserID})
}

// SubmitMessage admits, prices and bills one message. Insufficient escrow
// and closed sessions are reported in the result, not as errors.
func (e *Engine) SubmitMessage(ctx context.Context, sessionID, senderID, text string) (MessageResult, error) {
	var result MessageResult
	sess, err := e.mutate(ctx, "submit_message", sessionID, func(sess *domain.ChatSession, _ domain.BalanceReader) (domain.Effects, error) {
		result = MessageResult{}
		if sess.IsClosed() {
			return domain.Effects{}, errClosed
		}

		verdict, err := session.Admit(sess, senderID)
		if err != nil {
			return domain.Effects{}, err
		}

		var effects domain.Effects
		switch verdict {
		case session.DepositRequired:
			result.Reason = ReasonDepositRequired
			if senderID == sess.EarningSideID() {
				result.Words, result.Cost = billing.MessageCost(text, sess.Roles.WordsPerToken)
			}
			return domain.Effects{}, nil
		case session.Bill:
			result.Words, result.Cost = billing.MessageCost(text, sess.Roles.WordsPerToken)
			effects, err = ledger.DebitAndCredit(sess, result.Cost)
			if errors.Is(err, domain.ErrInsufficientEscrow) {
				if err := session.Transition(sess, domain.StateAwaitingDeposit); err != nil {
					return domain.Effects{}, err
				}
				result.Reason = ReasonDepositRequired
				return domain.Effects{}, nil
			}
			if err != nil {
				return domain.Effects{}, err
			}
		case session.Free:
		default:
			return domain.Effects{}, fmt.Errorf("%w: unexpected verdict %s", domain.ErrInvalidState, verdict)
		}

		result.Allowed = true
		session.RecordMessage(sess, e.now())
		return effects, nil
	})
	if errors.Is(err, errClosed) {
		return MessageResult{Reason: ReasonSessionClosed, State: domain.StateClosed}, nil
	}
	if err != nil {
		return MessageResult{}, err
	}

	result.State = sess.State
	result.EscrowBalance = sess.EscrowBalance

	switch {
	case result.Allowed && result.Cost > 0:
		e.logger.Debug("Message billed", "session_id", sessionID, "sender_id", senderID,
			"words", result.Words, "cost", result.Cost, "escrow_balance", sess.EscrowBalance)
		e.notifier.Publish(newEvent(EventMessageBilled, sess, result.Cost, e.now()))
	case result.Reason == ReasonDepositRequired:
		e.logger.Info("Deposit required", "session_id", sessionID, "sender_id", senderID,
			"cost", result.Cost, "escrow_balance", sess.EscrowBalance)
		e.notifier.Publish(newEvent(EventDepositRequired, sess, e.cfg.DepositAmount, e.now()))
	}
	return result, nil
}

// Deposit moves the fixed deposit from the payer's wallet into the session.
func (e *Engine) Deposit(ctx context.Context, sessionID, payerID string) (DepositResult, error) {
	var result DepositResult
	sess, err := e.mutate(ctx, "deposit", sessionID, func(sess *domain.ChatSession, wallets domain.BalanceReader) (domain.Effects, error) {
		effects, err := ledger.Deposit(sess, payerID, e.cfg.DepositAmount, e.cfg.PlatformFeePercent, wallets, e.now())
		if err != nil {
			return domain.Effects{}, err
		}
		result = DepositResult{
			EscrowCredited: effects.Deposit.EscrowCredit,
			PlatformFee:    effects.Deposit.PlatformFee,
			Record:         *effects.Deposit,
		}
		return effects, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			e.logger.Info("Deposit declined", "session_id", sessionID, "payer_id", payerID, "error", err)
		}
		return DepositResult{}, err
	}

	e.logger.Info("Deposit completed",
		"session_id", sessionID,
		"payer_id", payerID,
		"escrow_credited", result.EscrowCredited,
		"platform_fee", result.PlatformFee,
		"escrow_balance", sess.EscrowBalance)
	e.notifier.Publish(newEvent(EventDepositCompleted, sess, result.EscrowCredited, e.now()))
	return result, nil
}

// CloseSession settles and closes a session on behalf of closedBy, a
// participant or domain.ClosedBySystem. Closing twice refunds nothing.
func (e *Engine) CloseSession(ctx context.Context, sessionID, closedBy string) (CloseResult, error) {
	return e.closeSession(ctx, sessionID, closedBy, 0)
}

// closeSession closes a session. A positive minIdle makes the close
// conditional on the session having been idle for longer than minIdle.
func (e *Engine) closeSession(ctx context.Context, sessionID, closedBy string, minIdle time.Duration) (CloseResult, error) {
	if closedBy == "" {
		return CloseResult{}, fmt.Errorf("%w: closedBy is required", domain.ErrNotParticipant)
	}

	var refunded int64
	sess, err := e.mutate(ctx, "close_session", sessionID, func(sess *domain.ChatSession, _ domain.BalanceReader) (domain.Effects, error) {
		if sess.IsClosed() {
			return domain.Effects{}, errClosed
		}
		if closedBy != domain.ClosedBySystem && !sess.IsParticipant(closedBy) {
			return domain.Effects{}, fmt.Errorf("%w: %s in session %s", domain.ErrNotParticipant, closedBy, sess.ID)
		}
		if minIdle > 0 && sess.IdleFor(e.now()) <= minIdle {
			return domain.Effects{}, errStillActive
		}

		var effects domain.Effects
		var err error
		refunded, effects, err = ledger.RefundAndClose(sess, closedBy, e.now())
		return effects, err
	})
	if errors.Is(err, errClosed) {
		return CloseResult{AlreadyClosed: true}, nil
	}
	if err != nil {
		return CloseResult{}, err
	}

	e.logger.Info("Session closed",
		"session_id", sessionID,
		"closed_by", closedBy,
		"refunded", refunded,
		"total_consumed", sess.TotalConsumed)
	e.notifier.Publish(newEvent(EventSessionClosed, sess, refunded, e.now()))
	return CloseResult{Refunded: refunded}, nil
}

// SweepInactive closes every open session idle longer than the inactivity
// timeout. A session that saw activity after the scan is left open.
func (e *Engine) SweepInactive(ctx context.Context) (SweepResult, error) {
	cutoff := e.now().Add(-e.cfg.InactivityTimeout)
	ids, err := e.repo.ListInactiveSessions(ctx, cutoff)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list inactive sessions: %w", err)
	}

	result := SweepResult{Scanned: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		res, err := e.closeSession(ctx, id, domain.ClosedBySystem, e.cfg.InactivityTimeout)
		switch {
		case errors.Is(err, errStillActive):
			e.logger.Debug("Inactivity sweep skipped active session", "session_id", id)
		case err != nil:
			result.Failed++
			e.logger.Error("Inactivity sweep failed to close session", "session_id", id, "error", err)
		case !res.AlreadyClosed:
			result.ClosedCount++
		}
	}
	return result, nil
}

// GetSession returns a session snapshot.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	sess, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// ListDeposits returns a session's deposit history.
func (e *Engine) ListDeposits(ctx context.Context, sessionID string) ([]domain.DepositRecord, error) {
	if _, err := e.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.repo.ListDeposits(ctx, sessionID)
}

// Wallet returns a user's wallet balance.
func (e *Engine) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return e.repo.GetWallet(ctx, userID)
}

// CreditWallet tops up a user's wallet outside any session.
func (e *Engine) CreditWallet(ctx context.Context, userID string, amount int64) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrInvalidParticipants)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	balance, err := e.repo.CreditWallet(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	e.logger.Info("Wallet credited", "user_id", userID, "amount", amount, "balance", balance)
	return balance, nil
}

// Ping reports whether the backing store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.repo.Ping(ctx)
}

// mutate runs fn as one session transaction, verifies the money invariants
// on the result and retries lost lock races.
func (e *Engine) mutate(ctx context.Context, op, sessionID string, fn store.SessionMutation) (*domain.ChatSession, error) {
	var updated *domain.ChatSession
	err := shared.Retry(ctx, e.cfg.Retry, op, isConflict, func() error {
		var err error
		updated, err = e.repo.UpdateSession(ctx, sessionID, func(sess *domain.ChatSession, wallets domain.BalanceReader) (domain.Effects, error) {
			before := sess.Clone()
			effects, err := fn(sess, wallets)
			if err != nil {
				return domain.Effects{}, err
			}
			if err := domain.VerifyTransition(op, before, sess); err != nil {
				return domain.Effects{}, err
			}
			return effects, nil
		})
		return err
	})

	if errors.Is(err, domain.ErrInvariantViolation) {
		e.logger.Error("INVARIANT VIOLATION: money operation aborted",
			"op", op,
			"session_id", sessionID,
			"error", err)
	}
	return updated, err
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConcurrencyConflict)
}

func validateParticipants(r domain.MonetizationRoles, ids [2]string) error {
	if ids[0] == "" || ids[1] == "" || ids[0] == ids[1] {
		return fmt.Errorf("%w: need two distinct participant ids", domain.ErrInvalidParticipants)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if r.PayerID != ids[0] && r.PayerID != ids[1] {
		return fmt.Errorf("%w: payer %s is not a participant", domain.ErrInvalidRoles, r.PayerID)
	}
	if r.EarnerID != "" && r.EarnerID != ids[0] && r.EarnerID != ids[1] {
		return fmt.Errorf("%w: earner %s is not a participant", domain.ErrInvalidRoles, r.EarnerID)
	}
	return nil
}

func sameParticipants(a, b [2]string) bool {
	return (a[0] == b[0] && a[1] == b[1]) || (a[0] == b[1] && a[1] == b[0])
}
