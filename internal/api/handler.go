// Package api provides HTTP handlers for the chat monetization API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/chatpay/internal/domain"
	"github.com/ashureev/chatpay/internal/engine"
)

const maxBodyBytes = 64 << 10

// ChatService is the engine surface the HTTP layer drives.
type ChatService interface {
	ResolveRoles(a, b domain.ParticipantContext, initiatorID string) (domain.MonetizationRoles, error)
	StartSession(ctx context.Context, sessionID string, a, b domain.ParticipantContext, initiatorID string) (*domain.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)
	ListDeposits(ctx context.Context, sessionID string) ([]domain.DepositRecord, error)
	SubmitMessage(ctx context.Context, sessionID, senderID, text string) (engine.MessageResult, error)
	Deposit(ctx context.Context, sessionID, payerID string) (engine.DepositResult, error)
	CloseSession(ctx context.Context, sessionID, closedBy string) (engine.CloseResult, error)
	Wallet(ctx context.Context, userID string) (*domain.Wallet, error)
	CreditWallet(ctx context.Context, userID string, amount int64) (int64, error)
}

// Handler provides common handler utilities.
type Handler struct {
	svc   ChatService
	isDev bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc ChatService, isDev bool) *Handler {
	return &Handler{svc: svc, isDev: isDev}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a bounded JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request_body")
		return false
	}
	return true
}

// domainError maps engine errors to HTTP responses.
func domainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		slog.Warn("Request lost a concurrency race", "path", r.URL.Path, "error", err)
	case status >= http.StatusInternalServerError:
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
	default:
		slog.Debug("Request rejected", "path", r.URL.Path, "code", code, "error", err)
	}
	Error(w, status, code)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvariantViolation):
		return http.StatusInternalServerError, "invariant_violation"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable, "concurrency_conflict"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrNotParticipant):
		return http.StatusConflict, "not_participant"
	case errors.Is(err, domain.ErrSessionExists):
		return http.StatusConflict, "session_exists"
	case errors.Is(err, domain.ErrInvalidParticipants), errors.Is(err, domain.ErrInvalidRoles):
		return http.StatusBadRequest, "invalid_participants"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
