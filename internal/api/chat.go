package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/ashureev/chatpay/internal/domain"
	"github.com/ashureev/chatpay/internal/identity"
	"github.com/go-chi/chi/v5"
)

// CreditTokenHeader carries the purchase flow's shared secret.
const CreditTokenHeader = "X-Credit-Token"

// ChatHandler handles session, message, deposit and wallet endpoints.
type ChatHandler struct {
	*Handler
	creditToken string
}

// NewChatHandler creates a new chat handler. An empty creditToken disables
// wallet top-ups outside development.
func NewChatHandler(base *Handler, creditToken string) *ChatHandler {
	return &ChatHandler{Handler: base, creditToken: creditToken}
}

// RegisterRoutes registers chat routes. Callers must already be identified.
//
// The role and session routes take ParticipantContext values in the body and
// trust them as given. They must only be reachable through the gateway, which
// fills the contexts from the profile service; clients never send them.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/roles/resolve", h.ResolveRoles)
		r.Post("/sessions", h.OpenSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Get("/deposits", h.ListDeposits)
			r.Post("/messages", h.SubmitMessage)
			r.Post("/deposit", h.Deposit)
			r.Post("/close", h.CloseSession)
		})
		r.Get("/wallets/me", h.GetWallet)
		r.Post("/wallets/{userID}/credit", h.CreditWallet)
	})
}

type participantsRequest struct {
	SessionID    string                      `json:"session_id,omitempty"`
	Participants []domain.ParticipantContext `json:"participants"`
	InitiatorID  string                      `json:"initiator_id"`
}

func (h *ChatHandler) readParticipants(w http.ResponseWriter, r *http.Request) (participantsRequest, bool) {
	var req participantsRequest
	if !decode(w, r, &req) {
		return req, false
	}
	if len(req.Participants) != 2 {
		Error(w, http.StatusBadRequest, "exactly_two_participants_required")
		return req, false
	}
	if req.InitiatorID == "" {
		req.InitiatorID = identity.UserIDFromContext(r.Context())
	}
	return req, true
}

// ResolveRoles previews the role decision for two gateway-supplied
// participant contexts.
func (h *ChatHandler) ResolveRoles(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readParticipants(w, r)
	if !ok {
		return
	}

	roles, err := h.svc.ResolveRoles(req.Participants[0], req.Participants[1], req.InitiatorID)
	if err != nil {
		domainError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, roles)
}

// OpenSession resolves roles and opens a session the caller takes part in.
// The participant contexts are gateway-supplied like in ResolveRoles.
func (h *ChatHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	req, ok := h.readParticipants(w, r)
	if !ok {
		return
	}
	if req.Participants[0].UserID != userID && req.Participants[1].UserID != userID {
		Error(w, http.StatusForbidden, "caller_not_participant")
		return
	}

	sess, err := h.svc.StartSession(r.Context(), req.SessionID, req.Participants[0], req.Participants[1], req.InitiatorID)
	if err != nil {
		domainError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

// loadOwnSession returns the session if the caller participates in it.
// Non-participants get the same 404 as a missing session.
func (h *ChatHandler) loadOwnSession(w http.ResponseWriter, r *http.Request) (*domain.ChatSession, bool) {
	sess, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		domainError(w, r, err)
		return nil, false
	}
	if !sess.IsParticipant(identity.UserIDFromContext(r.Context())) {
		Error(w, http.StatusNotFound, "session_not_found")
		return nil, false
	}
	return sess, true
}

// GetSession returns a session snapshot.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadOwnSession(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sess)
}

// ListDeposits returns a session's deposit history.
func (h *ChatHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadOwnSession(w, r)
	if !ok {
		return
	}

	deposits, err := h.svc.ListDeposits(r.Context(), sess.ID)
	if err != nil {
		domainError(w, r, err)
		return
	}
	if deposits == nil {
		deposits = []domain.DepositRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"deposits": deposits})
}

type messageRequest struct {
	Text string `json:"text"`
}

// SubmitMessage admits and bills a message sent by the caller. Rejections
// are reported with 200 and allowed=false.
func (h *ChatHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.SubmitMessage(r.Context(), chi.URLParam(r, "id"), identity.UserIDFromContext(r.Context()), req.Text)
	if err != nil {
		domainError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Deposit moves the fixed deposit from the caller's wallet into escrow.
func (h *ChatHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Deposit(r.Context(), chi.URLParam(r, "id"), identity.UserIDFromContext(r.Context()))
	if err != nil {
		domainError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// CloseSession closes the session on behalf of the caller.
func (h *ChatHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CloseSession(r.Context(), chi.URLParam(r, "id"), identity.UserIDFromContext(r.Context()))
	if err != nil {
		domainError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// GetWallet returns the caller's wallet.
func (h *ChatHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.svc.Wallet(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		domainError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, wallet)
}

type creditRequest struct {
	Amount int64 `json:"amount"`
}

// CreditWallet tops up a wallet. It is called by the purchase flow, not by
// end users, and requires the shared credit token.
func (h *ChatHandler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	if !h.creditAllowed(r) {
		Error(w, http.StatusForbidden, "credit_not_allowed")
		return
	}

	var req creditRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		Error(w, http.StatusBadRequest, "amount_must_be_positive")
		return
	}

	userID := chi.URLParam(r, "userID")
	balance, err := h.svc.CreditWallet(r.Context(), userID, req.Amount)
	if err != nil {
		domainError(w, r, err)
		return
	}
	slog.Info("Wallet top-up accepted", "user_id", userID, "amount", req.Amount, "by", identity.UserIDFromContext(r.Context()))
	JSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "balance": balance})
}

func (h *ChatHandler) creditAllowed(r *http.Request) bool {
	if h.creditToken == "" {
		return h.isDev
	}
	given := r.Header.Get(CreditTokenHeader)
	return subtle.ConstantTimeCompare([]byte(given), []byte(h.creditToken)) == 1
}
