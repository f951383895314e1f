package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/chatpay/internal/domain"
	"github.com/ashureev/chatpay/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLiteStore(dbPath)
}

func newSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions take the write lock
	// up front so two mutations of the same session serialize instead of
	// failing at commit time.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		payer_id TEXT NOT NULL,
		earner_id TEXT,
		words_per_token INTEGER NOT NULL,
		mode TEXT NOT NULL,
		needs_escrow INTEGER NOT NULL,
		free_message_limit INTEGER NOT NULL,
		state TEXT NOT NULL,
		free_remaining_a INTEGER NOT NULL,
		free_remaining_b INTEGER NOT NULL,
		escrow_balance INTEGER NOT NULL DEFAULT 0 CHECK (escrow_balance >= 0),
		total_deposited INTEGER NOT NULL DEFAULT 0,
		total_consumed INTEGER NOT NULL DEFAULT 0,
		total_refunded INTEGER NOT NULL DEFAULT 0,
		message_count INTEGER NOT NULL DEFAULT 0,
		last_activity_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		closed_at INTEGER,
		closed_by TEXT,
		version INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_activity ON chat_sessions(last_activity_at) WHERE state != 'closed';

	CREATE TABLE IF NOT EXISTS deposit_records (
		deposit_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES chat_sessions(session_id),
		payer_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		platform_fee INTEGER NOT NULL,
		escrow_credit INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		CHECK (platform_fee + escrow_credit = amount)
	);
	CREATE INDEX IF NOT EXISTS idx_deposit_records_session ON deposit_records(session_id, created_at);

	CREATE TABLE IF NOT EXISTS wallets (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL CHECK (balance >= 0),
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const sessionColumns = `
	session_id, participant_a, participant_b, payer_id, earner_id,
	words_per_token, mode, needs_escrow, free_message_limit, state,
	free_remaining_a, free_remaining_b, escrow_balance, total_deposited,
	total_consumed, total_refunded, message_count, last_activity_at,
	created_at, closed_at, closed_by, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	var earnerID, closedBy sql.NullString
	var closedAt sql.NullInt64
	var freeA, freeB int
	var lastActivity, createdAt int64

	err := row.Scan(
		&sess.ID, &sess.ParticipantIDs[0], &sess.ParticipantIDs[1],
		&sess.Roles.PayerID, &earnerID, &sess.Roles.WordsPerToken,
		&sess.Roles.Mode, &sess.Roles.NeedsEscrow, &sess.Roles.FreeMessageLimit,
		&sess.State, &freeA, &freeB, &sess.EscrowBalance, &sess.TotalDeposited,
		&sess.TotalConsumed, &sess.TotalRefunded, &sess.MessageCount,
		&lastActivity, &createdAt, &closedAt, &closedBy, &sess.Version,
	)
	if err != nil {
		return nil, err
	}

	sess.Roles.EarnerID = earnerID.String
	sess.FreeRemaining = map[string]int{
		sess.ParticipantIDs[0]: freeA,
		sess.ParticipantIDs[1]: freeB,
	}
	sess.LastActivityAt = time.Unix(lastActivity, 0)
	sess.CreatedAt = time.Unix(createdAt, 0)
	if closedAt.Valid {
		ts := time.Unix(closedAt.Int64, 0)
		sess.ClosedAt = &ts
	}
	sess.ClosedBy = closedBy.String
	return &sess, nil
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nullUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.ChatSession) error {
	query := `
	INSERT INTO chat_sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.ParticipantIDs[0], sess.ParticipantIDs[1],
		sess.Roles.PayerID, nullString(sess.Roles.EarnerID), sess.Roles.WordsPerToken,
		string(sess.Roles.Mode), sess.Roles.NeedsEscrow, sess.Roles.FreeMessageLimit,
		string(sess.State), sess.FreeRemaining[sess.ParticipantIDs[0]], sess.FreeRemaining[sess.ParticipantIDs[1]],
		sess.EscrowBalance, sess.TotalDeposited, sess.TotalConsumed, sess.TotalRefunded,
		sess.MessageCount, sess.LastActivityAt.Unix(), sess.CreatedAt.Unix(),
		nullUnix(sess.ClosedAt), nullString(sess.ClosedBy), sess.Version,
	)
	if err != nil {
		return classify("insert session", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, sess.ID)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// UpdateSession applies fn to the session inside one immediate transaction.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, fn SessionMutation) (*domain.ChatSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin session transaction", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back session transaction", "session_id", sessionID, "error", rbErr)
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, classify("load session", err)
	}

	expectedVersion := sess.Version
	effects, err := fn(sess, &txWallets{ctx: ctx, tx: tx})
	if err != nil {
		return nil, err
	}
	sess.Version = expectedVersion + 1

	if err := updateSessionRow(ctx, tx, sess, expectedVersion); err != nil {
		return nil, err
	}

	now := s.now()
	for _, delta := range effects.Deltas {
		if err := applyDelta(ctx, tx, sessionID, delta, now); err != nil {
			return nil, err
		}
	}

	if rec := effects.Deposit; rec != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO deposit_records (deposit_id, session_id, payer_id, amount, platform_fee, escrow_credit, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.SessionID, rec.PayerID, rec.Amount, rec.PlatformFee, rec.EscrowCredit, rec.CreatedAt.Unix(),
		)
		if err != nil {
			return nil, classify("insert deposit record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit session transaction", err)
	}
	return sess, nil
}

func updateSessionRow(ctx context.Context, tx *sql.Tx, sess *domain.ChatSession, expectedVersion int64) error {
	query := `
	UPDATE chat_sessions SET
		state = ?, free_remaining_a = ?, free_remaining_b = ?,
		escrow_balance = ?, total_deposited = ?, total_consumed = ?, total_refunded = ?,
		message_count = ?, last_activity_at = ?, closed_at = ?, closed_by = ?, version = ?
	WHERE session_id = ? AND version = ?`

	result, err := tx.ExecContext(ctx, query,
		string(sess.State), sess.FreeRemaining[sess.ParticipantIDs[0]], sess.FreeRemaining[sess.ParticipantIDs[1]],
		sess.EscrowBalance, sess.TotalDeposited, sess.TotalConsumed, sess.TotalRefunded,
		sess.MessageCount, sess.LastActivityAt.Unix(), nullUnix(sess.ClosedAt), nullString(sess.ClosedBy), sess.Version,
		sess.ID, expectedVersion,
	)
	if err != nil {
		return classify("update session", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateSession affected 0 rows", "session_id", sess.ID, "expected_version", expectedVersion)
		return fmt.Errorf("%w: session %s changed since version %d", domain.ErrConcurrencyConflict, sess.ID, expectedVersion)
	}
	return nil
}

// applyDelta changes one wallet balance. Debits must never overdraw: the
// mutation already checked the balance inside this transaction, so a failed
// debit means money state is corrupt.
func applyDelta(ctx context.Context, tx *sql.Tx, sessionID string, delta domain.BalanceDelta, now time.Time) error {
	if delta.Amount == 0 {
		return nil
	}

	if delta.Amount > 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (user_id, balance, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				balance = wallets.balance + excluded.balance,
				updated_at = excluded.updated_at`,
			delta.UserID, delta.Amount, now.Unix(),
		)
		if err != nil {
			return classify("credit wallet", err)
		}
		return nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance = balance + ?, updated_at = ?
		WHERE user_id = ? AND balance + ? >= 0`,
		delta.Amount, now.Unix(), delta.UserID, delta.Amount,
	)
	if err != nil {
		return classify("debit wallet", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return &domain.InvariantError{
			Op:        "debit wallet",
			SessionID: sessionID,
			Detail:    fmt.Sprintf("wallet %s cannot cover %d", delta.UserID, -delta.Amount),
		}
	}
	return nil
}

// txWallets reads wallet balances through the session transaction.
type txWallets struct {
	ctx context.Context
	tx  *sql.Tx
}

func (w *txWallets) Balance(userID string) (int64, error) {
	var balance int64
	err := w.tx.QueryRowContext(w.ctx, `SELECT balance FROM wallets WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify("read wallet balance", err)
	}
	return balance, nil
}

// ListInactiveSessions returns non-closed sessions idle since before cutoff.
func (s *SQLiteStore) ListInactiveSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		SELECT session_id FROM chat_sessions
		WHERE state != ? AND last_activity_at < ?
		ORDER BY last_activity_at`

	rows, err := s.db.QueryContext(ctx, query, string(domain.StateClosed), cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("query inactive sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close inactive sessions rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan inactive session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inactive sessions: %w", err)
	}
	return ids, nil
}

// ListDeposits returns the deposit records of a session, oldest first.
func (s *SQLiteStore) ListDeposits(ctx context.Context, sessionID string) ([]domain.DepositRecord, error) {
	query := `
		SELECT deposit_id, session_id, payer_id, amount, platform_fee, escrow_credit, created_at
		FROM deposit_records WHERE session_id = ?
		ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query deposits: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close deposit rows", "error", closeErr)
		}
	}()

	var records []domain.DepositRecord
	for rows.Next() {
		var rec domain.DepositRecord
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.PayerID, &rec.Amount,
			&rec.PlatformFee, &rec.EscrowCredit, &createdAt); err != nil {
			return nil, fmt.Errorf("scan deposit row: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deposits: %w", err)
	}
	return records, nil
}

// GetWallet returns a user's wallet.
func (s *SQLiteStore) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	wallet := domain.Wallet{UserID: userID}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT balance, updated_at FROM wallets WHERE user_id = ?`, userID).
		Scan(&wallet.Balance, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &wallet, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet row: %w", err)
	}
	wallet.UpdatedAt = time.Unix(updatedAt, 0)
	return &wallet, nil
}

// CreditWallet adds a positive amount to a user's wallet.
func (s *SQLiteStore) CreditWallet(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	var balance int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			balance = wallets.balance + excluded.balance,
			updated_at = excluded.updated_at
		RETURNING balance`,
		userID, amount, s.now().Unix(),
	).Scan(&balance)
	if err != nil {
		return 0, classify("credit wallet", err)
	}
	return balance, nil
}

// classify maps SQLite lock contention onto domain.ErrConcurrencyConflict.
func classify(op string, err error) error {
	if shared.IsSQLiteConflictError(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConcurrencyConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
