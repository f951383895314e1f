package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/ashureev/chatpay/internal/domain"
)

type fakeWallets map[string]int64

func (f fakeWallets) Balance(userID string) (int64, error) {
	return f[userID], nil
}

type failingWallets struct{}

func (failingWallets) Balance(string) (int64, error) {
	return 0, errors.New("wallet store down")
}

func paidSession(state domain.State, earner string) *domain.ChatSession {
	roles := domain.MonetizationRoles{PayerID: "payer", EarnerID: earner, WordsPerToken: 11, Mode: domain.ModePaid, NeedsEscrow: true}
	sess := domain.NewChatSession("s1", [2]string{"payer", "earner"}, roles, 3, time.Unix(1000, 0))
	sess.State = state
	return sess
}

func TestSplitIsExact(t *testing.T) {
	t.Parallel()

	fee, escrow := Split(100, 35)
	if fee != 35 || escrow != 65 {
		t.Fatalf("Split(100, 35) = %d/%d, want 35/65", fee, escrow)
	}

	for amount := int64(1); amount <= 1000; amount++ {
		for _, pct := range []int{0, 1, 33, 35, 50, 99, 100} {
			fee, escrow := Split(amount, pct)
			if fee+escrow != amount {
				t.Fatalf("Split(%d, %d): %d + %d != %d", amount, pct, fee, escrow, amount)
			}
			if fee < 0 || escrow < 0 {
				t.Fatalf("Split(%d, %d) produced negative part", amount, pct)
			}
		}
	}
}

func TestDeposit(t *testing.T) {
	t.Parallel()

	sess := paidSession(domain.StateAwaitingDeposit, "earner")
	now := time.Unix(5000, 0)
	effects, err := Deposit(sess, "payer", 100, 35, fakeWallets{"payer": 150}, now)
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if sess.State != domain.StatePaidActive {
		t.Fatalf("expected paid_active, got %s", sess.State)
	}
	if sess.EscrowBalance != 65 || sess.TotalDeposited != 65 {
		t.Fatalf("expected escrow 65, got balance=%d deposited=%d", sess.EscrowBalance, sess.TotalDeposited)
	}
	rec := effects.Deposit
	if rec == nil || rec.PlatformFee != 35 || rec.EscrowCredit != 65 || rec.Amount != 100 {
		t.Fatalf("unexpected deposit record %+v", rec)
	}
	if len(effects.Deltas) != 1 || effects.Deltas[0] != (domain.BalanceDelta{UserID: "payer", Amount: -100}) {
		t.Fatalf("unexpected deltas %+v", effects.Deltas)
	}
	if !sess.LastActivityAt.Equal(now) {
		t.Fatalf("deposit should count as activity")
	}
}

func TestDepositFailures(t *testing.T) {
	t.Parallel()

	sess := paidSession(domain.StatePaidActive, "earner")
	if _, err := Deposit(sess, "payer", 100, 35, fakeWallets{"payer": 500}, time.Now()); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	sess = paidSession(domain.StateAwaitingDeposit, "earner")
	if _, err := Deposit(sess, "payer", 100, 35, fakeWallets{"payer": 99}, time.Now()); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if sess.State != domain.StateAwaitingDeposit || sess.EscrowBalance != 0 {
		t.Fatalf("failed deposit mutated session: %+v", sess)
	}

	if _, err := Deposit(sess, "earner", 100, 35, fakeWallets{"earner": 500}, time.Now()); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant for non-payer, got %v", err)
	}

	if _, err := Deposit(sess, "payer", 100, 35, failingWallets{}, time.Now()); err == nil {
		t.Fatal("expected wallet error to propagate")
	}
}

func TestDebitAndCredit(t *testing.T) {
	t.Parallel()

	sess := paidSession(domain.StatePaidActive, "earner")
	sess.EscrowBalance, sess.TotalDeposited = 65, 65

	costs := []int64{2, 5, 0, 7}
	var sum int64
	for _, c := range costs {
		before := sess.EscrowBalance
		effects, err := DebitAndCredit(sess, c)
		if err != nil {
			t.Fatalf("DebitAndCredit(%d) failed: %v", c, err)
		}
		sum += c
		if sess.EscrowBalance != before-c {
			t.Fatalf("escrow drifted: %d -> %d for cost %d", before, sess.EscrowBalance, c)
		}
		if c > 0 && (len(effects.Deltas) != 1 || effects.Deltas[0].UserID != "earner" || effects.Deltas[0].Amount != c) {
			t.Fatalf("expected earner credit of %d, got %+v", c, effects.Deltas)
		}
	}
	if sess.TotalConsumed != sum {
		t.Fatalf("total consumed %d, want %d", sess.TotalConsumed, sum)
	}
}

func TestDebitAndCreditPlatformEarner(t *testing.T) {
	t.Parallel()

	sess := paidSession(domain.StatePaidActive, "")
	sess.EscrowBalance, sess.TotalDeposited = 10, 10
	effects, err := DebitAndCredit(sess, 4)
	if err != nil {
		t.Fatalf("DebitAndCredit failed: %v", err)
	}
	if len(effects.Deltas) != 0 {
		t.Fatalf("platform earner must not produce credits, got %+v", effects.Deltas)
	}
	if sess.EscrowBalance != 6 || sess.TotalConsumed != 4 {
		t.Fatalf("unexpected balances: escrow=%d consumed=%d", sess.EscrowBalance, sess.TotalConsumed)
	}
}

func TestDebitAndCreditInsufficientEscrow(t *testing.T) {
	t.Parallel()

	sess := paidSession(domain.StatePaidActive, "earner")
	sess.EscrowBalance, sess.TotalDeposited = 1, 1
	_, err := DebitAndCredit(sess, 2)
	if !errors.Is(err, domain.ErrInsufficientEscrow) {
		t.Fatalf("expected ErrInsufficientEscrow, got %v", err)
	}
	if sess.EscrowBalance != 1 || sess.TotalConsumed != 0 {
		t.Fatalf("partial debit happened: %+v", sess)
	}
}

func TestRefundAndCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	sess := paidSession(domain.StatePaidActive, "earner")
	sess.EscrowBalance, sess.TotalDeposited = 40, 40
	now := time.Unix(9000, 0)

	refunded, effects, err := RefundAndClose(sess, "payer", now)
	if err != nil {
		t.Fatalf("RefundAndClose failed: %v", err)
	}
	if refunded != 40 || len(effects.Deltas) != 1 || effects.Deltas[0] != (domain.BalanceDelta{UserID: "payer", Amount: 40}) {
		t.Fatalf("unexpected refund %d %+v", refunded, effects.Deltas)
	}
	if sess.State != domain.StateClosed || sess.EscrowBalance != 0 || sess.ClosedBy != "payer" || sess.ClosedAt == nil {
		t.Fatalf("session not closed properly: %+v", sess)
	}

	snapshot := sess.Clone()
	refunded, effects, err = RefundAndClose(sess, domain.ClosedBySystem, now.Add(time.Hour))
	if err != nil || refunded != 0 || len(effects.Deltas) != 0 {
		t.Fatalf("second close should be a no-op, got %d %+v %v", refunded, effects, err)
	}
	if err := domain.VerifyTransition("close", snapshot, sess); err != nil {
		t.Fatalf("second close mutated session: %v", err)
	}
	if sess.ClosedBy != "payer" {
		t.Fatalf("closedBy overwritten: %s", sess.ClosedBy)
	}
}

func TestRefundAndCloseWithoutEscrow(t *testing.T) {
	t.Parallel()

	sess := paidSession(domain.StateFreeActive, "earner")
	refunded, effects, err := RefundAndClose(sess, "earner", time.Now())
	if err != nil {
		t.Fatalf("RefundAndClose failed: %v", err)
	}
	if refunded != 0 || len(effects.Deltas) != 0 {
		t.Fatalf("expected nothing to refund, got %d %+v", refunded, effects.Deltas)
	}
	if sess.State != domain.StateClosed {
		t.Fatalf("expected closed, got %s", sess.State)
	}
}
