package session

import (
	"errors"
	"testing"
	"time"

	"github.com/ashureev/chatpay/internal/domain"
)

func newSession(mode domain.Mode) *domain.ChatSession {
	roles := domain.MonetizationRoles{PayerID: "payer", EarnerID: "earner", WordsPerToken: 11, Mode: mode}
	switch mode {
	case domain.ModePaid:
		roles.NeedsEscrow = true
	case domain.ModeFreePoolCapped:
		roles.EarnerID = ""
		roles.FreeMessageLimit = 4
	case domain.ModeFreePoolUnmetered:
		roles.EarnerID = ""
		roles.FreeMessageLimit = domain.UnlimitedFreeMessages
	}
	return domain.NewChatSession("s1", [2]string{"payer", "earner"}, roles, 3, time.Unix(1000, 0))
}

func admit(t *testing.T, sess *domain.ChatSession, sender string) Verdict {
	t.Helper()
	v, err := Admit(sess, sender)
	if err != nil {
		t.Fatalf("Admit(%s) failed: %v", sender, err)
	}
	if v == Free {
		RecordMessage(sess, time.Unix(2000, 0))
	}
	return v
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	legal := [][2]domain.State{
		{domain.StateFreeActive, domain.StateAwaitingDeposit},
		{domain.StateFreeActive, domain.StateClosed},
		{domain.StateAwaitingDeposit, domain.StatePaidActive},
		{domain.StateAwaitingDeposit, domain.StateClosed},
		{domain.StatePaidActive, domain.StateAwaitingDeposit},
		{domain.StatePaidActive, domain.StateClosed},
	}
	for _, tr := range legal {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s -> %s to be legal", tr[0], tr[1])
		}
	}

	illegal := [][2]domain.State{
		{domain.StateFreeActive, domain.StatePaidActive},
		{domain.StateAwaitingDeposit, domain.StateFreeActive},
		{domain.StatePaidActive, domain.StateFreeActive},
		{domain.StateClosed, domain.StateFreeActive},
		{domain.StateClosed, domain.StatePaidActive},
		{domain.StateClosed, domain.StateClosed},
	}
	for _, tr := range illegal {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s -> %s to be illegal", tr[0], tr[1])
		}
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	t.Parallel()

	sess := newSession(domain.ModePaid)
	err := Transition(sess, domain.StatePaidActive)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if sess.State != domain.StateFreeActive {
		t.Fatalf("state changed on failed transition: %s", sess.State)
	}
}

func TestAdmitPaidIntroAllowance(t *testing.T) {
	t.Parallel()

	sess := newSession(domain.ModePaid)
	for i := 0; i < 3; i++ {
		if v := admit(t, sess, "payer"); v != Free {
			t.Fatalf("payer message %d: expected free, got %s", i+1, v)
		}
		if v := admit(t, sess, "earner"); v != Free {
			t.Fatalf("earner message %d: expected free, got %s", i+1, v)
		}
	}
	if sess.FreeRemaining["payer"] != 0 || sess.FreeRemaining["earner"] != 0 {
		t.Fatalf("expected allowance exhausted, got %v", sess.FreeRemaining)
	}

	if v := admit(t, sess, "earner"); v != DepositRequired {
		t.Fatalf("7th message: expected deposit_required, got %s", v)
	}
	if sess.State != domain.StateAwaitingDeposit {
		t.Fatalf("expected awaiting_deposit, got %s", sess.State)
	}
	if v := admit(t, sess, "payer"); v != DepositRequired {
		t.Fatalf("payer while awaiting deposit: expected deposit_required, got %s", v)
	}
}

func TestAdmitPaidPayerBeyondOwnAllowance(t *testing.T) {
	t.Parallel()

	sess := newSession(domain.ModePaid)
	for i := 0; i < 5; i++ {
		if v := admit(t, sess, "payer"); v != Free {
			t.Fatalf("payer message %d: expected free, got %s", i+1, v)
		}
	}
	if sess.State != domain.StateFreeActive {
		t.Fatalf("payer alone must not end the intro phase, got %s", sess.State)
	}
	if sess.FreeRemaining["payer"] != 0 || sess.FreeRemaining["earner"] != 3 {
		t.Fatalf("unexpected allowance %v", sess.FreeRemaining)
	}

	for i := 0; i < 3; i++ {
		if v := admit(t, sess, "earner"); v != Free {
			t.Fatalf("earner message %d: expected free, got %s", i+1, v)
		}
	}
	if v := admit(t, sess, "payer"); v != DepositRequired {
		t.Fatalf("payer after shared allowance: expected deposit_required, got %s", v)
	}
	if sess.State != domain.StateAwaitingDeposit {
		t.Fatalf("expected awaiting_deposit, got %s", sess.State)
	}
}

func TestAdmitPaidEarnerBeyondOwnAllowance(t *testing.T) {
	t.Parallel()

	sess := newSession(domain.ModePaid)
	for i := 0; i < 3; i++ {
		admit(t, sess, "earner")
	}
	if v := admit(t, sess, "earner"); v != DepositRequired {
		t.Fatalf("4th earner message: expected deposit_required, got %s", v)
	}
	if sess.FreeRemaining["payer"] != 3 {
		t.Fatalf("payer allowance must be untouched, got %v", sess.FreeRemaining)
	}
}

func TestAdmitPaidActive(t *testing.T) {
	t.Parallel()

	sess := newSession(domain.ModePaid)
	sess.State = domain.StatePaidActive

	if v := admit(t, sess, "payer"); v != Free {
		t.Fatalf("payer in paid_active: expected free, got %s", v)
	}
	if v := admit(t, sess, "earner"); v != Bill {
		t.Fatalf("earner in paid_active: expected bill, got %s", v)
	}
}

func TestAdmitCappedFreePool(t *testing.T) {
	t.Parallel()

	sess := newSession(domain.ModeFreePoolCapped)
	senders := []string{"payer", "earner", "earner", "payer"}
	for i, s := range senders {
		if v := admit(t, sess, s); v != Free {
			t.Fatalf("message %d: expected free, got %s", i+1, v)
		}
	}
	if v := admit(t, sess, "earner"); v != DepositRequired {
		t.Fatalf("expected deposit_required after cap, got %s", v)
	}
	if sess.State != domain.StateAwaitingDeposit {
		t.Fatalf("expected awaiting_deposit, got %s", sess.State)
	}
}

func TestAdmitUnmeteredNeverRequiresDeposit(t *testing.T) {
	t.Parallel()

	sess := newSession(domain.ModeFreePoolUnmetered)
	for i := 0; i < 500; i++ {
		sender := "payer"
		if i%2 == 1 {
			sender = "earner"
		}
		if v := admit(t, sess, sender); v != Free {
			t.Fatalf("message %d: expected free, got %s", i+1, v)
		}
	}
	if sess.State != domain.StateFreeActive {
		t.Fatalf("unmetered session left free_active: %s", sess.State)
	}
	if sess.MessageCount != 500 {
		t.Fatalf("expected 500 messages, got %d", sess.MessageCount)
	}
}

func TestAdmitClosedAndStrangers(t *testing.T) {
	t.Parallel()

	sess := newSession(domain.ModePaid)
	if _, err := Admit(sess, "mallory"); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	sess.State = domain.StateClosed
	if v := admit(t, sess, "earner"); v != SessionClosed {
		t.Fatalf("expected session_closed, got %s", v)
	}
}
