package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/chatpay/internal/engine"
)

type fakeSweeper struct {
	mu     sync.Mutex
	calls  int
	result engine.SweepResult
	err    error
}

func (f *fakeSweeper) SweepInactive(context.Context) (engine.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeSweeper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestWorkerSweepsUntilCancelled(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{result: engine.SweepResult{Scanned: 2, ClosedCount: 1}}

	ctx, cancel := context.WithCancel(context.Background())
	done := StartWorker(ctx, sweeper, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("worker never swept")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	calls := sweeper.callCount()
	time.Sleep(20 * time.Millisecond)
	if sweeper.callCount() != calls {
		t.Fatal("worker kept sweeping after shutdown")
	}
}

func TestSweepSurvivesEveryOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ctx    func() context.Context
		result engine.SweepResult
		err    error
	}{
		{name: "nothing scanned", result: engine.SweepResult{}},
		{name: "scanned but still active", result: engine.SweepResult{Scanned: 1}},
		{name: "closed", result: engine.SweepResult{Scanned: 1, ClosedCount: 1}},
		{name: "error", err: errors.New("db down")},
		{name: "cancelled", err: context.Canceled, ctx: func() context.Context {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx()
			}
			sweeper := &fakeSweeper{result: tt.result, err: tt.err}
			sweep(ctx, sweeper)
			if sweeper.callCount() != 1 {
				t.Fatalf("expected one sweep, got %d", sweeper.callCount())
			}
		})
	}
}
