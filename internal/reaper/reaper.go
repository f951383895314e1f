// Package reaper runs the background inactivity sweep that closes idle chat
// sessions and refunds their escrow.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/chatpay/internal/engine"
)

// Sweeper closes sessions idle past the inactivity timeout.
type Sweeper interface {
	SweepInactive(ctx context.Context) (engine.SweepResult, error)
}

// StartWorker runs a background goroutine that periodically sweeps for
// inactive sessions until ctx is cancelled. The returned channel is closed
// once the goroutine exits. Closed sessions are announced by the engine
// itself, so the worker only logs a per-sweep summary.
func StartWorker(ctx context.Context, sweeper Sweeper, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Inactivity reaper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, sweeper)
			case <-ctx.Done():
				slog.Info("Inactivity reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweep(ctx context.Context, sweeper Sweeper) {
	result, err := sweeper.SweepInactive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Inactivity reaper: sweep interrupted by shutdown", "error", err)
			return
		}
		slog.Error("Inactivity reaper failed to sweep sessions", "error", err)
		return
	}

	if result.Scanned == 0 {
		return
	}

	slog.Info("Inactivity reaper sweep completed",
		"scanned", result.Scanned,
		"closed", result.ClosedCount,
		"failed", result.Failed)
}
