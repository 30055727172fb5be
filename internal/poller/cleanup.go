package poller

import (
	"context"
	"log/slog"
	"time"
)

// LedgerSweeper deletes ledger rows older than a cutoff.
type LedgerSweeper interface {
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleanup is the ledger retention sweep. Dead letters are deliberately not
// swept here — those require operator judgment.
type Cleanup struct {
	ledger    LedgerSweeper
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

func NewCleanup(ledger LedgerSweeper, retention time.Duration, logger *slog.Logger) *Cleanup {
	return &Cleanup{
		ledger:    ledger,
		retention: retention,
		interval:  24 * time.Hour,
		logger:    logger,
	}
}

// Start runs the sweep on its schedule until the context is cancelled.
func (c *Cleanup) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps both ledgers.
func (c *Cleanup) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(-c.retention)

	removed, err := c.ledger.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		c.logger.Error("ledger retention sweep failed", "error", err)
		return
	}

	c.logger.Info("ledger retention sweep complete",
		"removed", removed,
		"cutoff", cutoff.Format(time.RFC3339),
	)
}
