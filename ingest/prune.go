package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/karthikraju391/agent-dashboard/clock"
)

type AlertPruner interface {
	PruneAlerts(now time.Time) int
}

// RunPruner evicts expired alerts every interval until ctx is done. Reads
// evict on their own; this keeps the registry small between reads.
func RunPruner(ctx context.Context, p AlertPruner, clk clock.Clock, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	log := logger.With().Str("component", "alert-pruner").Logger()
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.PruneAlerts(clk.Now()); n > 0 {
				log.Debug().Int("removed", n).Msg("expired alerts pruned")
			}
		}
	}
}
