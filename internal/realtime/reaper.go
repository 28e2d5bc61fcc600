package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunReaper sweeps h every interval until ctx ends.
func RunReaper(ctx context.Context, h *Hub, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := h.Sweep(h.clock.Now()); len(reaped) > 0 {
				h.logger.Info("reaped silent observers", zap.Int("count", len(reaped)))
			}
		}
	}
}
