package passwordreset

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper calls Sweep every interval until ctx is done. Validation does
// not depend on it; it only keeps stale tokens from piling up.
func RunSweeper(ctx context.Context, m *Manager, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	log.Debug("Reset token sweeper attached", zap.Duration("tick_every", every))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				log.Error("Failed to sweep expired reset tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("Cleared expired reset tokens", zap.Int64("count", n))
			}
		}
	}
}
