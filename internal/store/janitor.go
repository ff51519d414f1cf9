package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// RETENTION SWEEP
// =============================================================================

// StartJanitor sweeps expired rooms every interval until ctx is cancelled.
// It returns a channel closed once the goroutine has exited.
func StartJanitor(ctx context.Context, sw Sweeper, interval time.Duration, log *zap.SugaredLogger) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Infof("[Janitor] Sweeping expired rooms every %v", interval)
		for {
			select {
			case <-ticker.C:
				removed, err := sw.Sweep(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Warnf("[Janitor] Sweep failed: %v", err)
					continue
				}
				if removed > 0 {
					log.Infof("[Janitor] Removed %d expired rooms", removed)
				}
			case <-ctx.Done():
				log.Infof("[Janitor] Stopped: %v", ctx.Err())
				return
			}
		}
	}()
	return done
}
