package checks

import (
	"context"
	"time"

	"github.com/charlesng35/tandem/internal/monitoring"
)

const defaultStoreTimeout = 2 * time.Second

// Pinger represents the minimal interface required to probe a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store returns a probe that pings a backing store under a timeout. A nil pinger
// reports StatusDown so unregistered stores never count as live.
func Store(name string, pinger Pinger, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck(name, func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if pinger == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "store not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultStoreTimeout))
		defer cancel()

		if err := pinger.Ping(probeCtx); err != nil {
			result := monitoring.ResultFromError(name, err, time.Since(start))
			// A store that does not answer in time is not usable for routing.
			result.Status = monitoring.StatusDown
			return result
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
