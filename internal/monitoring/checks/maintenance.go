package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/tandem/internal/monitoring"
)

// JobWindow bounds how long a scheduled job may go without a successful run.
type JobWindow struct {
	Job    string
	MaxAge time.Duration
	// Critical jobs report down instead of degraded while they keep failing.
	Critical bool
}

// Maintenance reports on the scheduled jobs named by windows. Failing jobs degrade the
// result, critical ones take it down, and a job whose last success is older than its window
// is reported stale. Jobs that have not run yet are listed but do not affect the status.
func Maintenance(windows []JobWindow) monitoring.Check {
	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if len(windows) == 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "no maintenance jobs scheduled",
				Duration: time.Since(start),
			}
		}

		jobs := make(map[string]monitoring.MaintenanceJobSummary)
		for _, job := range monitoring.Snapshot().Maintenance.Jobs {
			jobs[job.Job] = job
		}

		status := monitoring.StatusUp
		var notes []string
		for _, window := range windows {
			job, ok := jobs[window.Job]
			if !ok || job.TotalRuns == 0 {
				notes = append(notes, window.Job+": pending first run")
				continue
			}

			if job.ConsecutiveFailures > 0 {
				if window.Critical {
					status = worstStatus(status, monitoring.StatusDown)
				} else {
					status = worstStatus(status, monitoring.StatusDegraded)
				}
				notes = append(notes, window.Job+": failing ("+job.LastError+")")
				continue
			}

			if window.MaxAge > 0 && start.Sub(job.LastSuccessAt) > window.MaxAge {
				status = worstStatus(status, monitoring.StatusDegraded)
				notes = append(notes, window.Job+": last success "+job.LastSuccessAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(notes, "; "),
			Duration: time.Since(start),
		}
	})
}

func worstStatus(current, candidate monitoring.ProbeStatus) monitoring.ProbeStatus {
	if current == monitoring.StatusDown || candidate == monitoring.StatusDown {
		return monitoring.StatusDown
	}
	if current == monitoring.StatusDegraded || candidate == monitoring.StatusDegraded {
		return monitoring.StatusDegraded
	}
	return monitoring.StatusUp
}
