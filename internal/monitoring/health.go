package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProbeStatus encodes the outcome of a health probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDown     ProbeStatus = "down"
	StatusDegraded ProbeStatus = "degraded"
)

// ProbeResult captures a single store or job check outcome.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Required  bool          `json:"required"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// HealthReport aggregates probe results for a liveness or readiness evaluation.
type HealthReport struct {
	Success bool          `json:"success"`
	Status  ProbeStatus   `json:"status"`
	Checks  []ProbeResult `json:"checks"`
}

// Policy decides how a set of probe results folds into one report.
type Policy int

const (
	// RequireRequired fails the report when a required check is not up. Optional checks that
	// fail only degrade it.
	RequireRequired Policy = iota
	// RequireAny succeeds while at least one check is up. Used for store availability, where
	// the service keeps serving degraded reads from any live store.
	RequireAny
)

// Check is a single named probe.
type Check struct {
	Name     string
	Required bool
	Run      func(ctx context.Context) ProbeResult
}

// NewCheck constructs an optional check.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Check{Name: name, Run: fn}
}

// AsRequired marks the check as one the service cannot run without.
func (c Check) AsRequired() Check {
	c.Required = true
	return c
}

// HealthManager holds the process liveness and readiness probes.
type HealthManager struct {
	livenessChecks  []Check
	readinessChecks []Check
}

// NewHealthManager constructs an empty health manager.
func NewHealthManager() *HealthManager {
	return &HealthManager{}
}

// RegisterLiveness appends a liveness probe.
func (m *HealthManager) RegisterLiveness(check Check) {
	if check.Name == "" {
		return
	}
	m.livenessChecks = append(m.livenessChecks, check)
}

// RegisterReadiness appends a readiness probe.
func (m *HealthManager) RegisterReadiness(check Check) {
	if check.Name == "" {
		return
	}
	m.readinessChecks = append(m.readinessChecks, check)
}

// EvaluateLiveness executes all configured liveness checks.
func (m *HealthManager) EvaluateLiveness(ctx context.Context) HealthReport {
	return Aggregate(runChecks(ctx, m.livenessChecks), RequireRequired)
}

// EvaluateReadiness executes all configured readiness checks. The process is ready while every
// required check is up; a failing mirror store only degrades the report.
func (m *HealthManager) EvaluateReadiness(ctx context.Context) HealthReport {
	return Aggregate(runChecks(ctx, m.readinessChecks), RequireRequired)
}

func runChecks(ctx context.Context, checks []Check) []ProbeResult {
	results := make([]ProbeResult, 0, len(checks))
	for _, check := range checks {
		results = append(results, RunCheck(ctx, check))
	}
	return results
}

// Aggregate folds results into a report under the given policy. An empty result set is up.
func Aggregate(results []ProbeResult, policy Policy) HealthReport {
	report := HealthReport{Success: true, Status: StatusUp, Checks: results}
	if report.Checks == nil {
		report.Checks = []ProbeResult{}
	}
	if len(results) == 0 {
		return report
	}

	up := 0
	requiredDown := false
	for _, result := range results {
		if result.Status == StatusUp {
			up++
			continue
		}
		if result.Required {
			requiredDown = true
		}
	}

	switch policy {
	case RequireAny:
		if up == 0 {
			report.Success = false
			report.Status = StatusDown
		} else if up < len(results) {
			report.Status = StatusDegraded
		}
	default:
		if requiredDown {
			report.Success = false
			report.Status = StatusDown
		} else if up < len(results) {
			report.Status = StatusDegraded
		}
	}
	return report
}

// RunCheck executes a single check, converting panics into a down result.
func RunCheck(ctx context.Context, check Check) (result ProbeResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			result = ProbeResult{Status: StatusDown, Details: panicDetails(rec)}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		result.Component = check.Name
		result.Required = check.Required
	}()

	return check.Run(ctx)
}

func panicDetails(rec any) string {
	switch v := rec.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("panic: %v", v)
	}
}

// ResultFromError converts a probe error into a result. Timeouts degrade, anything else is down.
func ResultFromError(component string, err error, duration time.Duration) ProbeResult {
	if duration < 0 {
		duration = 0
	}
	if err == nil {
		return ProbeResult{Component: component, Status: StatusUp, Duration: duration}
	}

	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}

	return ProbeResult{
		Component: component,
		Status:    status,
		Details:   err.Error(),
		Duration:  duration,
	}
}
