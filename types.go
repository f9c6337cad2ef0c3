package govern

import (
	"time"

	"github.com/awalker/govern/internal/health"
	"github.com/awalker/govern/internal/override"
	"github.com/awalker/govern/internal/rules"
)

// FileResult is the outcome of validating one file.
type FileResult struct {
	Path       string              `json:"path"`
	ArchID     string              `json:"archId,omitempty"`
	Skipped    bool                `json:"skipped,omitempty"` // no parser or no declared architecture
	SkipReason string              `json:"skipReason,omitempty"`
	Violations []rules.Violation   `json:"violations,omitempty"` // surviving after override filtering
	Suppressed []rules.Violation   `json:"suppressed,omitempty"`
	Overrides  []override.Override `json:"-"`
	Findings   []override.Finding  `json:"findings,omitempty"`
	Err        string              `json:"error,omitempty"` // per-file failure, run continues
}

// OverrideInfo pairs an override annotation with its expiry status at the
// time of the scan.
type OverrideInfo struct {
	override.Override
	Status string `json:"status"`
}

// Report aggregates one scan run.
type Report struct {
	RunID      string             `json:"runId"`
	StartedAt  time.Time          `json:"startedAt"`
	Duration   time.Duration      `json:"duration"`
	Files      []FileResult       `json:"files"`
	Clusters   []override.Cluster `json:"clusters,omitempty"`
	Health     []health.Finding   `json:"health,omitempty"`
	ErrorCount int                `json:"errorCount"`
	WarnCount  int                `json:"warnCount"`
}

// Passed reports whether the run surfaced no error-severity violations.
func (r *Report) Passed() bool {
	return r.ErrorCount == 0
}

// tally recomputes the severity counters from surviving violations.
func (r *Report) tally() {
	r.ErrorCount, r.WarnCount = 0, 0
	for _, f := range r.Files {
		for _, v := range f.Violations {
			switch v.Severity {
			case rules.SeverityWarning:
				r.WarnCount++
			default:
				r.ErrorCount++
			}
		}
	}
}
