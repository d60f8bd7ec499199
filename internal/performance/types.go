// Package performance provides the load test execution core: load patterns,
// virtual users, target executors and the per-run record collector.
package performance

import (
	"fmt"
	"strings"
	"time"
)

// LoadPattern governs how virtual-user start offsets are spread across the
// ramp-up window.
type LoadPattern string

const (
	// PatternConstant spreads start offsets linearly over the ramp window.
	PatternConstant LoadPattern = "CONSTANT"

	// PatternRampUp back-loads start offsets quadratically, so more users
	// start near the end of the ramp window.
	PatternRampUp LoadPattern = "RAMP_UP"

	// PatternStep starts users in four cohorts at 25/50/75/100% of the window.
	PatternStep LoadPattern = "STEP"
)

// ParseLoadPattern parses a pattern name. Both the canonical form ("RAMP_UP")
// and the config file form ("ramp-up") are accepted.
func ParseLoadPattern(s string) (LoadPattern, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	switch LoadPattern(normalized) {
	case PatternConstant, PatternRampUp, PatternStep:
		return LoadPattern(normalized), nil
	case "":
		return PatternConstant, nil
	default:
		return "", fmt.Errorf("unknown load pattern: %s", s)
	}
}

func (p LoadPattern) String() string {
	return string(p)
}

// LoadTestSpec describes one load test run. It is copied by the coordinator
// when a run starts and never modified afterwards.
type LoadTestSpec struct {
	// ID is the run identity. At most one run per ID may be RUNNING.
	// A random ID is assigned when empty.
	ID string `json:"id,omitempty"`

	// Name is a human-readable label used in logs and output.
	Name string `json:"name,omitempty"`

	VirtualUsers    int         `json:"virtualUsers"`
	DurationSeconds int         `json:"durationSeconds"`
	RampUpSeconds   int         `json:"rampUpSeconds"`
	ThinkTimeMs     int         `json:"thinkTimeMs"`
	LoadPattern     LoadPattern `json:"loadPattern"`

	// Target performs one unit of work per iteration.
	Target TargetExecutor `json:"-"`

	// Pacer, when set, is shared by every virtual user and waited on before
	// each call. The wait observes cancellation; the call does not.
	Pacer Pacer `json:"-"`
}

// Duration returns how long each virtual user keeps iterating.
func (s *LoadTestSpec) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

// RampUp returns the ramp-up window.
func (s *LoadTestSpec) RampUp() time.Duration {
	return time.Duration(s.RampUpSeconds) * time.Second
}

// ThinkTime returns the pause between iterations of the same user.
func (s *LoadTestSpec) ThinkTime() time.Duration {
	return time.Duration(s.ThinkTimeMs) * time.Millisecond
}

// Validate checks s and returns a *ValidationErrors listing every
// problem, or nil.
func (s *LoadTestSpec) Validate() error {
	errs := &ValidationErrors{}

	if s.VirtualUsers < 1 {
		errs.Add("virtualUsers", "must be at least 1")
	}
	if s.DurationSeconds <= 0 {
		errs.Add("durationSeconds", "must be greater than 0")
	}
	if s.RampUpSeconds < 0 {
		errs.Add("rampUpSeconds", "cannot be negative")
	}
	if s.ThinkTimeMs < 0 {
		errs.Add("thinkTimeMs", "cannot be negative")
	}
	switch s.LoadPattern {
	case PatternConstant, PatternRampUp, PatternStep, "":
	default:
		errs.Add("loadPattern", fmt.Sprintf("unknown load pattern: %s", s.LoadPattern))
	}
	if s.Target == nil {
		errs.Add("target", "target executor is required")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ExecutionRecord is the outcome of one target invocation.
type ExecutionRecord struct {
	Success bool `json:"success"`

	// LatencyMs is meaningful only when HasLatency is set, which is whenever
	// the call completed, successfully or not.
	LatencyMs  int64 `json:"latencyMs"`
	HasLatency bool  `json:"hasLatency"`

	Error string `json:"error,omitempty"`
}

// Succeeded builds a successful record with the given latency.
func Succeeded(latency time.Duration) ExecutionRecord {
	return ExecutionRecord{Success: true, LatencyMs: latency.Milliseconds(), HasLatency: true}
}

// Failed builds a failed record for a call that completed after latency.
func Failed(latency time.Duration, err error) ExecutionRecord {
	rec := ExecutionRecord{LatencyMs: latency.Milliseconds(), HasLatency: true}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// ValidationError represents a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}
