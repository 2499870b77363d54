package pipeline

import (
	"errors"
	"fmt"
)

// PreconditionError aborts a run before any side effect: the time window,
// timing rule, or a bound was violated.
type PreconditionError struct {
	Pipeline string
	Reason   string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for pipeline %s: %s", e.Pipeline, e.Reason)
}

// IsPreconditionError reports whether err is a PreconditionError.
// Uses errors.As to handle wrapped errors.
func IsPreconditionError(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// ConfigError marks a missing or invalid referenced document (pipeline,
// service, channel). Always fatal to the run.
type ConfigError struct {
	Kind string // "pipeline", "service", "channel", "action"
	Ref  string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %q: %v", e.Kind, e.Ref, e.Err)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// DenialError is a validation deny (similarity, forbidden topic, daily
// limit, interval) surfaced as a step failure. Reason is a human-readable
// string suitable for direct display.
type DenialError struct {
	Rule   string
	Reason string
}

func (e *DenialError) Error() string { return e.Reason }

// IsDenialError reports whether err is a DenialError.
func IsDenialError(err error) bool {
	var de *DenialError
	return errors.As(err, &de)
}

// SkipError signals a non-fatal skip from inside a handler, e.g. queue_pop
// on an empty queue. The step executor converts it to a skipped result.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

// StepError wraps a handler failure with its step name as it propagates to
// the orchestrator.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
