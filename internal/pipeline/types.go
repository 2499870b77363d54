// Package pipeline interprets declarative workflow definitions: ordered
// steps or dependency-ordered phases with variable substitution,
// conditional branching, and per-step failure policy.
//
// The step executor consults the rules engine before every side-effecting
// action and routes shared services (similarity validation, tone
// adaptation, approval requests) through an explicit registry. External
// effects (publishing, storage, notification) are reached only through the
// collaborator contracts in contracts.go, so a dry run can swap in
// synthetic successes without special-casing the orchestrator.
package pipeline

import (
	"time"
)

// Definition is one immutable pipeline document, loaded for a run.
// Exactly one of Steps or Phases is populated.
type Definition struct {
	ID       string
	Name     string
	Schedule string // cron-ish metadata; triggering is external

	Conditions *Conditions

	Steps  []Step
	Phases []Phase

	OnComplete []Step
	OnError    []Step

	Safety *SafetyOverrides
}

// Conditions are pipeline-level preconditions, evaluated unless the run is
// forced.
type Conditions struct {
	// TimeRange restricts runs to a clock window, "HH:MM" inclusive.
	// An end before the start wraps past midnight.
	TimeRangeStart string
	TimeRangeEnd   string

	// TimingCheck delegates to the rule engine's timing check.
	TimingCheck bool

	// MinConfidence is the pipeline's own floor: a non-optimal timing
	// verdict only blocks the run when the rule's confidence meets it.
	MinConfidence float64
}

// SafetyOverrides narrow (never widen) the bounds for this pipeline.
type SafetyOverrides struct {
	MaxPostsPerRun          int
	HumanizeDelayMinSeconds int
	HumanizeDelayMaxSeconds int
}

// Step is one executable unit. The envelope fields are shared; Exec holds
// exactly one payload variant, dispatched exhaustively at execution time.
type Step struct {
	Name string

	// Input is a template for the step's primary input value, usually a
	// ${...} reference to a prior step's output.
	Input string

	// Output names the context slot this step's result is stored under.
	// A step without Output is invisible to later steps.
	Output string

	// Condition gates the step; empty means run.
	Condition string

	// Enabled is "" (enabled), a boolean literal, or a condition string.
	Enabled string

	OnFail     OnFail
	MaxRetries int // rephrase attempts; only meaningful with OnFailRephrase

	Exec Exec
}

// Exec is the sealed one-of payload for a step.
// Exactly ActionExec, ServiceExec, QueryExec and ForEachExec implement it.
type Exec interface {
	execStep()
}

// ActionExec runs a built-in action by name.
type ActionExec struct {
	Action string
	Params map[string]any
}

func (ActionExec) execStep() {}

// ServiceExec calls a shared service by (category, id), e.g.
// validator/similarity or tone/casual.
type ServiceExec struct {
	Category string
	ID       string
	Params   map[string]any
}

func (ServiceExec) execStep() {}

// QueryExec runs a declarative data lookup against the storage
// collaborator.
type QueryExec struct {
	Query  string
	Params []any
}

func (QueryExec) execStep() {}

// ForEachExec iterates a named context source, running nested steps once
// per element with the loop variable in a shadowed scope.
type ForEachExec struct {
	// Expr is "<var> in <source>".
	Expr          string
	MaxIterations int // 0 means the source length
	Steps         []Step
}

func (ForEachExec) execStep() {}

// OnFail is a step's failure policy.
type OnFail string

const (
	// OnFailStop aborts the remaining sequence. The default.
	OnFailStop OnFail = "stop"
	// OnFailSkip converts the failure into a skip; inside a phase or
	// loop it also aborts the remaining scope.
	OnFailSkip OnFail = "skip"
	// OnFailContinue records the error and proceeds.
	OnFailContinue OnFail = "continue"
	// OnFailRephrase asks the content-regeneration collaborator for
	// replacement content and retries, up to MaxRetries times.
	OnFailRephrase OnFail = "rephrase"
)

// ValidOnFail reports whether p is a recognized policy.
func ValidOnFail(p OnFail) bool {
	switch p {
	case "", OnFailStop, OnFailSkip, OnFailContinue, OnFailRephrase:
		return true
	}
	return false
}

// Phase groups tasks. DependsOn orders phases; Parallel is a hint for a
// higher-level scheduler, tasks here always run sequentially.
type Phase struct {
	Name      string
	Tasks     []Task
	Parallel  bool
	DependsOn []string
	Condition string
}

// Task is the reduced step form used inside phases.
type Task struct {
	Action string
	Input  string
	Params map[string]any
	Output string
}

// step converts a task to a full step for the step executor.
func (t Task) step() Step {
	return Step{
		Name:   t.Action,
		Input:  t.Input,
		Output: t.Output,
		Exec:   ActionExec{Action: t.Action, Params: t.Params},
	}
}

// Options parameterize one orchestrator run.
type Options struct {
	// Force skips pipeline-level precondition checks.
	Force bool
	// DryRun makes every side-effecting dispatch return a synthetic
	// success without contacting collaborators.
	DryRun bool
	// Channel selects the channel profile and queue scope.
	Channel string
	// Verbose enables debug-level run logging.
	Verbose bool
	// Inputs are caller-supplied starting variables.
	Inputs map[string]any
}

// StepResult is the transient outcome of one step.
type StepResult struct {
	Name       string
	Success    bool
	Output     any
	Err        error
	Skipped    bool
	SkipReason string

	// fromHandler distinguishes a skip raised by the handler itself
	// (queue empty) from a condition/enabled skip; the former counts as
	// an executed step and ends its sequence.
	fromHandler bool

	// recordedErrs carries errors recorded by continue policies inside a
	// for_each scope. The enclosing sequence folds them into its own
	// aggregate so the loop step itself still succeeds.
	recordedErrs []string
}

// Stats are basic run metrics.
type Stats struct {
	StepsExecuted int
	Duration      time.Duration
}

// Result aggregates a whole run.
type Result struct {
	Success       bool
	StepsExecuted int
	Results       map[string]any
	StepResults   []StepResult
	Stats         Stats
	Errors        []string
	Err           error
	FailedStep    string
	Duration      time.Duration
}

// ChannelProfile describes the active channel for a run: which platform it
// publishes to and any persona metadata templates may reference.
type ChannelProfile struct {
	ID       string
	Platform string
	Persona  map[string]any
}
