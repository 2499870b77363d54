package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/cadence/internal/rules"
)

// Runner is the top-level pipeline orchestrator. It owns the collaborator
// wiring and the service registry; each Run builds a fresh ExecContext
// from the source's current snapshots.
type Runner struct {
	source   Source
	storage  Storage
	services *Registry

	publishers map[string]Publisher
	notifier   Notifier
	rephraser  Rephraser
	tone       ToneAdapter

	now func() time.Time
	log *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPublisher registers a platform publisher.
func WithPublisher(p Publisher) RunnerOption {
	return func(r *Runner) { r.publishers[p.Platform()] = p }
}

// WithNotifier sets the outbound notification collaborator.
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

// WithRephraser sets the content-regeneration collaborator used by the
// rephrase failure policy.
func WithRephraser(re Rephraser) RunnerOption {
	return func(r *Runner) { r.rephraser = re }
}

// WithToneAdapter sets the tone-adaptation collaborator behind the tone
// service category.
func WithToneAdapter(t ToneAdapter) RunnerOption {
	return func(r *Runner) { r.tone = t }
}

// WithService registers or overrides one shared service.
func WithService(category, id string, fn ServiceFunc) RunnerOption {
	return func(r *Runner) { r.services.Register(category, id, fn) }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithRunLogger sets the run logger.
func WithRunLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// NewRunner wires an orchestrator over a config source and a storage
// collaborator. Built-in services are registered before options apply so
// options can override them.
func NewRunner(source Source, storage Storage, opts ...RunnerOption) *Runner {
	r := &Runner{
		source:     source,
		storage:    storage,
		services:   NewRegistry(),
		publishers: make(map[string]Publisher),
		now:        time.Now,
		log:        slog.Default(),
	}
	r.registerBuiltinServices(r.services)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Services exposes the registry so the config loader can validate service
// references at load time.
func (r *Runner) Services() *Registry { return r.services }

// Run executes one pipeline. A run always returns a Result with Duration
// and Stats populated; Err carries the unrecovered failure, if any.
func (r *Runner) Run(ctx context.Context, pipelineID string, opts Options) *Result {
	started := r.now()
	runID := uuid.Must(uuid.NewV7()).String()
	log := r.log.With("run_id", runID, "pipeline", pipelineID)

	result := &Result{Results: map[string]any{}}
	finish := func() *Result {
		result.Duration = r.now().Sub(started)
		result.Stats = Stats{StepsExecuted: result.StepsExecuted, Duration: result.Duration}
		log.Info("run finished",
			"success", result.Success,
			"steps", result.StepsExecuted,
			"duration", result.Duration,
		)
		return result
	}

	def, err := r.source.Pipeline(pipelineID)
	if err != nil {
		result.Err = &ConfigError{Kind: "pipeline", Ref: pipelineID, Err: err}
		return finish()
	}

	var channel *ChannelProfile
	if opts.Channel != "" {
		channel, err = r.source.Channel(opts.Channel)
		if err != nil {
			result.Err = &ConfigError{Kind: "channel", Ref: opts.Channel, Err: err}
			return finish()
		}
	}

	engine := rules.New(r.source.Bounds(), r.source.Rules(), r.storage,
		rules.WithNow(r.now), rules.WithLogger(log))
	ec := newExecContext(def, engine, channel, opts, started, log)
	result.Results = ec.Results

	log.Info("run starting", "dry_run", opts.DryRun, "force", opts.Force)

	if !opts.Force {
		if err := r.checkPreconditions(def, engine, started); err != nil {
			log.Info("preconditions rejected run", "reason", err)
			result.Err = err
			return finish()
		}
	}

	if len(def.Steps) > 0 {
		out := r.runSteps(ctx, ec, def.Steps, scopeRun, &result.StepResults)
		result.StepsExecuted = out.executed
		result.Errors = out.errs
		result.Err = out.err
	} else {
		phases, err := r.runPhases(ctx, ec, def.Phases, &result.StepResults)
		for _, pr := range phases {
			result.StepsExecuted += pr.TasksExecuted
			result.Errors = append(result.Errors, pr.Errors...)
		}
		result.Err = err
	}

	if result.Err != nil {
		var se *StepError
		if errors.As(result.Err, &se) {
			result.FailedStep = se.Step
		}
		ec.RecordError(result.Err)
		r.runHandlers(ctx, ec, def.OnError, "on_error")
		return finish()
	}

	result.Success = len(result.Errors) == 0
	if result.Success {
		r.runHandlers(ctx, ec, def.OnComplete, "on_complete")
	} else {
		// Recoverable step errors were recorded by continue policies;
		// the run completed but did not succeed.
		ec.RecordError(fmt.Errorf("%d step error(s)", len(result.Errors)))
		r.runHandlers(ctx, ec, def.OnError, "on_error")
	}
	return finish()
}

// checkPreconditions evaluates the pipeline-level gates: clock window and
// timing rule. A low-confidence timing rule never blocks a run.
func (r *Runner) checkPreconditions(def *Definition, engine *rules.Engine, now time.Time) error {
	cond := def.Conditions
	if cond == nil {
		return nil
	}

	if cond.TimeRangeStart != "" && cond.TimeRangeEnd != "" {
		ok, err := inClockWindow(now, cond.TimeRangeStart, cond.TimeRangeEnd)
		if err != nil {
			return &ConfigError{Kind: "pipeline", Ref: def.ID, Err: err}
		}
		if !ok {
			return &PreconditionError{Pipeline: def.ID, Reason: fmt.Sprintf(
				"outside time window %s-%s (now %s)",
				cond.TimeRangeStart, cond.TimeRangeEnd, now.Format("15:04"))}
		}
	}

	if cond.TimingCheck {
		verdict := engine.CheckTiming(false)
		if !verdict.Optimal && verdict.Confidence >= cond.MinConfidence {
			return &PreconditionError{Pipeline: def.ID,
				Reason: fmt.Sprintf("timing rule rejects run: %s (confidence %.2f)",
					verdict.Reason, verdict.Confidence)}
		}
	}
	return nil
}

// runHandlers executes completion/error handler steps. Each handler is
// individually condition-gated; handler failures are logged and never
// override the run's outcome.
func (r *Runner) runHandlers(ctx context.Context, ec *ExecContext, handlers []Step, kind string) {
	for i := range handlers {
		res := r.executeStep(ctx, ec, handlers[i])
		if res.Err != nil {
			ec.Log.Error("handler failed", "kind", kind,
				"handler", handlers[i].Name, "error", res.Err)
			continue
		}
		if res.Success && handlers[i].Output != "" {
			ec.Results[handlers[i].Output] = res.Output
		}
	}
}

// inClockWindow reports whether now's clock time falls in [start, end]
// inclusive. An end before the start wraps past midnight.
func inClockWindow(now time.Time, start, end string) (bool, error) {
	s, err := time.Parse("15:04", start)
	if err != nil {
		return false, fmt.Errorf("bad time window start %q: %w", start, err)
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return false, fmt.Errorf("bad time window end %q: %w", end, err)
	}

	mins := now.Hour()*60 + now.Minute()
	sm := s.Hour()*60 + s.Minute()
	em := e.Hour()*60 + e.Minute()

	if sm <= em {
		return mins >= sm && mins <= em, nil
	}
	// Overnight window, e.g. 22:00-06:00.
	return mins >= sm || mins <= em, nil
}
