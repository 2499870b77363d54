package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/cadence/internal/vars"
)

// scopeKind tells runSteps how a skip-converted failure and a handler skip
// behave: at the run level a handler skip aborts the rest of the sequence
// gracefully; inside a loop or phase only the remaining scope is aborted.
type scopeKind int

const (
	scopeRun scopeKind = iota
	scopeLoop
)

// seqOutcome aggregates one step sequence.
type seqOutcome struct {
	executed int
	errs     []string
	err      error // unrecovered failure, aborts the caller
}

// runSteps executes a sequence under one scope, applying each step's
// failure policy.
func (r *Runner) runSteps(ctx context.Context, ec *ExecContext, steps []Step, scope scopeKind, collect *[]StepResult) seqOutcome {
	var out seqOutcome

	for i := range steps {
		step := steps[i]
		if err := ctx.Err(); err != nil {
			out.err = err
			return out
		}

		res := r.executeStep(ctx, ec, step)
		if collect != nil {
			*collect = append(*collect, res)
		}

		if res.Skipped {
			// Condition and enabled skips are branching: move on
			// without counting. A handler skip (queue empty) counts as
			// an executed step and gracefully ends the scope - there
			// is nothing left to feed the remaining steps.
			if res.fromHandler {
				out.executed++
				ec.Log.Info("step skipped, ending sequence",
					"step", step.Name, "reason", res.SkipReason)
				return out
			}
			ec.Log.Debug("step skipped", "step", step.Name, "reason", res.SkipReason)
			continue
		}

		out.executed++
		out.errs = append(out.errs, res.recordedErrs...)

		if res.Err != nil {
			policy := step.OnFail
			if policy == "" {
				policy = OnFailStop
			}
			switch policy {
			case OnFailSkip:
				ec.Log.Warn("step failed, skipping per policy",
					"step", step.Name, "error", res.Err)
				if scope == scopeLoop {
					// Skip aborts only the remaining loop/phase scope.
					return out
				}
				continue
			case OnFailContinue:
				ec.Log.Warn("step failed, continuing per policy",
					"step", step.Name, "error", res.Err)
				out.errs = append(out.errs, fmt.Sprintf("%s: %v", step.Name, res.Err))
				continue
			default: // OnFailStop, and rephrase that exhausted its retries
				out.err = &StepError{Step: step.Name, Err: res.Err}
				return out
			}
		}

		if step.Output != "" {
			ec.Results[step.Output] = res.Output
		}
	}
	return out
}

// executeStep runs one step: enable/condition gates, deep variable
// resolution, then exhaustive dispatch on the executable variant. The
// failure policy is applied by the caller; rephrase retries happen here
// because they need the resolved input.
func (r *Runner) executeStep(ctx context.Context, ec *ExecContext, step Step) StepResult {
	res := StepResult{Name: step.Name}
	tmpl := ec.Tmpl()

	if step.Enabled != "" && !vars.Evaluate(step.Enabled, tmpl) {
		res.Skipped = true
		res.SkipReason = "disabled"
		return res
	}
	if step.Condition != "" && !vars.Evaluate(step.Condition, tmpl) {
		res.Skipped = true
		res.SkipReason = step.Condition
		return res
	}

	input := vars.Resolve(step.Input, tmpl)
	output, recorded, err := r.dispatch(ctx, ec, step, input, tmpl)

	if err != nil && step.OnFail == OnFailRephrase && r.rephraser != nil {
		output, recorded, err = r.rephraseRetry(ctx, ec, step, input, tmpl, err)
	}

	if err != nil {
		var skip *SkipError
		if errors.As(err, &skip) {
			res.Skipped = true
			res.SkipReason = skip.Reason
			res.fromHandler = true
			return res
		}
		res.Err = err
		return res
	}

	res.Success = true
	res.Output = output
	res.recordedErrs = recorded
	return res
}

// dispatch routes a step to its handler by executable variant. The middle
// return carries errors a for_each loop recorded via continue policies;
// they belong to the enclosing sequence, not to the loop step itself.
func (r *Runner) dispatch(ctx context.Context, ec *ExecContext, step Step, input string, tmpl map[string]any) (any, []string, error) {
	switch exec := step.Exec.(type) {
	case ActionExec:
		params, _ := vars.ResolveDeep(exec.Params, tmpl).(map[string]any)
		out, err := r.dispatchAction(ctx, ec, exec.Action, input, params)
		return out, nil, err

	case ServiceExec:
		key := ServiceKey{Category: exec.Category, ID: exec.ID}
		fn, ok := r.services.Lookup(key)
		if !ok {
			return nil, nil, &ConfigError{Kind: "service", Ref: key.String()}
		}
		params, _ := vars.ResolveDeep(exec.Params, tmpl).(map[string]any)
		out, err := fn(ctx, ec, input, params)
		return out, nil, err

	case QueryExec:
		query := vars.Resolve(exec.Query, tmpl)
		args := make([]any, len(exec.Params))
		for i, p := range exec.Params {
			args[i] = vars.ResolveDeep(p, tmpl)
		}
		rows, err := r.storage.Query(ctx, query, args...)
		if err != nil {
			return nil, nil, fmt.Errorf("query: %w", err)
		}
		return rows, nil, nil

	case ForEachExec:
		return r.runForEach(ctx, ec, exec, tmpl)

	case nil:
		return nil, nil, &ConfigError{Kind: "step", Ref: step.Name,
			Err: fmt.Errorf("no executable form")}

	default:
		return nil, nil, &ConfigError{Kind: "step", Ref: step.Name,
			Err: fmt.Errorf("unknown executable form %T", exec)}
	}
}

// rephraseRetry asks the content-regeneration collaborator for replacement
// content and re-dispatches, up to MaxRetries times. This is not a blind
// retry: each attempt runs with new content.
func (r *Runner) rephraseRetry(ctx context.Context, ec *ExecContext, step Step, input string, tmpl map[string]any, cause error) (any, []string, error) {
	retries := step.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	err := cause
	for attempt := 1; attempt <= retries; attempt++ {
		rephrased, rerr := r.rephraser.Rephrase(ctx, input, err.Error())
		if rerr != nil {
			return nil, nil, fmt.Errorf("rephrase attempt %d: %w", attempt, rerr)
		}
		ec.Log.Info("retrying with rephrased content",
			"step", step.Name, "attempt", attempt)

		var output any
		var recorded []string
		output, recorded, err = r.dispatch(ctx, ec, step, rephrased, tmpl)
		if err == nil {
			return output, recorded, nil
		}
		input = rephrased
	}
	return nil, nil, fmt.Errorf("rephrase retries exhausted: %w", err)
}

// runForEach parses "<var> in <source>", resolves the source to a sequence
// and runs the nested steps once per element in a shadowed scope, bounded
// by MaxIterations. Errors recorded by continue policies inside the loop
// surface in the second return and stay recoverable; only a stop failure
// fails the loop step itself.
func (r *Runner) runForEach(ctx context.Context, ec *ExecContext, exec ForEachExec, tmpl map[string]any) (any, []string, error) {
	loopVar, source, err := parseForEach(exec.Expr)
	if err != nil {
		return nil, nil, err
	}

	raw, ok := vars.Lookup(tmpl, source)
	if !ok {
		return nil, nil, fmt.Errorf("for_each source %q not found in context", source)
	}
	elements, err := toSequence(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("for_each source %q: %w", source, err)
	}

	iterations := len(elements)
	if exec.MaxIterations > 0 && exec.MaxIterations < iterations {
		iterations = exec.MaxIterations
	}

	total := 0
	var errs []string
	for i := 0; i < iterations; i++ {
		child := ec.childScope(loopVar, elements[i], i)
		out := r.runSteps(ctx, child, exec.Steps, scopeLoop, nil)
		total += out.executed
		errs = append(errs, out.errs...)
		if out.err != nil {
			return nil, nil, fmt.Errorf("iteration %d: %w", i, out.err)
		}
	}
	return map[string]any{"iterations": iterations, "steps": total}, errs, nil
}

// parseForEach splits a "<var> in <source>" loop expression.
func parseForEach(expr string) (loopVar, source string, err error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 || parts[1] != "in" {
		return "", "", fmt.Errorf("for_each expression %q is not \"<var> in <source>\"", expr)
	}
	source = strings.TrimPrefix(parts[2], "${")
	source = strings.TrimSuffix(source, "}")
	return parts[0], source, nil
}

// toSequence coerces a context value to an iterable slice.
func toSequence(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a sequence", v)
	}
}
