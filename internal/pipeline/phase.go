package pipeline

import (
	"context"
	"fmt"

	"github.com/roach88/cadence/internal/vars"
)

// PhaseResult summarizes one phase.
type PhaseResult struct {
	Name          string
	Skipped       bool
	TasksExecuted int
	Errors        []string
}

// Success reports whether the phase ran without accumulating errors.
func (p PhaseResult) Success() bool { return len(p.Errors) == 0 }

// runPhases executes phases honoring depends_on ordering. Within a phase,
// tasks run sequentially through the step executor; task failures are
// accumulated, never abort the phase, and never abort later phases.
// Parallel is a scheduler hint only and does not change execution here.
func (r *Runner) runPhases(ctx context.Context, ec *ExecContext, phases []Phase, collect *[]StepResult) ([]PhaseResult, error) {
	ordered, err := orderPhases(phases)
	if err != nil {
		return nil, err
	}

	results := make([]PhaseResult, 0, len(ordered))
	for _, phase := range ordered {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		pr := PhaseResult{Name: phase.Name}
		if phase.Condition != "" && !vars.Evaluate(phase.Condition, ec.Tmpl()) {
			pr.Skipped = true
			ec.Log.Debug("phase skipped", "phase", phase.Name, "condition", phase.Condition)
			results = append(results, pr)
			continue
		}
		if phase.Parallel {
			ec.Log.Debug("parallel hint noted, executing tasks sequentially",
				"phase", phase.Name)
		}

		for _, task := range phase.Tasks {
			res := r.executeStep(ctx, ec, task.step())
			if collect != nil {
				*collect = append(*collect, res)
			}
			if res.Skipped && !res.fromHandler {
				continue
			}
			pr.TasksExecuted++
			if res.Err != nil {
				pr.Errors = append(pr.Errors,
					fmt.Sprintf("%s/%s: %v", phase.Name, task.Action, res.Err))
				continue
			}
			if res.Skipped {
				// Handler skip aborts the remaining phase scope.
				break
			}
			if task.Output != "" {
				ec.Results[task.Output] = res.Output
			}
		}
		results = append(results, pr)
	}
	return results, nil
}

// orderPhases returns phases in dependency order, keeping declaration
// order among phases whose dependencies are equally satisfied. Unknown or
// cyclic dependencies are configuration errors.
func orderPhases(phases []Phase) ([]Phase, error) {
	byName := make(map[string]int, len(phases))
	for i, p := range phases {
		if _, dup := byName[p.Name]; dup {
			return nil, &ConfigError{Kind: "phase", Ref: p.Name,
				Err: fmt.Errorf("duplicate phase name")}
		}
		byName[p.Name] = i
	}
	for _, p := range phases {
		for _, dep := range p.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, &ConfigError{Kind: "phase", Ref: p.Name,
					Err: fmt.Errorf("depends on unknown phase %q", dep)}
			}
		}
	}

	placed := make(map[string]bool, len(phases))
	ordered := make([]Phase, 0, len(phases))
	for len(ordered) < len(phases) {
		progressed := false
		for _, p := range phases {
			if placed[p.Name] {
				continue
			}
			ready := true
			for _, dep := range p.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[p.Name] = true
				ordered = append(ordered, p)
				progressed = true
			}
		}
		if !progressed {
			return nil, &ConfigError{Kind: "phase", Ref: "",
				Err: fmt.Errorf("dependency cycle among phases")}
		}
	}
	return ordered, nil
}
