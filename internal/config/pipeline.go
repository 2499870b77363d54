package config

import (
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/pipeline"
)

// rawPipeline is the decoded shape of one pipeline document before
// validation turns it into a pipeline.Definition.
type rawPipeline struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	Conditions *struct {
		TimeRangeStart string  `json:"time_range_start"`
		TimeRangeEnd   string  `json:"time_range_end"`
		TimingCheck    bool    `json:"timing_check"`
		MinConfidence  float64 `json:"min_confidence"`
	} `json:"conditions"`

	Steps  []rawStep  `json:"steps"`
	Phases []rawPhase `json:"phases"`

	OnComplete []rawStep `json:"on_complete"`
	OnError    []rawStep `json:"on_error"`

	Safety *struct {
		MaxPostsPerRun          int `json:"max_posts_per_run"`
		HumanizeDelayMinSeconds int `json:"humanize_delay_min_seconds"`
		HumanizeDelayMaxSeconds int `json:"humanize_delay_max_seconds"`
	} `json:"safety"`
}

// rawStep carries every possible step field; buildStep enforces that
// exactly one executable form is set.
type rawStep struct {
	Name      string `json:"name"`
	Input     string `json:"input"`
	Output    string `json:"output"`
	Condition string `json:"condition"`
	Enabled   any    `json:"enabled"`

	OnFail     string `json:"on_fail"`
	MaxRetries int    `json:"max_retries"`

	Action  string         `json:"action"`
	Service string         `json:"service"`
	Query   string         `json:"query"`
	ForEach string         `json:"for_each"`
	Params  map[string]any `json:"params"`

	QueryParams   []any     `json:"query_params"`
	MaxIterations int       `json:"max_iterations"`
	Steps         []rawStep `json:"steps"`
}

type rawPhase struct {
	Name      string    `json:"name"`
	Parallel  bool      `json:"parallel"`
	DependsOn []string  `json:"depends_on"`
	Condition string    `json:"condition"`
	Tasks     []rawTask `json:"tasks"`
}

type rawTask struct {
	Action string         `json:"action"`
	Input  string         `json:"input"`
	Params map[string]any `json:"params"`
	Output string         `json:"output"`
}

func (l *Loader) buildPipeline(id string, raw rawPipeline) (*pipeline.Definition, error) {
	doc := "pipeline:" + id

	if len(raw.Steps) > 0 && len(raw.Phases) > 0 {
		return nil, &ValidationError{Doc: doc, Message: "steps and phases are mutually exclusive"}
	}
	if len(raw.Steps) == 0 && len(raw.Phases) == 0 {
		return nil, &ValidationError{Doc: doc, Message: "a pipeline needs steps or phases"}
	}

	def := &pipeline.Definition{
		ID:       id,
		Name:     raw.Name,
		Schedule: raw.Schedule,
	}
	if def.Name == "" {
		def.Name = id
	}

	if raw.Conditions != nil {
		c := &pipeline.Conditions{
			TimeRangeStart: raw.Conditions.TimeRangeStart,
			TimeRangeEnd:   raw.Conditions.TimeRangeEnd,
			TimingCheck:    raw.Conditions.TimingCheck,
			MinConfidence:  raw.Conditions.MinConfidence,
		}
		if (c.TimeRangeStart == "") != (c.TimeRangeEnd == "") {
			return nil, &ValidationError{Doc: doc, Field: "conditions",
				Message: "time_range_start and time_range_end must be set together"}
		}
		for _, clock := range []string{c.TimeRangeStart, c.TimeRangeEnd} {
			if clock == "" {
				continue
			}
			if _, err := time.Parse("15:04", clock); err != nil {
				return nil, &ValidationError{Doc: doc, Field: "conditions",
					Message: fmt.Sprintf("bad clock time %q, want HH:MM", clock)}
			}
		}
		def.Conditions = c
	}

	if raw.Safety != nil {
		def.Safety = &pipeline.SafetyOverrides{
			MaxPostsPerRun:          raw.Safety.MaxPostsPerRun,
			HumanizeDelayMinSeconds: raw.Safety.HumanizeDelayMinSeconds,
			HumanizeDelayMaxSeconds: raw.Safety.HumanizeDelayMaxSeconds,
		}
	}

	var err error
	if def.Steps, err = l.buildSteps(doc, raw.Steps); err != nil {
		return nil, err
	}
	if def.Phases, err = l.buildPhases(doc, raw.Phases); err != nil {
		return nil, err
	}
	if def.OnComplete, err = l.buildSteps(doc+".on_complete", raw.OnComplete); err != nil {
		return nil, err
	}
	if def.OnError, err = l.buildSteps(doc+".on_error", raw.OnError); err != nil {
		return nil, err
	}

	return def, nil
}

func (l *Loader) buildSteps(doc string, raws []rawStep) ([]pipeline.Step, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	steps := make([]pipeline.Step, 0, len(raws))
	for i, raw := range raws {
		step, err := l.buildStep(doc, i, raw)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (l *Loader) buildStep(doc string, index int, raw rawStep) (pipeline.Step, error) {
	name := raw.Name
	if name == "" {
		name = fmt.Sprintf("step[%d]", index)
	}
	field := name

	step := pipeline.Step{
		Name:       name,
		Input:      raw.Input,
		Output:     raw.Output,
		Condition:  raw.Condition,
		Enabled:    enabledString(raw.Enabled),
		OnFail:     pipeline.OnFail(raw.OnFail),
		MaxRetries: raw.MaxRetries,
	}
	if !pipeline.ValidOnFail(step.OnFail) {
		return pipeline.Step{}, &ValidationError{Doc: doc, Field: field,
			Message: fmt.Sprintf("unknown on_fail policy %q", raw.OnFail)}
	}

	forms := 0
	for _, set := range []bool{raw.Action != "", raw.Service != "", raw.Query != "", raw.ForEach != ""} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		return pipeline.Step{}, &ValidationError{Doc: doc, Field: field,
			Message: "a step needs exactly one of action, service, query, for_each"}
	}

	switch {
	case raw.Action != "":
		step.Exec = pipeline.ActionExec{Action: raw.Action, Params: raw.Params}

	case raw.Service != "":
		key, err := pipeline.ParseServicePath(raw.Service)
		if err != nil {
			return pipeline.Step{}, &ValidationError{Doc: doc, Field: field, Message: err.Error()}
		}
		if l.services != nil && !l.services.Known(key.Category, key.ID) {
			return pipeline.Step{}, &ValidationError{Doc: doc, Field: field,
				Message: fmt.Sprintf("unknown service %q", raw.Service)}
		}
		step.Exec = pipeline.ServiceExec{Category: key.Category, ID: key.ID, Params: raw.Params}

	case raw.Query != "":
		step.Exec = pipeline.QueryExec{Query: raw.Query, Params: raw.QueryParams}

	default:
		inner, err := l.buildSteps(doc+"."+name, raw.Steps)
		if err != nil {
			return pipeline.Step{}, err
		}
		if len(inner) == 0 {
			return pipeline.Step{}, &ValidationError{Doc: doc, Field: field,
				Message: "for_each needs nested steps"}
		}
		step.Exec = pipeline.ForEachExec{
			Expr:          raw.ForEach,
			MaxIterations: raw.MaxIterations,
			Steps:         inner,
		}
	}

	return step, nil
}

func (l *Loader) buildPhases(doc string, raws []rawPhase) ([]pipeline.Phase, error) {
	if len(raws) == 0 {
		return nil, nil
	}

	seen := map[string]bool{}
	phases := make([]pipeline.Phase, 0, len(raws))
	for _, raw := range raws {
		if raw.Name == "" {
			return nil, &ValidationError{Doc: doc, Field: "phases", Message: "a phase needs a name"}
		}
		if seen[raw.Name] {
			return nil, &ValidationError{Doc: doc, Field: raw.Name, Message: "duplicate phase name"}
		}
		seen[raw.Name] = true
		if len(raw.Tasks) == 0 {
			return nil, &ValidationError{Doc: doc, Field: raw.Name, Message: "a phase needs tasks"}
		}

		phase := pipeline.Phase{
			Name:      raw.Name,
			Parallel:  raw.Parallel,
			DependsOn: raw.DependsOn,
			Condition: raw.Condition,
		}
		for _, t := range raw.Tasks {
			if t.Action == "" {
				return nil, &ValidationError{Doc: doc, Field: raw.Name, Message: "a task needs an action"}
			}
			phase.Tasks = append(phase.Tasks, pipeline.Task{
				Action: t.Action,
				Input:  t.Input,
				Params: t.Params,
				Output: t.Output,
			})
		}
		phases = append(phases, phase)
	}

	for _, p := range phases {
		for _, dep := range p.DependsOn {
			if !seen[dep] {
				return nil, &ValidationError{Doc: doc, Field: p.Name,
					Message: fmt.Sprintf("depends on unknown phase %q", dep)}
			}
		}
	}
	return phases, nil
}

// enabledString normalizes the enabled field, which authors may write as a
// boolean or a condition string.
func enabledString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if t {
			return "true"
		}
		return "false"
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
