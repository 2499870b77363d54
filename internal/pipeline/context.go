package pipeline

import (
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/roach88/cadence/internal/rules"
)

// ExecContext is the mutable per-run state. It lives for exactly one
// pipeline run and is discarded afterwards. The bounds and rules snapshots
// it carries are read-only for the run's duration.
type ExecContext struct {
	Def        *Definition
	RuleEngine *rules.Engine
	Channel    *ChannelProfile

	// Variables holds derived values (current hour, weekday, date,
	// timestamp) plus caller-supplied inputs. Loop scopes shadow this
	// map.
	Variables map[string]any

	// Results is populated only by steps that declare an Output name.
	// It is the sole channel through which a later step reads an
	// earlier step's result. Shared across loop scopes.
	Results map[string]any

	DryRun bool
	Log    *slog.Logger
}

// newExecContext builds the context for one run, deriving time variables
// from now.
func newExecContext(def *Definition, engine *rules.Engine, channel *ChannelProfile, opts Options, now time.Time, log *slog.Logger) *ExecContext {
	vars := map[string]any{
		"current_hour": now.Hour(),
		"weekday":      now.Weekday().String(),
		"date":         now.Format(time.DateOnly),
		"timestamp":    now.Format(time.RFC3339),
		"dry_run":      opts.DryRun,
	}
	if channel != nil {
		vars["channel"] = channel.ID
		vars["platform"] = channel.Platform
	}
	maps.Copy(vars, opts.Inputs)

	return &ExecContext{
		Def:        def,
		RuleEngine: engine,
		Channel:    channel,
		Variables:  vars,
		Results:    make(map[string]any),
		DryRun:     opts.DryRun,
		Log:        log,
	}
}

// Tmpl returns the merged template view: variables overlaid with named
// results, plus a "results" key for explicit access (e.g. results.error in
// on_error handlers).
func (ec *ExecContext) Tmpl() map[string]any {
	m := make(map[string]any, len(ec.Variables)+len(ec.Results)+1)
	maps.Copy(m, ec.Variables)
	maps.Copy(m, ec.Results)
	m["results"] = ec.Results
	return m
}

// childScope shadows the variable map with a loop variable while sharing
// the results map, so loop iterations see their own element but outputs
// remain visible after the loop.
func (ec *ExecContext) childScope(loopVar string, value any, index int) *ExecContext {
	child := *ec
	child.Variables = maps.Clone(ec.Variables)
	child.Variables[loopVar] = value
	child.Variables[loopVar+"_index"] = index
	return &child
}

// Platform returns the active channel's platform, or "" without a channel.
func (ec *ExecContext) Platform() string {
	if ec.Channel == nil {
		return ""
	}
	return ec.Channel.Platform
}

// RecordError exposes a failure to on_error handler templates as
// ${results.error}.
func (ec *ExecContext) RecordError(err error) {
	ec.Results["error"] = fmt.Sprint(err)
}
