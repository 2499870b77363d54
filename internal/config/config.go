// Package config loads the automation core's configuration into immutable
// snapshots.
//
// Operator-authored documents (bounds, channels, pipelines) are CUE, which
// gives us schema checking and defaults at the source level. The learned
// rules state is YAML because it is written by the external learning
// subsystem, not by hand.
//
// A Snapshot is never mutated after Load returns it; picking up edited
// config means calling Load again and swapping the snapshot between runs.
// An in-flight run keeps the snapshot it started with.
package config

import (
	"fmt"
	"sort"

	"github.com/roach88/cadence/internal/pipeline"
	"github.com/roach88/cadence/internal/rules"
)

// Snapshot is one immutable view of the full configuration. It implements
// pipeline.Source.
type Snapshot struct {
	bounds    rules.Bounds
	state     rules.State
	pipelines map[string]*pipeline.Definition
	channels  map[string]*pipeline.ChannelProfile
}

// Pipeline returns a pipeline definition by id.
func (s *Snapshot) Pipeline(id string) (*pipeline.Definition, error) {
	def, ok := s.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("pipeline %q is not defined", id)
	}
	return def, nil
}

// Bounds returns the immutable safety ceiling.
func (s *Snapshot) Bounds() rules.Bounds { return s.bounds }

// Rules returns the learned-rules state.
func (s *Snapshot) Rules() rules.State { return s.state }

// Channel returns a channel profile by id.
func (s *Snapshot) Channel(id string) (*pipeline.ChannelProfile, error) {
	ch, ok := s.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %q is not defined", id)
	}
	return ch, nil
}

// PipelineIDs lists defined pipelines, sorted.
func (s *Snapshot) PipelineIDs() []string {
	ids := make([]string, 0, len(s.pipelines))
	for id := range s.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ChannelIDs lists defined channels, sorted.
func (s *Snapshot) ChannelIDs() []string {
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidationError is a load-time rejection of one config document.
type ValidationError struct {
	Doc     string // "pipeline:morning-post", "bounds", "rules"
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Doc, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Doc, e.Message)
}

// defaultConfidence is applied when bounds omit confidence thresholds.
var defaultConfidence = rules.ConfidenceLevels{
	MinToApply:      0.6,
	AutoApply:       0.85,
	RequireApproval: 0.95,
}

// applyBoundsDefaults fills unset confidence thresholds. Action limits stay
// as authored: the loader has already rejected authored zeros, so a zero
// here means the field was omitted and the action is unbounded.
func applyBoundsDefaults(b rules.Bounds) rules.Bounds {
	if b.Confidence.MinToApply == 0 {
		b.Confidence.MinToApply = defaultConfidence.MinToApply
	}
	if b.Confidence.AutoApply == 0 {
		b.Confidence.AutoApply = defaultConfidence.AutoApply
	}
	if b.Confidence.RequireApproval == 0 {
		b.Confidence.RequireApproval = defaultConfidence.RequireApproval
	}
	return b
}
