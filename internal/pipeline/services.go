package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/cadence/internal/similarity"
)

// ServiceKey identifies a shared service as an explicit (category, id)
// pair. Pipelines write it as a "category/id" path; unknown paths fail at
// load time, not mid-run.
type ServiceKey struct {
	Category string
	ID       string
}

func (k ServiceKey) String() string { return k.Category + "/" + k.ID }

// ParseServicePath splits a "category/id" path.
func ParseServicePath(path string) (ServiceKey, error) {
	cat, id, ok := strings.Cut(path, "/")
	if !ok || cat == "" || id == "" {
		return ServiceKey{}, fmt.Errorf("service path %q is not category/id", path)
	}
	return ServiceKey{Category: cat, ID: id}, nil
}

// ServiceFunc is a typed shared-service handler. input is the step's
// resolved input value; params are the step's resolved params.
type ServiceFunc func(ctx context.Context, ec *ExecContext, input string, params map[string]any) (any, error)

// Registry maps service keys to handlers. Built once at Runner
// construction so config loading can validate references against it.
type Registry struct {
	services map[ServiceKey]ServiceFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[ServiceKey]ServiceFunc)}
}

// Register binds a handler to (category, id), replacing any previous
// binding.
func (r *Registry) Register(category, id string, fn ServiceFunc) {
	r.services[ServiceKey{Category: category, ID: id}] = fn
}

// Lookup returns the handler for a key.
func (r *Registry) Lookup(key ServiceKey) (ServiceFunc, bool) {
	fn, ok := r.services[key]
	return fn, ok
}

// Known reports whether (category, id) is registered. Used by the config
// loader for load-time validation.
func (r *Registry) Known(category, id string) bool {
	_, ok := r.services[ServiceKey{Category: category, ID: id}]
	return ok
}

// Keys returns all registered service paths, for diagnostics.
func (r *Registry) Keys() []string {
	out := make([]string, 0, len(r.services))
	for k := range r.services {
		out = append(out, k.String())
	}
	return out
}

// toneStyles are the tone-adaptation variants registered by default.
var toneStyles = []string{"casual", "formal", "friendly", "neutral"}

// KnownServices is a static set of service keys. It satisfies the config
// loader's checker contract without needing a live runner.
type KnownServices map[ServiceKey]bool

// Known reports whether (category, id) is in the set.
func (k KnownServices) Known(category, id string) bool {
	return k[ServiceKey{Category: category, ID: id}]
}

// BuiltinServices returns the service surface every runner registers, for
// validating config before a runner exists.
func BuiltinServices() KnownServices {
	k := KnownServices{
		{Category: "validator", ID: "similarity"}: true,
		{Category: "approval", ID: "request"}:     true,
	}
	for _, style := range toneStyles {
		k[ServiceKey{Category: "tone", ID: style}] = true
	}
	return k
}

// registerBuiltinServices wires the shared-service namespace:
// validator/similarity, tone/<style>, approval/request.
func (r *Runner) registerBuiltinServices(reg *Registry) {
	reg.Register("validator", "similarity", r.similarityValidator)
	for _, style := range toneStyles {
		reg.Register("tone", style, r.toneService(style))
	}
	reg.Register("approval", "request", r.approvalService)
}

// similarityValidator checks the step input against the platform's recent
// content. A duplicate is a step failure carrying the matched percentage.
func (r *Runner) similarityValidator(ctx context.Context, ec *ExecContext, input string, params map[string]any) (any, error) {
	if input == "" {
		return nil, fmt.Errorf("similarity validator needs an input")
	}

	opts := similarity.Options{Threshold: floatParam(params, "threshold", 0)}
	if algo, ok := params["algorithm"].(string); ok {
		opts.Algorithm = similarity.Algorithm(algo)
	}

	if set, ok := params["compare_set"]; ok {
		opts.CompareSet = stringSlice(set)
	} else {
		limit := int(floatParam(params, "limit", similarity.DefaultCorpusLimit))
		recent, err := r.storage.RecentContent(ctx, ec.Platform(), limit)
		if err != nil {
			return nil, fmt.Errorf("load recent content: %w", err)
		}
		opts.CompareSet = recent
	}

	res := similarity.Check(input, opts)
	if res.IsSimilar {
		return nil, &DenialError{
			Rule: "similarity",
			Reason: fmt.Sprintf("Content is %.0f%% similar to a recent post (threshold %.0f%%)",
				res.HighestSimilarity*100, res.Threshold*100),
		}
	}
	return map[string]any{
		"is_similar":  false,
		"similarity":  res.HighestSimilarity,
		"threshold":   res.Threshold,
		"corpus_size": len(opts.CompareSet),
	}, nil
}

// toneService adapts the input into a style via the ToneAdapter
// collaborator; without one the content passes through unchanged.
func (r *Runner) toneService(style string) ServiceFunc {
	return func(ctx context.Context, ec *ExecContext, input string, params map[string]any) (any, error) {
		if r.tone == nil {
			ec.Log.Debug("no tone adapter configured, passing content through", "style", style)
			return input, nil
		}
		adapted, err := r.tone.Adapt(ctx, input, style)
		if err != nil {
			return nil, fmt.Errorf("tone adaptation (%s): %w", style, err)
		}
		return adapted, nil
	}
}

// approvalService dispatches an approval request through the notifier.
// The run does not block on the answer; the external approver acts on the
// queue out of band.
func (r *Runner) approvalService(ctx context.Context, ec *ExecContext, input string, params map[string]any) (any, error) {
	message := fmt.Sprintf("Approval requested for %s: %s", ec.Def.Name, input)
	if ec.DryRun {
		ec.Log.Info("dry-run: approval request suppressed", "message", message)
		return map[string]any{"status": "requested", "dry_run": true}, nil
	}
	if r.notifier == nil {
		return nil, fmt.Errorf("approval service requires a notifier")
	}
	sent, err := r.notifier.Send(ctx, message, "text")
	if err != nil {
		return nil, fmt.Errorf("send approval request: %w", err)
	}
	return map[string]any{"status": "requested", "message_id": sent.MessageID}, nil
}

// floatParam reads a numeric param that may decode as int or float64.
func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
