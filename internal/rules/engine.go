package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ActivityReader is the narrow storage contract this engine needs: live
// action counts and the last recorded post time. Implemented by
// store.Store; tests use an in-memory fake.
type ActivityReader interface {
	TodayCount(ctx context.Context, actionType, platform string) (int, error)
	LastActionTime(ctx context.Context, platform string) (LastSeen, error)
}

// Engine evaluates bounds and learned rules for one run. The bounds and
// rules snapshots are treated as immutable for the engine's lifetime; a
// refreshed snapshot means a new Engine.
type Engine struct {
	bounds Bounds
	rules  State
	store  ActivityReader
	now    func() time.Time
	log    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger used for rule application logging.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates a rule engine over a bounds ceiling, a rules snapshot, and an
// activity reader.
func New(bounds Bounds, rules State, store ActivityReader, opts ...Option) *Engine {
	e := &Engine{
		bounds: bounds,
		rules:  rules,
		store:  store,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bounds returns the immutable bounds ceiling.
func (e *Engine) Bounds() Bounds { return e.bounds }

// Rules returns the rules snapshot.
func (e *Engine) Rules() State { return e.rules }

// CheckTiming evaluates the learned timing rule against the current clock.
//
// Precedence: avoid_days > avoid_hours > best_hours > optimal. If the
// timing rule's confidence is below MinToApply and force is false, the
// verdict is optimal regardless of hour or day: an unproven rule never
// blocks a run.
func (e *Engine) CheckTiming(force bool) TimingVerdict {
	tr := e.rules.Timing
	v := TimingVerdict{Optimal: true, Confidence: tr.Confidence}

	if tr.Confidence < e.bounds.Confidence.MinToApply && !force {
		v.Reason = fmt.Sprintf("timing rule below confidence floor (%.2f < %.2f), not enforced",
			tr.Confidence, e.bounds.Confidence.MinToApply)
		return v
	}

	now := e.now()
	day := strings.ToLower(now.Weekday().String())
	hour := now.Hour()

	for _, d := range tr.AvoidDays {
		if strings.ToLower(d) == day {
			v.Optimal = false
			v.Reason = fmt.Sprintf("avoid day: %s", day)
			return v
		}
	}
	for _, h := range tr.AvoidHours {
		if h == hour {
			v.Optimal = false
			v.Reason = fmt.Sprintf("avoid hour: %02d:00", hour)
			return v
		}
	}
	if len(tr.BestHours) > 0 {
		for _, h := range tr.BestHours {
			if h == hour {
				v.Reason = fmt.Sprintf("best hour: %02d:00", hour)
				return v
			}
		}
		v.Optimal = false
		v.Reason = fmt.Sprintf("outside best hours %v (now %02d:00)", tr.BestHours, hour)
		return v
	}

	v.Reason = "no timing rule applies"
	return v
}

// CheckDailyLimit compares today's recorded count for an action against the
// bounds ceiling. Unknown action types are allowed with an unbounded limit.
// A zero limit means the field was omitted from the bounds document; the
// config loader rejects authored zeros.
func (e *Engine) CheckDailyLimit(ctx context.Context, actionType, platform string) (Verdict, error) {
	limit, known := e.dailyLimit(actionType)
	if !known || limit <= 0 {
		return Verdict{Allowed: true, Remaining: -1}, nil
	}

	count, err := e.store.TodayCount(ctx, actionType, platform)
	if err != nil {
		return Verdict{}, fmt.Errorf("read today's %s count for %s: %w", actionType, platform, err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	if count+1 > limit {
		return Verdict{
			Allowed:   false,
			Reason:    fmt.Sprintf("Daily limit reached for %s: %d/%d", actionType, count, limit),
			Rule:      "daily_limit",
			Remaining: remaining,
		}, nil
	}
	return Verdict{Allowed: true, Remaining: remaining}, nil
}

// dailyLimit maps an action type to its bounds ceiling.
func (e *Engine) dailyLimit(actionType string) (int, bool) {
	switch actionType {
	case "post":
		return e.bounds.Posting.MaxPerDay, true
	case "like":
		return e.bounds.Engagement.MaxLikesPerDay, true
	case "follow":
		return e.bounds.Engagement.MaxFollowsPerDay, true
	case "unfollow":
		return e.bounds.Engagement.MaxUnfollowsPerDay, true
	case "comment", "reply":
		return e.bounds.Engagement.MaxCommentsPerDay, true
	case "repost":
		return e.bounds.Engagement.MaxRepostsPerDay, true
	case "dm":
		return e.bounds.Engagement.MaxDMsPerDay, true
	default:
		return 0, false
	}
}

// CheckMinInterval denies when the elapsed time since the platform's last
// recorded post is below the minimum posting interval.
func (e *Engine) CheckMinInterval(ctx context.Context, platform string) (Verdict, error) {
	minInterval := e.bounds.Posting.MinIntervalMinutes
	if minInterval <= 0 {
		return Verdict{Allowed: true, Remaining: -1}, nil
	}

	last, err := e.store.LastActionTime(ctx, platform)
	if err != nil {
		return Verdict{}, fmt.Errorf("read last action time for %s: %w", platform, err)
	}
	if !last.Valid {
		return Verdict{Allowed: true, Remaining: -1}, nil
	}

	elapsed := int(e.now().Sub(last.At).Minutes())
	if elapsed < minInterval {
		return Verdict{
			Allowed: false,
			Reason: fmt.Sprintf("Minimum posting interval not met for %s: %d of %d minutes elapsed",
				platform, elapsed, minInterval),
			Rule: "min_interval",
		}, nil
	}
	return Verdict{Allowed: true, Remaining: -1}, nil
}

// RunPreChecks composes the gate an action must pass before any side
// effect: daily limit, then (post only) minimum interval, then (when
// content is given) the forbidden-topic list. Short-circuits on the first
// denial with a display-ready reason and the triggering rule name.
func (e *Engine) RunPreChecks(ctx context.Context, actionType, platform, content string) (Verdict, error) {
	for _, act := range e.bounds.Forbidden.Actions {
		if act == actionType {
			return Verdict{
				Allowed: false,
				Reason:  fmt.Sprintf("Action %q is forbidden by bounds", actionType),
				Rule:    "forbidden_action",
			}, nil
		}
	}

	v, err := e.CheckDailyLimit(ctx, actionType, platform)
	if err != nil || !v.Allowed {
		return v, err
	}

	if actionType == "post" {
		iv, err := e.CheckMinInterval(ctx, platform)
		if err != nil || !iv.Allowed {
			return iv, err
		}
	}

	if content != "" {
		lower := strings.ToLower(content)
		for _, topic := range e.bounds.Forbidden.Topics {
			if topic != "" && strings.Contains(lower, strings.ToLower(topic)) {
				return Verdict{
					Allowed: false,
					Reason:  fmt.Sprintf("Content touches forbidden topic %q", topic),
					Rule:    "forbidden_topic",
				}, nil
			}
		}
	}

	return v, nil
}

// ShouldAutoApply reports whether a confidence score clears the auto-apply
// threshold. Callers must consult RequiresApproval first; when both are
// true, approval wins. Gate applies that ordering for you.
func (e *Engine) ShouldAutoApply(confidence float64) bool {
	return confidence >= e.bounds.Confidence.AutoApply
}

// RequiresApproval reports whether a confidence score is high enough that a
// human must approve the rule's effect before it is applied.
func (e *Engine) RequiresApproval(confidence float64) bool {
	return confidence >= e.bounds.Confidence.RequireApproval
}

// GateFor classifies a confidence score with the approval-wins ordering
// applied.
func (e *Engine) GateFor(confidence float64) Gate {
	switch {
	case e.RequiresApproval(confidence):
		return GateRequireApproval
	case e.ShouldAutoApply(confidence):
		return GateAutoApply
	case confidence >= e.bounds.Confidence.MinToApply:
		return GateActive
	default:
		return GateIgnore
	}
}
