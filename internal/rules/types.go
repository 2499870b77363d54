// Package rules gates every autonomous action against immutable safety
// bounds and mutable, confidence-scored learned rules.
//
// Bounds are a human-set ceiling the engine never writes; violating a bound
// is always a hard deny regardless of any rule's confidence. Learned rules
// are produced by an external learning subsystem and are read-only here; a
// rule whose confidence is below the configured floor is simply not
// enforced (fail-open).
package rules

import "time"

// Bounds is the immutable safety ceiling for a channel. Loaded once per
// run; never mutated by this package.
type Bounds struct {
	Posting    PostingBounds    `json:"posting" yaml:"posting"`
	Engagement EngagementBounds `json:"engagement" yaml:"engagement"`
	Forbidden  ForbiddenBounds  `json:"forbidden" yaml:"forbidden"`
	Confidence ConfidenceLevels `json:"confidence" yaml:"confidence"`
}

// PostingBounds limits publish actions.
type PostingBounds struct {
	MaxPerDay          int `json:"max_per_day" yaml:"max_per_day"`
	MinIntervalMinutes int `json:"min_interval_minutes" yaml:"min_interval_minutes"`
}

// EngagementBounds limits per-category engagement actions per day.
type EngagementBounds struct {
	MaxLikesPerDay     int `json:"max_likes_per_day" yaml:"max_likes_per_day"`
	MaxFollowsPerDay   int `json:"max_follows_per_day" yaml:"max_follows_per_day"`
	MaxUnfollowsPerDay int `json:"max_unfollows_per_day" yaml:"max_unfollows_per_day"`
	MaxCommentsPerDay  int `json:"max_comments_per_day" yaml:"max_comments_per_day"`
	MaxRepostsPerDay   int `json:"max_reposts_per_day" yaml:"max_reposts_per_day"`
	MaxDMsPerDay       int `json:"max_dms_per_day" yaml:"max_dms_per_day"`
}

// ForbiddenBounds lists content topics and action kinds that are always
// denied.
type ForbiddenBounds struct {
	Topics  []string `json:"topics" yaml:"topics"`
	Actions []string `json:"actions" yaml:"actions"`
}

// ConfidenceLevels are the thresholds gating learned-rule enforcement.
//
// RequireApproval is normally numerically higher than AutoApply, so both
// predicates can be true for the same score. The contract is that approval
// wins: callers must check RequiresApproval first and let it override
// ShouldAutoApply. Gate encodes that ordering.
type ConfidenceLevels struct {
	MinToApply      float64 `json:"min_to_apply" yaml:"min_to_apply"`
	AutoApply       float64 `json:"auto_apply" yaml:"auto_apply"`
	RequireApproval float64 `json:"require_approval" yaml:"require_approval"`
}

// State is a versioned snapshot of learned rules. Mutated only by the
// external learning subsystem; this engine reads a fresh snapshot per run.
type State struct {
	Version    int             `json:"version" yaml:"version"`
	Timing     TimingRule      `json:"timing" yaml:"timing"`
	Content    []ContentRule   `json:"content" yaml:"content"`
	Engagement EngagementRules `json:"engagement" yaml:"engagement"`
	Hashtags   HashtagRule     `json:"hashtags" yaml:"hashtags"`
}

// TimingRule captures when posting historically performs well or badly.
type TimingRule struct {
	BestHours   []int    `json:"best_hours" yaml:"best_hours"`
	AvoidHours  []int    `json:"avoid_hours" yaml:"avoid_hours"`
	AvoidDays   []string `json:"avoid_days" yaml:"avoid_days"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	Experiments int      `json:"experiments" yaml:"experiments"`
}

// ContentRule rewrites or annotates content matching a pattern.
//
// Pattern syntax: "topic:<name>", "length:short|medium|long",
// "contains:<substring>", "regex:<expr>". Actions: "add_hashtags"
// (mutating), "prefer" and "avoid" (logged only).
type ContentRule struct {
	Name       string         `json:"name" yaml:"name"`
	Pattern    string         `json:"pattern" yaml:"pattern"`
	Action     string         `json:"action" yaml:"action"`
	Params     map[string]any `json:"params" yaml:"params"`
	Confidence float64        `json:"confidence" yaml:"confidence"`
	Provenance string         `json:"provenance" yaml:"provenance"`
}

// EngagementRules drive reactive behavior toward other accounts.
type EngagementRules struct {
	FollowBack FollowBackRule `json:"follow_back" yaml:"follow_back"`
	Reply      ReplyRule      `json:"reply" yaml:"reply"`
	Like       TargetingRule  `json:"like" yaml:"like"`
	Repost     TargetingRule  `json:"repost" yaml:"repost"`
}

// FollowBackRule decides whether to follow an account back. Filter is a
// free-text expression of which only a "followers > N" clause is honored.
type FollowBackRule struct {
	Filter     string  `json:"filter" yaml:"filter"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// ReplyRule sets reply tone and pacing.
type ReplyRule struct {
	Style        string  `json:"style" yaml:"style"`
	DelayMinutes int     `json:"delay_minutes" yaml:"delay_minutes"`
	Confidence   float64 `json:"confidence" yaml:"confidence"`
}

// TargetingRule lists topics worth liking or reposting.
type TargetingRule struct {
	Topics     []string `json:"topics" yaml:"topics"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
}

// HashtagRule lists hashtags the learning subsystem considers effective.
type HashtagRule struct {
	Preferred  []string `json:"preferred" yaml:"preferred"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
}

// TimingVerdict is the outcome of a timing check.
type TimingVerdict struct {
	Optimal    bool
	Reason     string
	Confidence float64
}

// Verdict is the outcome of a limit or pre-check. Reason is a
// human-readable string suitable for direct display.
type Verdict struct {
	Allowed   bool
	Reason    string
	Rule      string
	Remaining int
}

// AppliedRule records one content rule that matched during
// ApplyContentRules.
type AppliedRule struct {
	Rule   string
	Action string
}

// Gate is the enforcement mode for a learned rule at a given confidence.
type Gate string

const (
	// GateIgnore: below MinToApply, the rule is not enforced.
	GateIgnore Gate = "ignore"
	// GateActive: enforceable, but not autonomously applied.
	GateActive Gate = "active"
	// GateAutoApply: high enough to apply without a human in the loop.
	GateAutoApply Gate = "auto_apply"
	// GateRequireApproval: so impactful a human must sign off first.
	// Wins over GateAutoApply when both thresholds are met.
	GateRequireApproval Gate = "require_approval"
)

// LastSeen is a nullable timestamp returned by activity lookups.
type LastSeen struct {
	At    time.Time
	Valid bool
}
