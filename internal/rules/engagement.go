package rules

import (
	"regexp"
	"strconv"
	"time"
)

// followersFilterRE pulls a "followers > N" clause out of a free-text
// follow-back filter. Only this clause is honored; the rest of the filter
// text is ignored.
var followersFilterRE = regexp.MustCompile(`followers\s*(>=|<=|>|<)\s*(\d+)`)

// ShouldFollowBack decides whether to follow an account back, given its
// follower count.
//
// The learned rule drives an autonomous action, so unlike restrictive
// rules it fails closed: below the confidence floor no auto-follow-back
// happens. A rule with no parseable filter follows everyone back.
func (e *Engine) ShouldFollowBack(followers int) bool {
	fb := e.rules.Engagement.FollowBack
	if fb.Confidence < e.bounds.Confidence.MinToApply {
		return false
	}

	m := followersFilterRE.FindStringSubmatch(fb.Filter)
	if m == nil {
		return true
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return true
	}
	switch m[1] {
	case ">":
		return followers > n
	case ">=":
		return followers >= n
	case "<":
		return followers < n
	case "<=":
		return followers <= n
	}
	return true
}

// ReplyDelay returns the learned pause before sending a reply, zero when
// the rule is below the confidence floor.
func (e *Engine) ReplyDelay() time.Duration {
	r := e.rules.Engagement.Reply
	if r.Confidence < e.bounds.Confidence.MinToApply {
		return 0
	}
	return time.Duration(r.DelayMinutes) * time.Minute
}

// ReplyStyle returns the learned reply tone, or "neutral" when the rule is
// below the confidence floor or unset.
func (e *Engine) ReplyStyle() string {
	r := e.rules.Engagement.Reply
	if r.Confidence < e.bounds.Confidence.MinToApply || r.Style == "" {
		return "neutral"
	}
	return r.Style
}
