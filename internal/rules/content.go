package rules

import (
	"regexp"
	"strings"
)

// Character-count bands for the length: pattern.
const (
	lengthShortMax  = 140
	lengthMediumMax = 280
)

// ApplyContentRules runs every active content rule against content and
// returns the (possibly rewritten) content plus the rules that matched.
//
// Only rules whose confidence meets the MinToApply floor are considered.
// Matching supports "topic:", "length:short|medium|long", "contains:" and
// "regex:" patterns. The add_hashtags action mutates; prefer and avoid are
// logged only. avoid deliberately does not block: that soft-warning
// behavior is preserved pending product confirmation.
func (e *Engine) ApplyContentRules(content, topic string) (string, []AppliedRule) {
	var applied []AppliedRule

	for _, rule := range e.rules.Content {
		if rule.Confidence < e.bounds.Confidence.MinToApply {
			continue
		}
		if !matchPattern(rule.Pattern, content, topic) {
			continue
		}

		switch rule.Action {
		case "add_hashtags":
			content = addHashtags(content, hashtagParams(rule.Params))
		case "prefer":
			e.log.Info("content rule preference noted",
				"rule", rule.Name, "pattern", rule.Pattern)
		case "avoid":
			// Logged only. A reader would expect "avoid" to block; it
			// never has, and hardening it into a deny needs an explicit
			// product decision first.
			e.log.Warn("content matches avoid rule",
				"rule", rule.Name, "pattern", rule.Pattern)
		default:
			e.log.Warn("unknown content rule action",
				"rule", rule.Name, "action", rule.Action)
			continue
		}
		applied = append(applied, AppliedRule{Rule: rule.Name, Action: rule.Action})
	}

	return content, applied
}

// matchPattern evaluates one content-rule pattern.
func matchPattern(pattern, content, topic string) bool {
	switch {
	case strings.HasPrefix(pattern, "topic:"):
		want := strings.TrimSpace(strings.TrimPrefix(pattern, "topic:"))
		return strings.EqualFold(want, topic)

	case strings.HasPrefix(pattern, "length:"):
		band := strings.TrimSpace(strings.TrimPrefix(pattern, "length:"))
		n := len([]rune(content))
		switch band {
		case "short":
			return n < lengthShortMax
		case "medium":
			return n >= lengthShortMax && n < lengthMediumMax
		case "long":
			return n >= lengthMediumMax
		default:
			return false
		}

	case strings.HasPrefix(pattern, "contains:"):
		want := strings.TrimPrefix(pattern, "contains:")
		return strings.Contains(strings.ToLower(content), strings.ToLower(want))

	case strings.HasPrefix(pattern, "regex:"):
		re, err := regexp.Compile(strings.TrimPrefix(pattern, "regex:"))
		if err != nil {
			return false
		}
		return re.MatchString(content)

	default:
		return false
	}
}

// hashtagParams extracts the hashtag list from rule params, accepting both
// []string and []any document decodings.
func hashtagParams(params map[string]any) []string {
	raw, ok := params["hashtags"]
	if !ok {
		return nil
	}
	switch t := raw.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// addHashtags appends tags not already present, case-insensitively.
// Applying the same tag list twice yields the same output as applying it
// once.
func addHashtags(content string, tags []string) string {
	lower := strings.ToLower(content)
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		if strings.Contains(lower, strings.ToLower(tag)) {
			continue
		}
		content += " " + tag
		lower += " " + strings.ToLower(tag)
	}
	return content
}
