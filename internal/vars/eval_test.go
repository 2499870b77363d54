package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_Truthiness(t *testing.T) {
	ctx := map[string]any{
		"item":  map[string]any{"content": "hello"},
		"empty": "",
		"zero":  0,
		"flag":  true,
	}
	tests := []struct {
		cond string
		want bool
	}{
		{"", true},
		{"${item.content}", true},
		{"${empty}", false},
		{"${zero}", false},
		{"${flag}", true},
		{"true", true},
		{"false", false},
		{"null", false},
		// Unresolved refs keep their literal ${...} form, which is truthy.
		{"${missing}", true},
	}
	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, ctx), "cond=%q", tt.cond)
		})
	}
}

func TestEvaluate_Comparisons(t *testing.T) {
	ctx := map[string]any{
		"hour":      14,
		"followers": 1200,
		"style":     "casual",
	}
	tests := []struct {
		cond string
		want bool
	}{
		{"${hour} >= 9", true},
		{"${hour} < 9", false},
		{"${followers} > 1000", true},
		{"${style} == 'casual'", true},
		{"${style} != \"formal\"", true},
		{"${hour} == 14", true},
	}
	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, ctx))
		})
	}
}

func TestEvaluate_BooleanConnectives(t *testing.T) {
	ctx := map[string]any{"hour": 14, "dry": false}
	assert.True(t, Evaluate("${hour} >= 9 && ${hour} <= 21", ctx))
	assert.False(t, Evaluate("${hour} < 9 && ${hour} <= 21", ctx))
	assert.True(t, Evaluate("${hour} < 9 || ${hour} > 12", ctx))
	assert.True(t, Evaluate("!${dry}", ctx))
	assert.True(t, Evaluate("(${hour} < 9 || ${hour} > 12) && !${dry}", ctx))
}

func TestEvaluate_BareIdentifierResolves(t *testing.T) {
	ctx := map[string]any{"enabled": true, "count": 2}
	assert.True(t, Evaluate("enabled", ctx))
	assert.True(t, Evaluate("count > 1", ctx))
}

func TestEvaluate_MalformedFallsBackToTruthiness(t *testing.T) {
	ctx := map[string]any{"v": "yes"}
	// Trailing operator does not parse; the resolved string "yes >" is
	// non-empty and therefore truthy.
	assert.True(t, Evaluate("${v} >", ctx))
}

func TestEvaluateExpr_Errors(t *testing.T) {
	_, err := EvaluateExpr("(${a}", map[string]any{})
	require.Error(t, err)
	_, err = EvaluateExpr("${a", map[string]any{})
	require.Error(t, err)
}

func TestCompare_StringOrdering(t *testing.T) {
	got, err := compare("<", "apple", "banana")
	require.NoError(t, err)
	assert.True(t, got)
}
