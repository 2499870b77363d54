package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServicePath(t *testing.T) {
	key, err := ParseServicePath("validator/similarity")
	require.NoError(t, err)
	assert.Equal(t, ServiceKey{Category: "validator", ID: "similarity"}, key)
	assert.Equal(t, "validator/similarity", key.String())

	for _, bad := range []string{"validator", "/similarity", "validator/", ""} {
		_, err := ParseServicePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestRegistryKnown(t *testing.T) {
	r := newTestRunner(testSource(nil), &fakeStorage{})

	assert.True(t, r.Services().Known("validator", "similarity"))
	assert.True(t, r.Services().Known("tone", "casual"))
	assert.True(t, r.Services().Known("tone", "neutral"))
	assert.True(t, r.Services().Known("approval", "request"))
	assert.False(t, r.Services().Known("validator", "grammar"))
}

func TestBuiltinServicesMatchesRunnerRegistry(t *testing.T) {
	r := newTestRunner(testSource(nil), &fakeStorage{})

	static := BuiltinServices()
	assert.Len(t, static, len(r.Services().Keys()))
	for _, path := range r.Services().Keys() {
		key, err := ParseServicePath(path)
		require.NoError(t, err)
		assert.True(t, static.Known(key.Category, key.ID), path)
	}
}

func TestServiceOverride(t *testing.T) {
	called := false
	r := newTestRunner(testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{Name: "check", Input: "x", Exec: ServiceExec{Category: "validator", ID: "similarity"}},
			},
		},
	}), &fakeStorage{}, WithService("validator", "similarity",
		func(_ context.Context, _ *ExecContext, _ string, _ map[string]any) (any, error) {
			called = true
			return "ok", nil
		}))

	res := r.Run(context.Background(), "p", Options{})
	require.NoError(t, res.Err)
	assert.True(t, called)
}

func TestUnknownServiceIsConfigError(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{Name: "check", Input: "x", Exec: ServiceExec{Category: "validator", ID: "grammar"}},
			},
		},
	})
	r := newTestRunner(src, &fakeStorage{})

	res := r.Run(context.Background(), "p", Options{})
	require.Error(t, res.Err)
	assert.True(t, IsConfigError(res.Err))
	assert.Contains(t, res.Err.Error(), "validator/grammar")
}

func TestSimilarityValidatorUsesRecentContent(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{Name: "check", Input: "shipping the roadmap today", Output: "check",
					Exec: ServiceExec{Category: "validator", ID: "similarity"}},
			},
		},
	})
	st := &fakeStorage{recent: []string{"Shipping the roadmap today!"}}
	r := newTestRunner(src, st)

	res := r.Run(context.Background(), "p", Options{Channel: "main"})

	require.Error(t, res.Err)
	var denial *DenialError
	require.True(t, errors.As(res.Err, &denial))
	assert.Equal(t, "similarity", denial.Rule)
}

func TestSimilarityValidatorPassesFreshContent(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{Name: "check", Input: "an entirely new topic for tonight", Output: "check",
					Exec: ServiceExec{Category: "validator", ID: "similarity"}},
			},
		},
	})
	st := &fakeStorage{recent: []string{"community call notes from last month"}}
	r := newTestRunner(src, st)

	res := r.Run(context.Background(), "p", Options{Channel: "main"})

	require.NoError(t, res.Err)
	check, ok := res.Results["check"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, check["is_similar"])
	assert.Equal(t, 1, check["corpus_size"])
}

func TestToneServicePassthroughWithoutAdapter(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{Name: "tone", Input: "raw text", Output: "tone",
					Exec: ServiceExec{Category: "tone", ID: "casual"}},
			},
		},
	})
	r := newTestRunner(src, &fakeStorage{})

	res := r.Run(context.Background(), "p", Options{})
	require.NoError(t, res.Err)
	assert.Equal(t, "raw text", res.Results["tone"])
}

type upperToneAdapter struct{}

func (upperToneAdapter) Adapt(_ context.Context, content, style string) (string, error) {
	return fmt.Sprintf("[%s] %s", style, content), nil
}

func TestToneServiceAdapts(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{Name: "tone", Input: "raw text", Output: "tone",
					Exec: ServiceExec{Category: "tone", ID: "formal"}},
			},
		},
	})
	r := newTestRunner(src, &fakeStorage{}, WithToneAdapter(upperToneAdapter{}))

	res := r.Run(context.Background(), "p", Options{})
	require.NoError(t, res.Err)
	assert.Equal(t, "[formal] raw text", res.Results["tone"])
}

func TestApprovalServiceSendsThroughNotifier(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID:   "p",
			Name: "Morning Post",
			Steps: []Step{
				{Name: "approve", Input: "draft body", Output: "approval",
					Exec: ServiceExec{Category: "approval", ID: "request"}},
			},
		},
	})
	n := &fakeNotifier{}
	r := newTestRunner(src, &fakeStorage{}, WithNotifier(n))

	res := r.Run(context.Background(), "p", Options{})

	require.NoError(t, res.Err)
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "Morning Post")
	assert.Contains(t, n.messages[0], "draft body")
}

func TestApprovalServiceDryRun(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{Name: "approve", Input: "draft body", Output: "approval",
					Exec: ServiceExec{Category: "approval", ID: "request"}},
			},
		},
	})
	n := &fakeNotifier{}
	r := newTestRunner(src, &fakeStorage{}, WithNotifier(n))

	res := r.Run(context.Background(), "p", Options{DryRun: true})

	require.NoError(t, res.Err)
	assert.Empty(t, n.messages)
	approval, ok := res.Results["approval"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "requested", approval["status"])
}
