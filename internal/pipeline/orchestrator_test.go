package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/rules"
)

// fixedNow is a Tuesday at 14:00.
var fixedNow = time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC)

type fakeStorage struct {
	counts  map[string]int // "action/platform"
	last    map[string]rules.LastSeen
	recent  []string
	queue   []*QueueItem
	inserts []Record
	queries []string
}

func (f *fakeStorage) TodayCount(_ context.Context, actionType, platform string) (int, error) {
	return f.counts[actionType+"/"+platform], nil
}

func (f *fakeStorage) LastActionTime(_ context.Context, platform string) (rules.LastSeen, error) {
	return f.last[platform], nil
}

func (f *fakeStorage) RecentContent(_ context.Context, _ string, limit int) ([]string, error) {
	if limit > 0 && limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeStorage) PopQueueItem(_ context.Context, _ string) (*QueueItem, error) {
	if len(f.queue) == 0 {
		return nil, nil
	}
	item := f.queue[0]
	f.queue = f.queue[1:]
	return item, nil
}

func (f *fakeStorage) Insert(_ context.Context, rec Record) error {
	f.inserts = append(f.inserts, rec)
	return nil
}

func (f *fakeStorage) RecordActivity(_ context.Context, actionType, platform, _, _ string) error {
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[actionType+"/"+platform]++
	return nil
}

func (f *fakeStorage) Query(_ context.Context, query string, _ ...any) ([]map[string]any, error) {
	f.queries = append(f.queries, query)
	return []map[string]any{{"n": int64(1)}}, nil
}

type fakeSource struct {
	defs     map[string]*Definition
	bounds   rules.Bounds
	state    rules.State
	channels map[string]*ChannelProfile
}

func (f *fakeSource) Pipeline(id string) (*Definition, error) {
	def, ok := f.defs[id]
	if !ok {
		return nil, fmt.Errorf("undefined pipeline")
	}
	return def, nil
}

func (f *fakeSource) Bounds() rules.Bounds { return f.bounds }
func (f *fakeSource) Rules() rules.State   { return f.state }

func (f *fakeSource) Channel(id string) (*ChannelProfile, error) {
	ch, ok := f.channels[id]
	if !ok {
		return nil, fmt.Errorf("undefined channel")
	}
	return ch, nil
}

type fakePublisher struct {
	platform string
	posts    []string
	likes    []string
	replies  []string
	// reject fails any post or reply whose content contains this substring.
	reject string
}

func (f *fakePublisher) Platform() string { return f.platform }

func (f *fakePublisher) Post(_ context.Context, content string) (PostResult, error) {
	if f.reject != "" && strings.Contains(content, f.reject) {
		return PostResult{}, fmt.Errorf("upstream rejected content")
	}
	f.posts = append(f.posts, content)
	return PostResult{Success: true, PostID: fmt.Sprintf("post-%d", len(f.posts))}, nil
}

func (f *fakePublisher) Like(_ context.Context, targetID string) (PostResult, error) {
	f.likes = append(f.likes, targetID)
	return PostResult{Success: true, PostID: targetID}, nil
}

func (f *fakePublisher) Follow(_ context.Context, userID string) (PostResult, error) {
	return PostResult{Success: true, PostID: userID}, nil
}

func (f *fakePublisher) Repost(_ context.Context, postID string) (PostResult, error) {
	return PostResult{Success: true, PostID: postID}, nil
}

func (f *fakePublisher) Reply(_ context.Context, postID, content string) (PostResult, error) {
	if f.reject != "" && strings.Contains(content, f.reject) {
		return PostResult{}, fmt.Errorf("upstream rejected content")
	}
	f.replies = append(f.replies, postID+": "+content)
	return PostResult{Success: true, PostID: "reply-1"}, nil
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Send(_ context.Context, message, _ string) (NotifyResult, error) {
	f.messages = append(f.messages, message)
	return NotifyResult{Success: true, MessageID: fmt.Sprintf("msg-%d", len(f.messages))}, nil
}

type fakeRephraser struct {
	replacement string
	calls       int
}

func (f *fakeRephraser) Rephrase(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.replacement, nil
}

func testBounds() rules.Bounds {
	return rules.Bounds{
		Posting: rules.PostingBounds{MaxPerDay: 6, MinIntervalMinutes: 90},
		Engagement: rules.EngagementBounds{
			MaxLikesPerDay:   50,
			MaxFollowsPerDay: 20,
			MaxRepostsPerDay: 10,
		},
		Confidence: rules.ConfidenceLevels{
			MinToApply:      0.6,
			AutoApply:       0.85,
			RequireApproval: 0.95,
		},
	}
}

func testSource(defs map[string]*Definition) *fakeSource {
	return &fakeSource{
		defs:   defs,
		bounds: testBounds(),
		channels: map[string]*ChannelProfile{
			"main": {ID: "main", Platform: "bluesky"},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(src *fakeSource, st *fakeStorage, opts ...RunnerOption) *Runner {
	base := []RunnerOption{
		WithClock(func() time.Time { return fixedNow }),
		WithRunLogger(quietLogger()),
	}
	return NewRunner(src, st, append(base, opts...)...)
}

func TestRunEmptyQueueEndsGracefully(t *testing.T) {
	src := testSource(map[string]*Definition{
		"morning-post": {
			ID:   "morning-post",
			Name: "Morning Post",
			Steps: []Step{
				{Name: "fetch_item", Output: "item", Exec: ActionExec{Action: "queue_pop"}},
				{Name: "publish", Input: "${item.content}", Exec: ActionExec{Action: "channel.post"}},
			},
		},
	})
	st := &fakeStorage{}
	r := newTestRunner(src, st)

	res := r.Run(context.Background(), "morning-post", Options{DryRun: true, Channel: "main"})

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.StepsExecuted)
	require.Len(t, res.StepResults, 1)
	assert.True(t, res.StepResults[0].Skipped)
	assert.Equal(t, "queue empty", res.StepResults[0].SkipReason)
}

func TestRunDryRunSuppressesPublisher(t *testing.T) {
	src := testSource(map[string]*Definition{
		"morning-post": {
			ID: "morning-post",
			Steps: []Step{
				{Name: "fetch_item", Output: "item", Exec: ActionExec{Action: "queue_pop"}},
				{Name: "publish", Input: "${item.content}", Output: "post", Exec: ActionExec{Action: "channel.post"}},
			},
		},
	})
	st := &fakeStorage{queue: []*QueueItem{{ID: 1, Channel: "main", Content: "shipping the roadmap today"}}}
	pub := &fakePublisher{platform: "bluesky"}
	r := newTestRunner(src, st, WithPublisher(pub))

	res := r.Run(context.Background(), "morning-post", Options{DryRun: true, Channel: "main"})

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.StepsExecuted)
	assert.Empty(t, pub.posts)

	post, ok := res.Results["post"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "dry-run", post["post_id"])
}

func TestRunPostsThroughPublisher(t *testing.T) {
	src := testSource(map[string]*Definition{
		"morning-post": {
			ID: "morning-post",
			Steps: []Step{
				{Name: "fetch_item", Output: "item", Exec: ActionExec{Action: "queue_pop"}},
				{Name: "publish", Input: "${item.content}", Output: "post", Exec: ActionExec{Action: "channel.post"}},
			},
		},
	})
	st := &fakeStorage{queue: []*QueueItem{{ID: 1, Channel: "main", Content: "shipping the roadmap today"}}}
	pub := &fakePublisher{platform: "bluesky"}
	r := newTestRunner(src, st, WithPublisher(pub))

	res := r.Run(context.Background(), "morning-post", Options{Channel: "main"})

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	require.Len(t, pub.posts, 1)
	assert.Equal(t, "shipping the roadmap today", pub.posts[0])
	assert.Equal(t, 1, st.counts["post/bluesky"])
}

func TestRunOnFailContinue(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				// No input: channel.post fails.
				{Name: "publish", OnFail: OnFailContinue, Exec: ActionExec{Action: "channel.post"}},
				{Name: "note", Input: "still here", Output: "note", Exec: ActionExec{Action: "log"}},
			},
		},
	})
	r := newTestRunner(src, &fakeStorage{})

	res := r.Run(context.Background(), "p", Options{Channel: "main", DryRun: true})

	assert.NoError(t, res.Err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.StepsExecuted)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "publish")
	assert.Equal(t, "still here", res.Results["note"])
}

func TestRunStopOnFailure(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{Name: "publish", Exec: ActionExec{Action: "channel.post"}},
				{Name: "note", Input: "unreached", Output: "note", Exec: ActionExec{Action: "log"}},
			},
			OnError: []Step{
				{Name: "report", Input: "run failed: ${results.error}", Output: "reported", Exec: ActionExec{Action: "log"}},
			},
		},
	})
	r := newTestRunner(src, &fakeStorage{})

	res := r.Run(context.Background(), "p", Options{Channel: "main", DryRun: true})

	require.Error(t, res.Err)
	assert.False(t, res.Success)
	assert.Equal(t, "publish", res.FailedStep)
	assert.Equal(t, 1, res.StepsExecuted)
	assert.NotContains(t, res.Results, "note")

	reported, _ := res.Results["reported"].(string)
	assert.Contains(t, reported, "run failed:")
}

func TestRunOnCompleteHandler(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{Name: "note", Input: "ok", Output: "note", Exec: ActionExec{Action: "log"}},
			},
			OnComplete: []Step{
				{Name: "done", Input: "finished", Output: "done", Exec: ActionExec{Action: "log"}},
			},
		},
	})
	r := newTestRunner(src, &fakeStorage{})

	res := r.Run(context.Background(), "p", Options{})

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, "finished", res.Results["done"])
}

func TestRunTimeWindow(t *testing.T) {
	def := &Definition{
		ID:         "p",
		Conditions: &Conditions{TimeRangeStart: "09:00", TimeRangeEnd: "12:00"},
		Steps: []Step{
			{Name: "note", Input: "ran", Output: "note", Exec: ActionExec{Action: "log"}},
		},
	}
	src := testSource(map[string]*Definition{"p": def})
	r := newTestRunner(src, &fakeStorage{})

	res := r.Run(context.Background(), "p", Options{})
	require.Error(t, res.Err)
	assert.True(t, IsPreconditionError(res.Err))
	assert.Equal(t, 0, res.StepsExecuted)

	forced := r.Run(context.Background(), "p", Options{Force: true})
	require.NoError(t, forced.Err)
	assert.True(t, forced.Success)
}

func TestRunTimingCheckConfidenceGate(t *testing.T) {
	def := func() *Definition {
		return &Definition{
			ID:         "p",
			Conditions: &Conditions{TimingCheck: true, MinConfidence: 0.7},
			Steps: []Step{
				{Name: "note", Input: "ran", Exec: ActionExec{Action: "log"}},
			},
		}
	}

	t.Run("confident avoid hour blocks", func(t *testing.T) {
		src := testSource(map[string]*Definition{"p": def()})
		src.state.Timing = rules.TimingRule{AvoidHours: []int{14}, Confidence: 0.9}
		r := newTestRunner(src, &fakeStorage{})

		res := r.Run(context.Background(), "p", Options{})
		require.Error(t, res.Err)
		assert.True(t, IsPreconditionError(res.Err))
	})

	t.Run("low confidence never blocks", func(t *testing.T) {
		src := testSource(map[string]*Definition{"p": def()})
		src.state.Timing = rules.TimingRule{AvoidHours: []int{14}, Confidence: 0.5}
		r := newTestRunner(src, &fakeStorage{})

		res := r.Run(context.Background(), "p", Options{})
		assert.NoError(t, res.Err)
		assert.True(t, res.Success)
	})

	t.Run("below pipeline floor does not block", func(t *testing.T) {
		src := testSource(map[string]*Definition{"p": def()})
		src.defs["p"].Conditions.MinConfidence = 0.95
		src.state.Timing = rules.TimingRule{AvoidHours: []int{14}, Confidence: 0.9}
		r := newTestRunner(src, &fakeStorage{})

		res := r.Run(context.Background(), "p", Options{})
		assert.NoError(t, res.Err)
	})
}

func TestRunUnknownPipeline(t *testing.T) {
	r := newTestRunner(testSource(nil), &fakeStorage{})

	res := r.Run(context.Background(), "ghost", Options{})
	require.Error(t, res.Err)
	assert.True(t, IsConfigError(res.Err))
}

func TestRunSimilarityDenial(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{
					Name:  "check",
					Input: "shipping the roadmap today",
					Exec: ServiceExec{
						Category: "validator",
						ID:       "similarity",
						Params: map[string]any{
							"compare_set": []any{"shipping the roadmap today"},
						},
					},
				},
			},
		},
	})
	r := newTestRunner(src, &fakeStorage{})

	res := r.Run(context.Background(), "p", Options{Channel: "main"})

	require.Error(t, res.Err)
	assert.True(t, IsDenialError(res.Err))
	assert.Equal(t, "check", res.FailedStep)

	var denial *DenialError
	require.True(t, errors.As(res.Err, &denial))
	assert.Contains(t, denial.Reason, "100% similar")
	assert.Contains(t, denial.Reason, "threshold 60%")
}

func TestRunDailyLimitDenial(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Steps: []Step{
				{Name: "publish", Input: "fresh content", Exec: ActionExec{Action: "channel.post"}},
			},
		},
	})
	st := &fakeStorage{counts: map[string]int{"post/bluesky": 6}}
	r := newTestRunner(src, st)

	res := r.Run(context.Background(), "p", Options{Channel: "main", DryRun: true})

	require.Error(t, res.Err)
	var denial *DenialError
	require.True(t, errors.As(res.Err, &denial))
	assert.Equal(t, "daily_limit", denial.Rule)
	assert.Equal(t, "Daily limit reached for post: 6/6", denial.Reason)
}

func TestInClockWindow(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2025, 7, 1, h, m, 0, 0, time.UTC)
	}

	tests := []struct {
		name       string
		now        time.Time
		start, end string
		want       bool
	}{
		{"inside", at(10, 30), "09:00", "12:00", true},
		{"before", at(8, 59), "09:00", "12:00", false},
		{"after", at(12, 1), "09:00", "12:00", false},
		{"boundary start", at(9, 0), "09:00", "12:00", true},
		{"boundary end", at(12, 0), "09:00", "12:00", true},
		{"overnight late", at(23, 0), "22:00", "06:00", true},
		{"overnight early", at(5, 0), "22:00", "06:00", true},
		{"overnight outside", at(14, 0), "22:00", "06:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := inClockWindow(tt.now, tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := inClockWindow(at(10, 0), "25:99", "12:00")
	assert.Error(t, err)
}
