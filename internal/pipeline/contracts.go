package pipeline

import (
	"context"

	"github.com/roach88/cadence/internal/rules"
)

// Storage is the narrow read/write contract to the persistence
// collaborator. store.Store implements it; tests use in-memory fakes.
type Storage interface {
	rules.ActivityReader

	// RecentContent returns up to limit recent post texts for a
	// platform, newest first. This bounds the similarity corpus.
	RecentContent(ctx context.Context, platform string, limit int) ([]string, error)

	// PopQueueItem fetches and claims the next pending work item,
	// optionally channel-scoped. Returns nil when the queue is empty.
	PopQueueItem(ctx context.Context, channel string) (*QueueItem, error)

	// Insert writes one record.
	Insert(ctx context.Context, rec Record) error

	// RecordActivity appends one performed action to the activity log the
	// daily-limit checks count against.
	RecordActivity(ctx context.Context, actionType, platform, target, detail string) error

	// Query runs a declarative lookup and returns its rows.
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// QueueItem is one pending piece of work from the content queue.
type QueueItem struct {
	ID      int64
	Channel string
	Content string
	Topic   string
}

// Vars exposes a queue item to templates as a context value.
func (q *QueueItem) Vars() map[string]any {
	return map[string]any{
		"id":      q.ID,
		"channel": q.Channel,
		"content": q.Content,
		"topic":   q.Topic,
	}
}

// Record is a storage insert request.
type Record struct {
	Table  string
	Fields map[string]any
}

// PostResult is the shared result shape for publish and engagement
// actions.
type PostResult struct {
	Success bool
	PostID  string
	Err     string
}

// Publisher performs platform actions. One implementation per platform;
// all side effects in this core go through it.
type Publisher interface {
	Platform() string
	Post(ctx context.Context, content string) (PostResult, error)
	Like(ctx context.Context, targetID string) (PostResult, error)
	Follow(ctx context.Context, userID string) (PostResult, error)
	Repost(ctx context.Context, postID string) (PostResult, error)
	Reply(ctx context.Context, postID, content string) (PostResult, error)
}

// NotifyResult reports an outbound notification.
type NotifyResult struct {
	Success   bool
	MessageID string
}

// Notifier delivers outbound messages (chat dispatch). notify.Console is
// the default implementation.
type Notifier interface {
	Send(ctx context.Context, message, format string) (NotifyResult, error)
}

// Rephraser regenerates content for the rephrase failure policy. The
// replacement must come from a real content-regeneration collaborator, not
// a blind retry.
type Rephraser interface {
	Rephrase(ctx context.Context, content, reason string) (string, error)
}

// ToneAdapter rewrites content into a requested style for the tone service
// category.
type ToneAdapter interface {
	Adapt(ctx context.Context, content, style string) (string, error)
}

// Source provides the configuration documents a run needs. config.Snapshot
// implements it; a snapshot is immutable, reloading produces a new one.
type Source interface {
	Pipeline(id string) (*Definition, error)
	Bounds() rules.Bounds
	Rules() rules.State
	Channel(id string) (*ChannelProfile, error)
}
