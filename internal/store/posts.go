package store

import (
	"context"
	"fmt"
	"time"
)

// Post is one published piece of content.
type Post struct {
	ID         int64
	Channel    string
	Platform   string
	ExternalID string
	Content    string
	Topic      string
	PostedAt   time.Time
}

// InsertPost records a published post.
func (s *Store) InsertPost(ctx context.Context, p Post) (int64, error) {
	postedAt := p.PostedAt
	if postedAt.IsZero() {
		postedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (channel, platform, external_id, content, topic, posted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Channel, p.Platform, p.ExternalID, p.Content, p.Topic,
		postedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert post id: %w", err)
	}
	return id, nil
}

// RecentContent returns up to limit texts for the duplicate-check corpus:
// pending queue items first (unposted content is the most important not to
// repeat), then published posts for the platform, newest first.
func (s *Store) RecentContent(ctx context.Context, platform string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	out := make([]string, 0, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT content
		FROM content_queue
		WHERE content != '' AND status IN ('pending', 'claimed')
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent queue content: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan queue content: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue content: %w", err)
	}

	if len(out) >= limit {
		return out[:limit], nil
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT content
		FROM posts
		WHERE content != '' AND (? = '' OR platform = ?)
		ORDER BY posted_at DESC, id DESC
		LIMIT ?
	`, platform, platform, limit-len(out))
	if err != nil {
		return nil, fmt.Errorf("recent posts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan post content: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	return out, nil
}
