package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/pipeline"
)

// Enqueue appends one pending content item to the queue and returns its id.
func (s *Store) Enqueue(ctx context.Context, channel, content, topic string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO content_queue (channel, content, topic, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)
	`, channel, content, topic, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("enqueue item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue item id: %w", err)
	}
	return id, nil
}

// PopQueueItem claims the oldest pending item, channel-scoped when channel
// is non-empty. Returns nil when the queue is empty. Claiming is a status
// transition inside one transaction, so a crashed run leaves the item in
// 'claimed' rather than losing or double-serving it.
func (s *Store) PopQueueItem(ctx context.Context, channel string) (*pipeline.QueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pop queue item: begin tx: %w", err)
	}
	defer tx.Rollback()

	var item pipeline.QueueItem
	err = tx.QueryRowContext(ctx, `
		SELECT id, channel, content, topic
		FROM content_queue
		WHERE status = 'pending' AND (? = '' OR channel = ?)
		ORDER BY id ASC
		LIMIT 1
	`, channel, channel).Scan(&item.ID, &item.Channel, &item.Content, &item.Topic)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop queue item: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE content_queue
		SET status = 'claimed', claimed_at = ?
		WHERE id = ? AND status = 'pending'
	`, s.now().UTC().Format(time.RFC3339), item.ID)
	if err != nil {
		return nil, fmt.Errorf("claim queue item %d: %w", item.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pop queue item: commit: %w", err)
	}
	return &item, nil
}

// MarkPosted transitions a claimed item to 'posted'.
func (s *Store) MarkPosted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE content_queue SET status = 'posted' WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("mark queue item %d posted: %w", id, err)
	}
	return nil
}

// Requeue returns a claimed item to 'pending', e.g. after a failed run.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE content_queue
		SET status = 'pending', claimed_at = NULL
		WHERE id = ? AND status = 'claimed'
	`, id)
	if err != nil {
		return fmt.Errorf("requeue item %d: %w", id, err)
	}
	return nil
}

// QueueDepth counts pending items, channel-scoped when channel is
// non-empty.
func (s *Store) QueueDepth(ctx context.Context, channel string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM content_queue
		WHERE status = 'pending' AND (? = '' OR channel = ?)
	`, channel, channel).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return count, nil
}
