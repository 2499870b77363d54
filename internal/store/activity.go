package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/rules"
)

// TodayCount returns how many actions of a type were recorded for a
// platform since UTC midnight. The rules engine compares this against the
// bounds ceiling.
func (s *Store) TodayCount(ctx context.Context, actionType, platform string) (int, error) {
	dayStart := s.now().UTC().Format(time.DateOnly) + "T00:00:00Z"

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM activity_log
		WHERE action_type = ? AND platform = ? AND created_at >= ?
	`, actionType, platform, dayStart).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count today's %s on %s: %w", actionType, platform, err)
	}
	return count, nil
}

// LastActionTime returns when the platform's last post was recorded.
// A platform with no recorded posts yields an invalid LastSeen.
func (s *Store) LastActionTime(ctx context.Context, platform string) (rules.LastSeen, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at
		FROM activity_log
		WHERE action_type = 'post' AND platform = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, platform).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.LastSeen{}, nil
	}
	if err != nil {
		return rules.LastSeen{}, fmt.Errorf("last post time for %s: %w", platform, err)
	}

	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return rules.LastSeen{}, fmt.Errorf("parse last post time %q: %w", raw, err)
	}
	return rules.LastSeen{At: at, Valid: true}, nil
}

// RecordActivity appends one action to the activity log.
func (s *Store) RecordActivity(ctx context.Context, actionType, platform, target, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (action_type, platform, target, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, actionType, platform, target, detail, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record %s on %s: %w", actionType, platform, err)
	}
	return nil
}
