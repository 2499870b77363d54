package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/cadence/internal/pipeline"
)

// insertableColumns whitelists the tables and columns the generic insert
// step may touch. Identifiers from pipeline definitions never reach SQL
// unchecked.
var insertableColumns = map[string]map[string]bool{
	"posts": {
		"channel": true, "platform": true, "external_id": true,
		"content": true, "topic": true, "posted_at": true,
	},
	"content_queue": {
		"channel": true, "content": true, "topic": true, "status": true,
	},
	"activity_log": {
		"action_type": true, "platform": true, "target": true, "detail": true,
	},
	"approvals": {
		"run_id": true, "content": true, "status": true,
	},
}

// Insert writes one record from a db_insert step. Table and column names
// are validated against the schema whitelist; values are always bound as
// parameters.
func (s *Store) Insert(ctx context.Context, rec pipeline.Record) error {
	allowed, ok := insertableColumns[rec.Table]
	if !ok {
		return fmt.Errorf("insert: table %q is not insertable", rec.Table)
	}
	if len(rec.Fields) == 0 {
		return fmt.Errorf("insert into %s: no fields", rec.Table)
	}

	cols := make([]string, 0, len(rec.Fields))
	for col := range rec.Fields {
		if !allowed[col] {
			return fmt.Errorf("insert into %s: column %q is not insertable", rec.Table, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	marks := make([]string, len(cols))
	for i, col := range cols {
		args[i] = rec.Fields[col]
		marks[i] = "?"
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		rec.Table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", rec.Table, err)
	}
	return nil
}
