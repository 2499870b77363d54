package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/store"
)

const testConfigCUE = `package cadence

bounds: {
	posting: {
		max_per_day:          6
		min_interval_minutes: 90
	}
	forbidden: {
		topics: ["politics"]
	}
}

channels: main: {
	platform: "bluesky"
}

pipelines: "noop": {
	name: "Noop"
	steps: [
		{name: "note", action: "log", params: {message: "hello"}},
	]
}
`

const testRulesYAML = `version: 4
timing:
  best_hours: [9, 18]
  confidence: 0.9
content:
  - name: golang_tags
    pattern: "topic:golang"
    action: add_hashtags
    params:
      hashtags: ["#golang"]
    confidence: 0.7
hashtags:
  preferred: ["#golang"]
  confidence: 0.3
`

// writeConfigDir writes a config directory with the given CUE document and
// optional rules file.
func writeConfigDir(t *testing.T, cueDoc, rulesYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.cue"), []byte(cueDoc), 0o644))
	if rulesYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, config.RulesFile), []byte(rulesYAML), 0o644))
	}
	return dir
}

// seedDatabase creates a database whose recent corpus contains the given
// queue items.
func seedDatabase(t *testing.T, contents ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cadence.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for _, c := range contents {
		_, err := st.Enqueue(ctx, "main", c, "")
		require.NoError(t, err)
	}
	return path
}
