package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditCleanCorpus(t *testing.T) {
	db := seedDatabase(t,
		"shipping the roadmap update",
		"community call notes for september",
		"a thread about generics in practice",
	)

	buf := &bytes.Buffer{}
	cmd := NewAuditCommand(&RootOptions{Database: db, Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "OK: no duplicate pairs in 3 recent post(s)")
}

func TestAuditFindsDuplicatePairs(t *testing.T) {
	db := seedDatabase(t,
		"Shipping the new roadmap today",
		"a thread about generics in practice",
		"shipping the new roadmap today!",
	)

	buf := &bytes.Buffer{}
	cmd := NewAuditCommand(&RootOptions{Database: db, Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error ["+ErrCodeDuplicate+"]")
	assert.Contains(t, buf.String(), "1 duplicate pair(s) in 3 recent post(s)")
	assert.Contains(t, buf.String(), "100%")
}

func TestAuditJSONOutput(t *testing.T) {
	db := seedDatabase(t,
		"Shipping the new roadmap today",
		"shipping the new roadmap today!",
	)

	buf := &bytes.Buffer{}
	cmd := NewAuditCommand(&RootOptions{Database: db, Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	dups, ok := data["duplicates"].([]any)
	require.True(t, ok)
	require.Len(t, dups, 1)
	pair := dups[0].(map[string]any)
	assert.InDelta(t, 100.0, pair["score"].(float64), 0.01)
}

func TestAuditMissingDatabaseIsCommandError(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewAuditCommand(&RootOptions{Database: "/nonexistent/cadence.db", Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly ten", truncate("exactly ten", 11))
	assert.Equal(t, "a very ...", truncate("a very long string", 10))

	// Multibyte content must be cut on rune boundaries.
	got := truncate("오늘의 로드맵 업데이트를 공유합니다", 10)
	assert.Equal(t, "오늘의 로드맵...", got)
	assert.True(t, utf8.ValidString(got))
}
