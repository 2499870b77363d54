package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesListsLearnedRules(t *testing.T) {
	configDir := writeConfigDir(t, testConfigCUE, testRulesYAML)

	buf := &bytes.Buffer{}
	cmd := NewRulesCommand(&RootOptions{ConfigDir: configDir, Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Learned rules version 4")
	assert.Contains(t, out, "timing/posting_windows")
	assert.Contains(t, out, "content/golang_tags")
	assert.Contains(t, out, "hashtags/preferred")
}

func TestRulesGatesByConfidence(t *testing.T) {
	configDir := writeConfigDir(t, testConfigCUE, testRulesYAML)

	buf := &bytes.Buffer{}
	cmd := NewRulesCommand(&RootOptions{ConfigDir: configDir, Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)

	rows, ok := data["rules"].([]any)
	require.True(t, ok)
	gates := map[string]string{}
	for _, r := range rows {
		row := r.(map[string]any)
		gates[row["kind"].(string)+"/"+row["name"].(string)] = row["gate"].(string)
	}

	// Default thresholds: floor 0.6, auto-apply 0.85, approval 0.95.
	assert.Equal(t, "auto_apply", gates["timing/posting_windows"]) // 0.9
	assert.Equal(t, "active", gates["content/golang_tags"])       // 0.7
	assert.Equal(t, "ignore", gates["hashtags/preferred"])        // 0.3
}

func TestRulesEmptyState(t *testing.T) {
	configDir := writeConfigDir(t, testConfigCUE, "")

	buf := &bytes.Buffer{}
	cmd := NewRulesCommand(&RootOptions{ConfigDir: configDir, Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no learned rules")
}
