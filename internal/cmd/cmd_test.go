package cmd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-convgen/internal/config"
	"github.com/ahrav/go-convgen/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewLogHandler(t *testing.T) {
	t.Run("json_respects_level", func(t *testing.T) {
		var buf bytes.Buffer
		h, err := newLogHandler(&buf, config.LoggingConfig{Level: "warn", Format: "json"})
		require.NoError(t, err)

		logger := slog.New(h)
		logger.Info("hidden")
		logger.Warn("shown", "key", "value")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, `"msg":"shown"`)
		assert.Contains(t, out, `"key":"value"`)
	})

	t.Run("tint", func(t *testing.T) {
		var buf bytes.Buffer
		h, err := newLogHandler(&buf, config.LoggingConfig{Level: "debug", Format: "tint"})
		require.NoError(t, err)
		slog.New(h).Debug("colored")
		assert.Contains(t, buf.String(), "colored")
	})

	t.Run("unknown_format", func(t *testing.T) {
		_, err := newLogHandler(&bytes.Buffer{}, config.LoggingConfig{Format: "xml"})
		assert.Error(t, err)
	})

	t.Run("unknown_level", func(t *testing.T) {
		_, err := newLogHandler(&bytes.Buffer{}, config.LoggingConfig{Level: "loud"})
		assert.Error(t, err)
	})
}

func TestReadItems(t *testing.T) {
	const item = `{"persona":"nurse","emotion":"tired","topic":"budgeting","tier":"scenario"}`

	t.Run("json_array", func(t *testing.T) {
		path := writeFile(t, "items.json", "\n  ["+item+","+item+"]")
		items, err := readItems(nil, path)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, domain.TierScenario, items[0].Tier)
	})

	t.Run("jsonl", func(t *testing.T) {
		path := writeFile(t, "items.jsonl", item+"\n"+item+"\n"+item+"\n")
		items, err := readItems(nil, path)
		require.NoError(t, err)
		assert.Len(t, items, 3)
	})

	t.Run("stdin", func(t *testing.T) {
		items, err := readItems(strings.NewReader(item), "-")
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "nurse", items[0].Persona)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := readItems(nil, writeFile(t, "empty.json", "  \n"))
		assert.ErrorContains(t, err, "no items")

		_, err = readItems(nil, writeFile(t, "empty-array.json", "[]"))
		assert.ErrorContains(t, err, "no items")
	})

	t.Run("malformed_line", func(t *testing.T) {
		_, err := readItems(nil, writeFile(t, "bad.jsonl", item+"\n{oops\n"))
		assert.ErrorContains(t, err, "item 1")
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := readItems(nil, filepath.Join(t.TempDir(), "nope.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func conversationFile(t *testing.T, tier string) string {
	t.Helper()
	turns := []domain.Turn{
		{Role: domain.RoleUser, Content: "I just got my first paycheck and want to start a budget. " + strings.Repeat("x", 120)},
		{Role: domain.RoleAssistant, Content: "Start by listing your fixed costs like rent and insurance. " + strings.Repeat("y", 160)},
		{Role: domain.RoleUser, Content: "Rent is about a third of my income. Is that too much? " + strings.Repeat("x", 120)},
		{Role: domain.RoleAssistant, Content: "It is on the high side, so keep other categories lean for now. " + strings.Repeat("y", 160)},
		{Role: domain.RoleUser, Content: "What about saving for emergencies? " + strings.Repeat("x", 120)},
		{Role: domain.RoleAssistant, Content: "Aim for a small buffer first, then build toward three months. " + strings.Repeat("y", 160)},
	}
	raw, err := json.Marshal(map[string]any{"tier": tier, "turns": turns})
	require.NoError(t, err)
	return writeFile(t, "conversation.json", string(raw))
}

func TestScoreCommand(t *testing.T) {
	cfg = config.DefaultConfig()
	t.Cleanup(func() {
		cfg = nil
		scoreOutput = formatTable
		scoreTier = ""
	})

	t.Run("json_report", func(t *testing.T) {
		scoreOutput = formatJSON
		var out bytes.Buffer
		scoreCmd.SetOut(&out)

		require.NoError(t, runScore(scoreCmd, []string{conversationFile(t, "scenario")}))

		var report scoreReport
		require.NoError(t, json.Unmarshal(out.Bytes(), &report))
		assert.Greater(t, report.Score.Overall, 0.0)
		assert.LessOrEqual(t, report.Score.Overall, 10.0)
		assert.True(t, report.Score.Breakdown.Structure.Valid)
		assert.Equal(t, 6, report.Score.Breakdown.TurnCount.Actual)
		assert.Equal(t, report.Score.AutoFlagged, report.Flag.Flag)
	})

	t.Run("table_report", func(t *testing.T) {
		scoreOutput = formatTable
		var out bytes.Buffer
		scoreCmd.SetOut(&out)

		require.NoError(t, runScore(scoreCmd, []string{conversationFile(t, "template")}))
		assert.Contains(t, out.String(), "Overall")
		assert.Contains(t, out.String(), "turn_count")
		assert.Contains(t, out.String(), "Priority:")
	})

	t.Run("invalid_tier_in_file", func(t *testing.T) {
		scoreOutput = formatTable
		err := runScore(scoreCmd, []string{conversationFile(t, "gold")})
		assert.ErrorIs(t, err, domain.ErrInvalidTier)
	})

	t.Run("tier_flag_overrides_file", func(t *testing.T) {
		scoreOutput = formatJSON
		scoreTier = "edge_case"
		t.Cleanup(func() { scoreTier = "" })
		var out bytes.Buffer
		scoreCmd.SetOut(&out)

		require.NoError(t, runScore(scoreCmd, []string{conversationFile(t, "gold")}))
		var report scoreReport
		require.NoError(t, json.Unmarshal(out.Bytes(), &report))
		assert.NotEmpty(t, report.Score.Breakdown.TurnCount.Target)
	})

	t.Run("unknown_output", func(t *testing.T) {
		scoreOutput = "yaml"
		assert.Error(t, runScore(scoreCmd, []string{conversationFile(t, "scenario")}))
	})
}

func TestPostgresOnlyCommands(t *testing.T) {
	cfg = config.DefaultConfig()
	t.Cleanup(func() { cfg = nil })

	err := withDB(printVersion)(migrateStatusCmd, nil)
	assert.ErrorIs(t, err, errNeedsPostgres)

	_, err = persistentApp(conversationsStatsCmd)
	assert.ErrorIs(t, err, errNeedsPostgres)

	_, _, err = sharedLimiterApp(ratelimitStatusCmd, nil)
	assert.ErrorContains(t, err, "rate_limit.backend=redis")
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-10-19")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	assert.Equal(t, "convgen 1.2.3 (commit abc123, built 2026-10-19)\n", out.String())
}
