package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aikogroup/aiko-gpt-sub001/graph/gate"
)

type cliSnapshot struct {
	ThreadID     string                     `json:"thread_id"`
	Graph        string                     `json:"graph"`
	Status       string                     `json:"status"`
	PendingNodes []string                   `json:"pending_nodes"`
	Values       map[string]json.RawMessage `json:"values"`
	Config       map[string]string          `json:"config"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := writeFile(t, dir, "aiko.yaml", `
store:
  driver: sqlite
  path: `+filepath.Join(dir, "threads.db")+`
llm:
  provider: mock
  max_attempts: 1
  retry_delay: 0s
log:
  level: error
`)
	return cfg, dir
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decode(t *testing.T, out string) cliSnapshot {
	t.Helper()
	var snap cliSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap), out)
	return snap
}

func items(t *testing.T, raw json.RawMessage) []gate.Item {
	t.Helper()
	var list []gate.Item
	require.NoError(t, json.Unmarshal(raw, &list))
	return list
}

func TestCLI_NeedAnalysisRoundTrip(t *testing.T) {
	cfg, dir := testConfig(t)
	transcript := writeFile(t, dir, "cfo.txt", "We re-key every supplier invoice by hand.")

	out, err := run(t, "", "-c", cfg, "start", "need_analysis",
		"--company", "Acme Logistics", "-t", transcript, "--thread", "acme-1")
	require.NoError(t, err)
	snap := decode(t, out)
	assert.Equal(t, "acme-1", snap.ThreadID)
	assert.Equal(t, "paused", snap.Status)
	assert.Equal(t, []string{"human_validation"}, snap.PendingNodes)
	assert.Equal(t, "need_analysis", snap.Config["pipeline"])

	proposed := items(t, snap.Values["proposed_needs"])
	require.Len(t, proposed, 3)

	decision, err := json.Marshal(gate.Decision{
		Validated:  proposed[:2],
		Rejected:   proposed[2:],
		UserAction: gate.ActionAdvance,
	})
	require.NoError(t, err)

	out, err = run(t, string(decision), "-c", cfg, "resume", "acme-1", "-d", "-")
	require.NoError(t, err)
	snap = decode(t, out)
	assert.Equal(t, "paused", snap.Status)
	assert.Equal(t, []string{"validate_use_cases"}, snap.PendingNodes)
	assert.Len(t, items(t, snap.Values["validated_needs"]), 2)
	assert.Len(t, items(t, snap.Values["proposed_quick_wins"]), 3)

	out, err = run(t, "", "-c", cfg, "resume", "acme-1", "--action", "advance")
	require.NoError(t, err)
	snap = decode(t, out)
	assert.Equal(t, "done", snap.Status)
	assert.Empty(t, snap.PendingNodes)

	out, err = run(t, "", "-c", cfg, "inspect", "acme-1")
	require.NoError(t, err)
	assert.Equal(t, "done", decode(t, out).Status)

	out, err = run(t, "", "-c", cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "acme-1")
	assert.Contains(t, out, "need_analysis")

	_, err = run(t, "", "-c", cfg, "resume", "acme-1", "--action", "advance")
	assert.Error(t, err, "a finished thread cannot be resumed")

	out, err = run(t, "", "-c", cfg, "delete", "acme-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted thread acme-1")

	_, err = run(t, "", "-c", cfg, "inspect", "acme-1")
	assert.Error(t, err)
}

func TestCLI_ExecutiveSummaryPausesAtRecommendations(t *testing.T) {
	cfg, dir := testConfig(t)
	transcript := writeFile(t, dir, "ceo.txt", "Nobody trusts the demand forecast.")

	out, err := run(t, "", "-c", cfg, "start", "executive_summary",
		"--company", "Acme Logistics", "-t", transcript)
	require.NoError(t, err)
	snap := decode(t, out)
	assert.NotEmpty(t, snap.ThreadID)
	assert.Equal(t, "paused", snap.Status)
	assert.Equal(t, []string{"validate_recommendations"}, snap.PendingNodes)
	assert.NotEmpty(t, snap.Values["maturity"])
}

func TestCLI_StartErrors(t *testing.T) {
	cfg, _ := testConfig(t)

	_, err := run(t, "", "-c", cfg, "start", "unknown_pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: executive_summary, need_analysis, value_chain")

	_, err = run(t, "", "-c", cfg, "start", "need_analysis", "-t", "does-not-exist.txt")
	assert.ErrorContains(t, err, "read transcript")
}

func TestCLI_ResumeRequiresDecision(t *testing.T) {
	cfg, _ := testConfig(t)
	_, err := run(t, "", "-c", cfg, "resume", "some-thread")
	assert.ErrorContains(t, err, "--decision or --action")
}

func TestCLI_Pipelines(t *testing.T) {
	cfg, _ := testConfig(t)
	out, err := run(t, "", "-c", cfg, "pipelines")
	require.NoError(t, err)

	for _, want := range []string{
		"need_analysis",
		"gate human_validation (decision field validation_result)",
		"gate validate_use_cases (decision field use_case_validation)",
		"executive_summary",
		"value_chain",
	} {
		assert.Contains(t, out, want)
	}
}

func TestCLI_ListEmpty(t *testing.T) {
	cfg, _ := testConfig(t)
	out, err := run(t, "", "-c", cfg, "list")
	require.NoError(t, err)
	assert.Equal(t, "No threads found.\n", out)
}
