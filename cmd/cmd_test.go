package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/orchestration-engine/internal/broadcast"
	"yqhp/orchestration-engine/internal/config"
	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/usecase"
	"yqhp/orchestration-engine/pkg/controlsurface"
	"yqhp/orchestration-engine/pkg/types"
)

const modelTemplate = `id: scoring
name: Scoring
status: published
permissions:
  owner: alice
nodes:
  - id: input
    kind: input
  - id: stage
    kind: stage
    dependencies: [input]
  - id: output
    kind: output
    dependencies: [stage]
actions:
  - id: score
    parent_node_id: stage
    type: script
    config:
      script: %q
`

const cyclicModel = `id: loop
name: Loop
status: published
permissions:
  owner: alice
nodes:
  - id: a
    kind: stage
    dependencies: [b]
  - id: b
    kind: stage
    dependencies: [a]
`

func writeModel(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func scriptModel(t *testing.T, script string) string {
	t.Helper()
	return writeModel(t, "model.yaml", fmt.Sprintf(modelTemplate, script))
}

// resetFlags clears global flag variables and cobra's Changed marks between
// executions of the shared root command.
func resetFlags() {
	cfgFile, debug, quiet, setConfigs = "", false, false, nil
	runModelFile, runModelID, runUser, runEnv = "", "", "", ""
	runDryRun, runFollow = false, false
	runInputs, runKnowledge = nil, nil
	runTimeout, runJSONOutput = 0, ""

	var visit func(c *cobra.Command)
	visit = func(c *cobra.Command) {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
		for _, sub := range c.Commands() {
			visit(sub)
		}
	}
	visit(rootCmd)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var out, errOut bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidate_ValidModel(t *testing.T) {
	path := scriptModel(t, "1 + 1")

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "(scoring)")
	assert.Contains(t, out, "input → stage → output")
}

func TestValidate_CycleFails(t *testing.T) {
	good := scriptModel(t, "1")
	bad := writeModel(t, "loop.yaml", cyclicModel)

	out, err := execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1/2")
	assert.Contains(t, out, "✗ "+bad)
}

func TestRun_RequiresModel(t *testing.T) {
	_, err := execute(t, "run", "--user", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--model")
}

func TestRun_DryRun(t *testing.T) {
	path := scriptModel(t, "1 + 1")

	out, err := execute(t, "run", "--model", path, "--user", "alice", "--dry-run")
	require.NoError(t, err)

	var report usecase.ExecutionReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.True(t, report.DryRun)
	require.NotNil(t, report.Estimate)
	assert.Equal(t, []string{"input", "stage", "output"}, report.Estimate.ExecutionOrder)
	assert.Empty(t, report.Estimate.MissingHandlers)
}

func TestRun_Completes(t *testing.T) {
	path := scriptModel(t, "1 + 1")
	jsonOut := filepath.Join(t.TempDir(), "report.json")

	out, err := execute(t, "run", "--model", path, "--user", "alice", "--input", "limit=10", "--out-json", jsonOut)
	require.NoError(t, err)

	var report usecase.ExecutionReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, types.ExecutionStatusCompleted, report.Status)
	assert.Equal(t, []string{"input", "stage", "output"}, report.Execution.CompletedNodes)
	assert.FileExists(t, jsonOut)
}

func TestRun_FailedNodeExitsNonZero(t *testing.T) {
	path := scriptModel(t, "throw new Error('boom')")

	out, err := execute(t, "run", "--model", path, "--user", "alice", "--quiet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(types.ExecutionStatusFailed))
	assert.Equal(t, "failed\n", out)
}

func TestRun_Rejected(t *testing.T) {
	path := scriptModel(t, "1")

	_, err := execute(t, "run", "--model", path, "--user", "mallory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), usecase.MsgPermissionDenied)

	_, err = execute(t, "run", "--model", path, "--user", "alice", "--env", "moon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown environment: moon")
}

func TestParseInputs(t *testing.T) {
	inputs, err := parseInputs([]string{"region=eu", "limit=10", "flags={\"a\":true}", "empty="})
	require.NoError(t, err)
	assert.Equal(t, "eu", inputs["region"])
	assert.EqualValues(t, 10, inputs["limit"])
	assert.Equal(t, map[string]any{"a": true}, inputs["flags"])
	assert.Equal(t, "", inputs["empty"])

	_, err = parseInputs([]string{"novalue"})
	assert.Error(t, err)
}

func TestFollow_StopsOnFinalEvent(t *testing.T) {
	b := broadcast.NewMemoryBroadcaster()
	defer b.Close()
	channel := broadcast.ExecutionChannel("fo:", "exec-1")

	var (
		mu   sync.Mutex
		seen []events.EventType
	)
	h := events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- follow(context.Background(), b, channel, h) }()

	// 订阅建立前的消息会丢失，持续发布直到 follow 返回
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			require.NotEmpty(t, seen)
			assert.Equal(t, events.WorkflowExecutionCompleted, seen[len(seen)-1])
			return
		case <-ticker.C:
			_ = b.Publish(context.Background(), channel, broadcast.Message{EventType: string(events.NodeExecutionCompleted), AggregateID: "stage"})
			_ = b.Publish(context.Background(), channel, broadcast.Message{EventType: string(events.WorkflowExecutionCompleted), AggregateID: "exec-1"})
		case <-deadline:
			t.Fatal("follow did not return")
		}
	}
}

func TestBuildApp_SharesDefaultControlRegistry(t *testing.T) {
	kb, err := loadKnowledge(nil)
	require.NoError(t, err)
	a, err := buildApp(context.Background(), config.DefaultConfig(), kb)
	require.NoError(t, err)
	defer func() { _ = a.close(time.Second) }()

	assert.Same(t, controlsurface.Default(), a.usecase.Controls())
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}
