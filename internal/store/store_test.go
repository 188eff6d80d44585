package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/orchestration-engine/internal/config"
	"yqhp/orchestration-engine/pkg/types"
)

func openSQLite(t *testing.T) *GormStore {
	t.Helper()
	s, err := OpenGorm(Options{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// repositories 对每种实现运行同一组用例
func repositories(t *testing.T) map[string]Repository {
	return map[string]Repository{
		"memory": NewMemoryStore(),
		"sqlite": openSQLite(t),
	}
}

func TestLoadModelFile(t *testing.T) {
	m, err := LoadModelFile("testdata/pipeline.yaml")
	require.NoError(t, err)

	assert.Equal(t, "pipeline", m.ID)
	assert.Equal(t, types.ModelStatusPublished, m.Status)
	assert.Equal(t, "alice", m.Permissions.Owner)
	assert.Equal(t, []string{"bob"}, m.Permissions.Executors)
	require.Len(t, m.Nodes, 3)
	assert.Equal(t, "pipeline", m.Nodes[0].ModelID)
	assert.Equal(t, types.ExecutionParallel, m.Nodes[1].ExecutionType)

	score, ok := m.Action("score")
	require.True(t, ok)
	assert.Equal(t, &types.RetryPolicy{
		MaxRetries:        2,
		RetryDelay:        100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxRetryDelay:     time.Second,
	}, score.RetryPolicy)

	lookup, ok := m.Action("lookup")
	require.True(t, ok)
	assert.Nil(t, lookup.RetryPolicy, "undeclared policy falls back to the engine default")
}

func TestParseModel_DeclaredZeroRetries(t *testing.T) {
	m, err := ParseModel([]byte(`id: once
actions:
  - id: a
    parent_node_id: s
    type: script
    retry_policy:
      max_retries: 0
`))
	require.NoError(t, err)
	a, ok := m.Action("a")
	require.True(t, ok)
	require.NotNil(t, a.RetryPolicy)
	assert.Equal(t, types.RetryPolicy{}, *a.RetryPolicy)
}

func TestParseModel_RequiresID(t *testing.T) {
	_, err := ParseModel([]byte("name: nameless\n"))
	assert.Error(t, err)
	_, err = ParseModel([]byte("::: not yaml"))
	assert.Error(t, err)
}

func TestRepository_Models(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m, err := LoadModelFile("testdata/pipeline.yaml")
			require.NoError(t, err)

			_, err = repo.LoadModel(ctx, "pipeline")
			assert.True(t, IsNotFound(err))

			require.NoError(t, repo.SaveModel(ctx, m))
			got, err := repo.LoadModel(ctx, "pipeline")
			require.NoError(t, err)
			assert.Equal(t, m.ID, got.ID)
			assert.Equal(t, m.Permissions, got.Permissions)
			assert.Len(t, got.Actions, 2)
			assert.Equal(t, m.Actions[1].RetryPolicy, got.Actions[1].RetryPolicy)

			got.Name = "mutated"
			again, err := repo.LoadModel(ctx, "pipeline")
			require.NoError(t, err)
			assert.Equal(t, "Scoring pipeline", again.Name)

			list, err := repo.ListModels(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestRepository_Executions(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			exec := types.NewExecution("exec-1", "pipeline", "alice", "development")
			require.NoError(t, exec.Transition(types.ExecutionStatusRunning))

			result := types.NewWorkflowResult("pipeline")
			result.Record(&types.NodeResult{NodeID: "input", Status: types.NodeStatusCompleted})
			result.Record(&types.NodeResult{NodeID: "stage", Status: types.NodeStatusFailed})
			result.Record(&types.NodeResult{NodeID: "output", Status: types.NodeStatusSkipped})
			result.Errors = append(result.Errors, types.ExecutionError{NodeID: "stage", Code: "EXECUTION_ERROR", Message: "boom"})
			result.Finish()
			exec.ApplyResult(result)
			require.NoError(t, exec.Transition(types.ExecutionStatusFailed))

			require.NoError(t, repo.SaveExecutionResult(ctx, exec))
			require.NoError(t, repo.SaveExecutionResult(ctx, exec))

			got, err := repo.GetExecution(ctx, "exec-1")
			require.NoError(t, err)
			assert.Equal(t, types.ExecutionStatusFailed, got.Status)
			assert.Equal(t, []string{"input"}, got.CompletedNodes)
			assert.Equal(t, []string{"stage"}, got.FailedNodes)
			assert.Equal(t, []string{"output"}, got.SkippedNodes)
			require.Len(t, got.Errors, 1)
			assert.Equal(t, "boom", got.Errors[0].Message)
			assert.NotNil(t, got.CompletedAt)

			_, err = repo.GetExecution(ctx, "missing")
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestRepository_AuditAppendIsIdempotent(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			entry := func(id, execID string) *types.AuditLogEntry {
				return &types.AuditLogEntry{
					ID:          id,
					EntityType:  "execution",
					EntityID:    execID,
					Operation:   "start",
					UserID:      "alice",
					Timestamp:   time.Now().UTC(),
					EventType:   "WorkflowExecutionStarted",
					EventData:   map[string]any{"nodes": 3},
					ExecutionID: execID,
				}
			}

			require.NoError(t, repo.AppendAuditEntry(ctx, entry("a", "e1")))
			require.NoError(t, repo.AppendAuditEntry(ctx, entry("a", "e1")))
			require.NoError(t, repo.AppendAuditEntry(ctx, entry("b", "e1")))
			require.NoError(t, repo.AppendAuditEntry(ctx, entry("c", "e2")))

			e1, err := repo.ListAuditEntries(ctx, "e1")
			require.NoError(t, err)
			require.Len(t, e1, 2)
			assert.Equal(t, "a", e1[0].ID)
			assert.Equal(t, "b", e1[1].ID)
			assert.EqualValues(t, 3, e1[0].EventData["nodes"])

			all, err := repo.ListAuditEntries(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestOpen_MemoryWithModelDir(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile("testdata/pipeline.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.yml"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	repo, err := Open(context.Background(), config.DatabaseConfig{Driver: "memory", ModelDir: dir})
	require.NoError(t, err)
	defer repo.Close()

	m, err := repo.LoadModel(context.Background(), "pipeline")
	require.NoError(t, err)
	assert.Equal(t, "Scoring pipeline", m.Name)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
