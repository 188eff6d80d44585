package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/orchestration-engine/internal/config"
	"yqhp/orchestration-engine/internal/executor"
	"yqhp/orchestration-engine/internal/orchestrator"
	"yqhp/orchestration-engine/internal/store"
	"yqhp/orchestration-engine/internal/usecase"
	"yqhp/orchestration-engine/pkg/types"
)

type funcHandler struct {
	t  types.ActionType
	fn func() (any, error)
}

func (h funcHandler) Type() types.ActionType { return h.t }

func (h funcHandler) Execute(context.Context, *types.ActionNode, *executor.ActionContext) (any, error) {
	return h.fn()
}

// envelope 测试用响应结构，data 延迟解析
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo := store.NewMemoryStore()
	require.NoError(t, repo.SaveModel(context.Background(), &types.FunctionModel{
		ID:     "pipeline",
		Status: types.ModelStatusPublished,
		Nodes: []*types.ContainerNode{
			{ID: "input", Kind: types.NodeKindInput},
			{ID: "stage", Kind: types.NodeKindStage, Dependencies: []string{"input"}},
			{ID: "output", Kind: types.NodeKindOutput, Dependencies: []string{"stage"}},
		},
		Actions: []*types.ActionNode{
			{ID: "work", ParentNodeID: "stage", Type: "test_ok"},
			{ID: "check", ParentNodeID: "output", Type: "test_fail"},
		},
		Permissions: types.Permissions{Owner: "alice"},
	}))

	reg := executor.NewRegistry()
	reg.MustRegister(funcHandler{t: "test_ok", fn: func() (any, error) { return "ok", nil }})
	reg.MustRegister(funcHandler{t: "test_fail", fn: func() (any, error) { return nil, errors.New("check failed") }})
	exec := executor.NewService(reg)
	uc := usecase.NewService(repo, repo, orchestrator.New(exec))
	return NewServer(uc, config.ServerConfig{EnableCORS: true}, WithAccessLog(false))
}

func do(t *testing.T, s *Server, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, int((10 * time.Second).Milliseconds()))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		req := httptest.NewRequest("GET", path, nil)
		resp, err := s.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		body, _ := io.ReadAll(resp.Body)
		var result HealthResponse
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, "healthy", result.Status)
	}
}

func TestReadyCheck(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/ready", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)

	body, _ := io.ReadAll(resp.Body)
	var result ReadyResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Ready)
}

func TestExecute_WaitReturnsFinalReport(t *testing.T) {
	s := newTestServer(t)

	status, env := do(t, s, "POST", "/api/v1/executions?wait=true", `{"modelId":"pipeline","userId":"alice"}`)
	require.Equal(t, fiber.StatusOK, status, env.Message)
	assert.Equal(t, CodeSuccess, env.Code)

	var report usecase.ExecutionReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, types.ExecutionStatusFailed, report.Status)
	assert.Equal(t, []string{"input", "stage"}, report.Execution.CompletedNodes)
	assert.Equal(t, []string{"output"}, report.Execution.FailedNodes)
}

func TestExecute_AsyncThenResult(t *testing.T) {
	s := newTestServer(t)

	status, env := do(t, s, "POST", "/api/v1/executions", `{"modelId":"pipeline","userId":"alice","environment":"staging"}`)
	require.Equal(t, fiber.StatusAccepted, status, env.Message)
	var started usecase.ExecutionReport
	require.NoError(t, json.Unmarshal(env.Data, &started))
	require.NotEmpty(t, started.ExecutionID)

	status, env = do(t, s, "GET", "/api/v1/executions/"+started.ExecutionID+"/result?timeout=5s", "")
	require.Equal(t, fiber.StatusOK, status, env.Message)
	var final usecase.ExecutionReport
	require.NoError(t, json.Unmarshal(env.Data, &final))
	assert.Equal(t, started.ExecutionID, final.ExecutionID)
	assert.True(t, final.Status.IsTerminal())

	status, env = do(t, s, "GET", "/api/v1/executions/"+started.ExecutionID, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(env.Data), `"status":"failed"`)

	status, env = do(t, s, "DELETE", "/api/v1/executions/"+started.ExecutionID, "")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, usecase.MsgExecutionFinished, env.Message)
}

func TestExecute_DryRun(t *testing.T) {
	s := newTestServer(t)

	status, env := do(t, s, "POST", "/api/v1/executions", `{"modelId":"pipeline","userId":"alice","dryRun":true}`)
	require.Equal(t, fiber.StatusOK, status, env.Message)
	var report usecase.ExecutionReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.DryRun)
	require.NotNil(t, report.Estimate)
	assert.Equal(t, 2, report.Estimate.ActionCount)
}

func TestExecute_Failures(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		status  int
		message string
	}{
		{"bad body", "POST", "/api/v1/executions", `{`, fiber.StatusBadRequest, ""},
		{"missing user", "POST", "/api/v1/executions", `{"modelId":"pipeline"}`, fiber.StatusBadRequest, "userId is required"},
		{"unknown model", "POST", "/api/v1/executions", `{"modelId":"ghost","userId":"alice"}`, fiber.StatusNotFound, usecase.MsgModelNotFound},
		{"forbidden", "POST", "/api/v1/executions", `{"modelId":"pipeline","userId":"eve"}`, fiber.StatusForbidden, usecase.MsgPermissionDenied},
		{"status unknown", "GET", "/api/v1/executions/nope", "", fiber.StatusNotFound, usecase.MsgExecutionNotFound},
		{"pause unknown", "POST", "/api/v1/executions/nope/pause", "", fiber.StatusNotFound, usecase.MsgExecutionNotFound},
		{"resume unknown", "POST", "/api/v1/executions/nope/resume", "", fiber.StatusNotFound, usecase.MsgExecutionNotFound},
		{"stop unknown", "DELETE", "/api/v1/executions/nope", "", fiber.StatusNotFound, usecase.MsgExecutionNotFound},
		{"bad timeout", "GET", "/api/v1/executions/nope/result?timeout=soon", "", fiber.StatusBadRequest, "Invalid timeout: soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.status, env.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, env.Message)
			}
		})
	}
}

func TestContexts(t *testing.T) {
	s := newTestServer(t)
	_, env := do(t, s, "POST", "/api/v1/executions?wait=true", `{"modelId":"pipeline","userId":"alice"}`)
	var report usecase.ExecutionReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	base := "/api/v1/executions/" + report.ExecutionID + "/contexts"

	status, env := do(t, s, "GET", base+"/stage", "")
	require.Equal(t, fiber.StatusOK, status, env.Message)
	assert.Contains(t, string(env.Data), `"nodeId":"work"`)

	status, env = do(t, s, "GET", base+"/work/lateral", "")
	require.Equal(t, fiber.StatusOK, status, env.Message)
	assert.Contains(t, string(env.Data), `"nodeId":"output"`)
	assert.Contains(t, string(env.Data), `"relationship":"lateral"`)

	status, env = do(t, s, "GET", base+"/pipeline/lateral", "")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, string(usecase.KindAuthorization), env.Kind)

	status, env = do(t, s, "POST", base+"/access", `{"requestingNodeId":"work","targetNodeId":"stage","accessType":"read","userId":"alice"}`)
	require.Equal(t, fiber.StatusOK, status, env.Message)
	assert.Contains(t, string(env.Data), `"accessLevel":"read"`)
}
