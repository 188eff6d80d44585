package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"yqhp/orchestration-engine/pkg/types"
	"yqhp/orchestration-engine/pkg/utils"
)

const defaultExternalCallTimeout = 30 * time.Second

// Doer is the part of *fasthttp.Client used by ExternalCallHandler.
type Doer interface {
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

// ExternalCallOutput is the output of an external_call action.
type ExternalCallOutput struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	DurationMs int64             `json:"durationMs"`
}

// ExternalCallHandler calls an HTTP endpoint.
//
// Config keys: url (required), method (default GET, POST when a body is
// present), headers, body (string or object), timeout, expect_status
// (int, default any 2xx), send_inputs (send upstream outputs as JSON body).
type ExternalCallHandler struct {
	client  Doer
	timeout time.Duration
}

// NewExternalCallHandler creates a handler with a pooled fasthttp client.
func NewExternalCallHandler(timeout time.Duration) *ExternalCallHandler {
	if timeout <= 0 {
		timeout = defaultExternalCallTimeout
	}
	return &ExternalCallHandler{
		client: &fasthttp.Client{
			MaxConnsPerHost:     512,
			MaxIdleConnDuration: 90 * time.Second,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
		},
		timeout: timeout,
	}
}

// WithClient replaces the HTTP client.
func (h *ExternalCallHandler) WithClient(c Doer) *ExternalCallHandler {
	h.client = c
	return h
}

// Type implements Handler.
func (h *ExternalCallHandler) Type() types.ActionType {
	return types.ActionExternalCall
}

// Execute implements Handler.
func (h *ExternalCallHandler) Execute(ctx context.Context, action *types.ActionNode, actx *ActionContext) (any, error) {
	url := stringParam(action.Config, "url")
	if url == "" {
		return nil, NewConfigError(action.ID, "external_call requires config.url")
	}

	timeout := durationParam(action.Config, "timeout")
	if timeout <= 0 {
		timeout = h.timeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	if err := h.buildRequest(req, action, actx); err != nil {
		return nil, NewConfigError(action.ID, err.Error())
	}

	start := time.Now()
	if err := h.client.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) || time.Now().After(deadline) {
			return nil, NewTimeoutError(action.ID, timeout)
		}
		return nil, NewExecutionError(action.ID, "HTTP 请求失败", err)
	}

	output := &ExternalCallOutput{
		StatusCode: resp.StatusCode(),
		Headers:    make(map[string]string),
		DurationMs: time.Since(start).Milliseconds(),
	}
	resp.Header.VisitAll(func(key, value []byte) {
		output.Headers[string(key)] = string(value)
	})
	body := append([]byte(nil), resp.Body()...)
	if strings.Contains(string(resp.Header.ContentType()), "json") && len(body) > 0 {
		var parsed any
		if err := utils.Unmarshal(body, &parsed); err == nil {
			output.Body = parsed
		} else {
			output.Body = string(body)
		}
	} else if len(body) > 0 {
		output.Body = string(body)
	}

	if !statusAccepted(action.Config, output.StatusCode) {
		return output, NewExecutionError(action.ID, fmt.Sprintf("unexpected status %d", output.StatusCode), nil)
	}
	return output, nil
}

func (h *ExternalCallHandler) buildRequest(req *fasthttp.Request, action *types.ActionNode, actx *ActionContext) error {
	req.SetRequestURI(stringParam(action.Config, "url"))

	var body []byte
	switch b := action.Config["body"].(type) {
	case nil:
		if boolParam(action.Config, "send_inputs") && actx != nil {
			data, err := utils.Marshal(actx.Inputs)
			if err != nil {
				return fmt.Errorf("encode inputs: %w", err)
			}
			body = data
			req.Header.SetContentType("application/json")
		}
	case string:
		body = []byte(b)
	default:
		data, err := utils.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		body = data
		req.Header.SetContentType("application/json")
	}

	method := strings.ToUpper(stringParam(action.Config, "method"))
	if method == "" {
		method = fasthttp.MethodGet
		if body != nil {
			method = fasthttp.MethodPost
		}
	}
	req.Header.SetMethod(method)
	for k, v := range stringMapParam(action.Config, "headers") {
		req.Header.Set(k, v)
	}
	if actx != nil && actx.ExecutionID != "" {
		req.Header.Set("X-Execution-Id", actx.ExecutionID)
	}
	if body != nil {
		req.SetBody(body)
	}
	return nil
}

func statusAccepted(cfg map[string]any, status int) bool {
	if expected, ok := intParam(cfg, "expect_status"); ok {
		return status == expected
	}
	return status >= 200 && status < 300
}
