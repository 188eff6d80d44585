package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"yqhp/orchestration-engine/pkg/logger"
	"yqhp/orchestration-engine/pkg/types"
)

const defaultScriptTimeout = 10 * time.Second

// ScriptHandler runs a JavaScript snippet in a fresh goja runtime.
//
// The script sees `inputs` (upstream outputs) and `ctx` (executionId,
// nodeId, actionId, attempt), may call console.log, and returns the value of
// its last expression. A thrown exception fails the attempt.
type ScriptHandler struct {
	timeout time.Duration
}

// NewScriptHandler creates a script handler.
func NewScriptHandler(timeout time.Duration) *ScriptHandler {
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	return &ScriptHandler{timeout: timeout}
}

// Type implements Handler.
func (h *ScriptHandler) Type() types.ActionType {
	return types.ActionScript
}

// Execute implements Handler.
func (h *ScriptHandler) Execute(ctx context.Context, action *types.ActionNode, actx *ActionContext) (any, error) {
	script := stringParam(action.Config, "script")
	if script == "" {
		return nil, NewConfigError(action.ID, "script requires config.script")
	}
	timeout := durationParam(action.Config, "timeout")
	if timeout <= 0 {
		timeout = h.timeout
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := h.setupEnvironment(vm, action, actx); err != nil {
		return nil, NewExecutionError(action.ID, "failed to setup JS environment", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, func() {
		vm.Interrupt(runCtx.Err())
	})
	defer stop()

	value, err := vm.RunString(script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, NewTimeoutError(action.ID, timeout)
		}
		return nil, NewExecutionError(action.ID, "JS script error", err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

func (h *ScriptHandler) setupEnvironment(vm *goja.Runtime, action *types.ActionNode, actx *ActionContext) error {
	inputs := map[string]any{}
	info := map[string]any{"actionId": action.ID, "nodeId": action.ParentNodeID}
	if actx != nil {
		if actx.Inputs != nil {
			inputs = actx.Inputs
		}
		info["executionId"] = actx.ExecutionID
		info["modelId"] = actx.ModelID
		info["attempt"] = actx.Attempt
	}
	if err := vm.Set("inputs", inputs); err != nil {
		return err
	}
	if err := vm.Set("ctx", info); err != nil {
		return err
	}

	log := logger.Named("script").With(zap.String("action_id", action.ID))
	console := vm.NewObject()
	if err := console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		log.Debug(fmt.Sprint(args...))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	return vm.Set("console", console)
}
