package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/pkg/logger"
	"yqhp/orchestration-engine/pkg/types"
)

// Service is the action execution service.
type Service struct {
	registry     *Registry
	defaultRetry types.RetryPolicy
	sleep        func(ctx context.Context, d time.Duration) error
	log          *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDefaultRetry sets the policy used by actions that declare none.
func WithDefaultRetry(p types.RetryPolicy) ServiceOption {
	return func(s *Service) { s.defaultRetry = p }
}

// WithSleep overrides the retry wait, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ServiceOption {
	return func(s *Service) { s.sleep = fn }
}

// NewService creates an action execution service backed by registry.
func NewService(registry *Registry, opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry,
		sleep:    sleepContext,
		log:      logger.Named("executor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the handler table.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Execute runs the action until it completes or its retries are exhausted.
// The returned result is always terminal; a failure is carried in result.Error.
func (s *Service) Execute(ctx context.Context, action *types.ActionNode, actx *ActionContext) *types.ActionResult {
	result := types.NewActionResult(action)
	if actx == nil {
		actx = &ActionContext{}
	}
	if actx.NodeID == "" {
		actx.NodeID = action.ParentNodeID
	}

	actx.publish(events.Event{
		Type:        events.ActionExecutionStarted,
		AggregateID: action.ID,
		NodeID:      action.ParentNodeID,
		ActionID:    action.ID,
		Data:        map[string]any{"actionType": string(action.Type)},
	})

	handler, err := s.registry.Get(action.Type)
	if err != nil {
		result.Attempts = 1
		result.Fail(err)
		return s.finish(result, actx)
	}

	policy := s.PolicyFor(action)
	total := policy.TotalAttempts()
	for attempt := 0; attempt < total; attempt++ {
		result.Attempts = attempt + 1
		actx.Attempt = attempt + 1

		output, err := s.attempt(ctx, handler, action, actx)
		if err == nil {
			if nested, ok := output.(*types.WorkflowResult); ok {
				result.Nested = nested
			}
			result.Complete(output)
			break
		}
		result.Fail(err)
		if nested, ok := output.(*types.WorkflowResult); ok {
			result.Nested = nested
		}

		if !IsRetryable(err) || attempt == total-1 {
			break
		}

		delay := policy.Delay(attempt)
		actx.publish(events.Event{
			Type:        events.ActionExecutionRetrying,
			AggregateID: action.ID,
			NodeID:      action.ParentNodeID,
			ActionID:    action.ID,
			Data: map[string]any{
				"attempt": attempt + 1,
				"delayMs": delay.Milliseconds(),
				"error":   err.Error(),
			},
		})
		s.log.Debug("action attempt failed, retrying",
			zap.String("execution_id", actx.ExecutionID),
			zap.String("action_id", action.ID),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := s.sleep(ctx, delay); err != nil {
			result.Fail(fmt.Errorf("retry wait interrupted: %w", err))
			break
		}
	}

	return s.finish(result, actx)
}

// PolicyFor returns the retry policy the action runs with. Only an action
// without a declared policy falls back to the service default; a declared
// max_retries of 0 stays a single attempt.
func (s *Service) PolicyFor(action *types.ActionNode) types.RetryPolicy {
	if action.RetryPolicy == nil {
		return s.defaultRetry
	}
	return *action.RetryPolicy
}

// attempt runs the handler once, converting a panic into an error.
func (s *Service) attempt(ctx context.Context, h Handler, action *types.ActionNode, actx *ActionContext) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("action handler panic recovered",
				zap.String("action_id", action.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			output = nil
			err = &ExecutorError{Code: ErrCodePanic, Message: fmt.Sprintf("handler panic: %v", r), ActionID: action.ID}
		}
	}()
	return h.Execute(ctx, action, actx)
}

func (s *Service) finish(result *types.ActionResult, actx *ActionContext) *types.ActionResult {
	result.Finish()
	if actx.Latency != nil {
		actx.Latency.Record(string(result.Type), result.Duration, result.IsSuccess())
	}

	data := map[string]any{
		"actionType": string(result.Type),
		"attempts":   result.Attempts,
		"durationMs": result.Duration.Milliseconds(),
	}
	eventType := events.ActionExecutionCompleted
	if !result.IsSuccess() {
		eventType = events.ActionExecutionFailed
		data["error"] = result.ErrorMessage()
		s.log.Warn("action failed",
			zap.String("execution_id", actx.ExecutionID),
			zap.String("action_id", result.ActionID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Error))
	}
	actx.publish(events.Event{
		Type:        eventType,
		AggregateID: result.ActionID,
		NodeID:      result.NodeID,
		ActionID:    result.ActionID,
		Data:        data,
	})
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
