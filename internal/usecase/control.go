package usecase

import (
	"errors"

	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/hierarchy"
	"yqhp/orchestration-engine/internal/orchestrator"
	"yqhp/orchestration-engine/pkg/controlsurface"
	"yqhp/orchestration-engine/pkg/types"
)

// PauseExecution asks the run to hold before its next container starts.
// Actions already dispatched run to completion.
func (s *Service) PauseExecution(executionID string) (res Result[*controlsurface.Status]) {
	defer recoverInto(&res, "pause")
	return s.control(executionID, func(cs *controlsurface.ControlSurface) error { return cs.PauseExecution() })
}

// ResumeExecution releases a paused run.
func (s *Service) ResumeExecution(executionID string) (res Result[*controlsurface.Status]) {
	defer recoverInto(&res, "resume")
	return s.control(executionID, func(cs *controlsurface.ControlSurface) error { return cs.ResumeExecution() })
}

// StopExecution stops further container starts; remaining containers are
// skipped and the execution ends cancelled.
func (s *Service) StopExecution(executionID string) (res Result[*controlsurface.Status]) {
	defer recoverInto(&res, "stop")
	return s.control(executionID, func(cs *controlsurface.ControlSurface) error { return cs.StopExecution() })
}

// GetExecutionStatus returns a point-in-time view of an execution.
func (s *Service) GetExecutionStatus(executionID string) (res Result[*controlsurface.Status]) {
	defer recoverInto(&res, "status")
	cs, err := s.surface(executionID)
	if err != nil {
		return fail[*controlsurface.Status](err)
	}
	return ok(cs.GetStatus())
}

func (s *Service) surface(executionID string) (*controlsurface.ControlSurface, error) {
	cs, err := s.surfaces.Get(executionID)
	if err != nil {
		return nil, newError(KindNotFound, MsgExecutionNotFound, err)
	}
	return cs, nil
}

func (s *Service) control(executionID string, op func(*controlsurface.ControlSurface) error) Result[*controlsurface.Status] {
	cs, err := s.surface(executionID)
	if err != nil {
		return fail[*controlsurface.Status](err)
	}
	if err := op(cs); err != nil {
		return fail[*controlsurface.Status](err)
	}
	return ok(cs.GetStatus())
}

func (s *Service) pause(e *execution) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.entity.Status.IsTerminal() {
		return newError(KindBusinessRule, MsgExecutionFinished, nil)
	}
	if err := e.run.Control.Pause(); err != nil {
		return controlError(err)
	}
	if err := e.entity.Transition(types.ExecutionStatusPaused); err != nil {
		_ = e.run.Control.Resume()
		return newError(KindBusinessRule, "Execution cannot be paused", err)
	}
	e.run.Publisher.Publish(events.Event{Type: events.WorkflowExecutionPaused, AggregateID: e.id})
	s.log.Info("execution paused", zap.String("execution_id", e.id))
	return nil
}

func (s *Service) resume(e *execution) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.entity.Status.IsTerminal() {
		return newError(KindBusinessRule, MsgExecutionFinished, nil)
	}
	if err := e.run.Control.Resume(); err != nil {
		return controlError(err)
	}
	_ = e.entity.Transition(types.ExecutionStatusRunning)
	e.run.Publisher.Publish(events.Event{Type: events.WorkflowExecutionResumed, AggregateID: e.id})
	s.log.Info("execution resumed", zap.String("execution_id", e.id))
	return nil
}

// stop only flags the run; the cancelled event is published when the run
// observes the flag and finishes.
func (s *Service) stop(e *execution) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.entity.Status.IsTerminal() {
		return newError(KindBusinessRule, MsgExecutionFinished, nil)
	}
	if err := e.run.Control.Stop(); err != nil {
		return controlError(err)
	}
	s.log.Info("execution stop requested", zap.String("execution_id", e.id))
	return nil
}

func controlError(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyPaused):
		return newError(KindBusinessRule, "Execution already paused", err)
	case errors.Is(err, orchestrator.ErrNotPaused):
		return newError(KindBusinessRule, "Execution is not paused", err)
	case errors.Is(err, orchestrator.ErrAlreadyStopped), errors.Is(err, orchestrator.ErrStopped):
		return newError(KindBusinessRule, "Execution is stopping", err)
	}
	return newError(KindExecution, err.Error(), err)
}

// GetAccessibleContexts lists the contexts a node of a run may see.
func (s *Service) GetAccessibleContexts(executionID, requesterID string) (res Result[[]hierarchy.ContextView]) {
	defer recoverInto(&res, "contexts")
	e, err := s.lookup(executionID)
	if err != nil {
		return fail[[]hierarchy.ContextView](err)
	}
	views, err := e.run.Hierarchy.GetAccessibleContexts(requesterID)
	if err != nil {
		return fail[[]hierarchy.ContextView](hierarchyError(err))
	}
	return ok(views)
}

// GetLateralContexts lists the diagnostic contexts of a node's lateral
// relations. No lateral relation is a negative result, not a fault.
func (s *Service) GetLateralContexts(executionID, requesterID string) (res Result[[]hierarchy.ContextView]) {
	defer recoverInto(&res, "lateral")
	e, err := s.lookup(executionID)
	if err != nil {
		return fail[[]hierarchy.ContextView](err)
	}
	views, err := e.run.Hierarchy.GetLateralContexts(requesterID)
	if err != nil {
		return fail[[]hierarchy.ContextView](hierarchyError(err))
	}
	return ok(views)
}

// RequestContextAccess evaluates an explicit access request inside a run.
func (s *Service) RequestContextAccess(executionID string, req hierarchy.AccessRequest) (res Result[*hierarchy.AccessGrant]) {
	defer recoverInto(&res, "access")
	e, err := s.lookup(executionID)
	if err != nil {
		return fail[*hierarchy.AccessGrant](err)
	}
	grant, err := e.run.Hierarchy.RequestAccess(req)
	if err != nil {
		return fail[*hierarchy.AccessGrant](hierarchyError(err))
	}
	return ok(grant)
}

func hierarchyError(err error) error {
	code := hierarchy.CodeOf(err)
	var ae *hierarchy.AccessError
	message := err.Error()
	if errors.As(err, &ae) {
		message = ae.Message
	}
	switch code {
	case hierarchy.ErrCodeInvalidRequester, hierarchy.ErrCodeInvalidTarget:
		return newError(KindNotFound, message, err)
	case hierarchy.ErrCodeInsufficientAccess, hierarchy.ErrCodeNoLateral, hierarchy.ErrCodeWindowClosed:
		return newError(KindAuthorization, message, err)
	case hierarchy.ErrCodeDepthExceeded, hierarchy.ErrCodeCircularReference, hierarchy.ErrCodeReparent:
		return newError(KindBusinessRule, message, err)
	}
	return newError(KindValidation, message, err)
}
