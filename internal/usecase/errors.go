package usecase

import (
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"yqhp/orchestration-engine/pkg/logger"
)

// ErrorKind classifies a failed use-case call for the calling layer.
type ErrorKind string

const (
	KindValidation     ErrorKind = "VALIDATION_ERROR"
	KindNotFound       ErrorKind = "NOT_FOUND"
	KindAuthorization  ErrorKind = "AUTHORIZATION_ERROR"
	KindBusinessRule   ErrorKind = "BUSINESS_RULE_ERROR"
	KindExecution      ErrorKind = "EXECUTION_ERROR"
	KindInfrastructure ErrorKind = "INFRASTRUCTURE_ERROR"
)

// 面向调用方的错误消息
const (
	MsgModelNotFound       = "Function model not found"
	MsgModelDeleted        = "Cannot execute deleted model"
	MsgModelNotPublished   = "Cannot execute unpublished model"
	MsgInvalidWorkflow     = "Cannot execute invalid workflow"
	MsgPermissionDenied    = "Insufficient permission to execute model"
	MsgExecutionNotFound   = "Execution not found"
	MsgExecutionFinished   = "Execution already finished"
	MsgModelLoadFailed     = "Failed to load function model"
	MsgUnexpectedFailure   = "Unexpected failure"
	MsgExecutionIncomplete = "Execution did not complete"
)

// Error is a use-case failure with a short, user-facing message.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of a use-case error, or KindInfrastructure.
func KindOf(err error) ErrorKind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindInfrastructure
}

// Result is the success/failure value every use-case operation returns.
// Failures carry a kind and a human-readable message, never a raw error.
type Result[T any] struct {
	Success bool      `json:"success"`
	Code    ErrorKind `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	Data    T         `json:"data,omitempty"`
}

func ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func fail[T any](err error) Result[T] {
	var ue *Error
	if errors.As(err, &ue) {
		return Result[T]{Code: ue.Kind, Message: ue.Message}
	}
	return Result[T]{Code: KindInfrastructure, Message: MsgUnexpectedFailure}
}

// recoverInto converts a panic at the use-case boundary into a failure result.
func recoverInto[T any](res *Result[T], op string) {
	if r := recover(); r != nil {
		logger.Error("use case panic recovered",
			zap.String("operation", op),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()))
		*res = fail[T](newError(KindInfrastructure, MsgUnexpectedFailure, fmt.Errorf("%s panic: %v", op, r)))
	}
}
