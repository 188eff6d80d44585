package hierarchy

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a context access failure.
type ErrorCode string

const (
	ErrCodeInvalidRequester   ErrorCode = "INVALID_REQUESTING_NODE_ID"
	ErrCodeInvalidTarget      ErrorCode = "INVALID_TARGET_NODE_ID"
	ErrCodeInvalidNodeType    ErrorCode = "INVALID_NODE_TYPE"
	ErrCodeInvalidAccessType  ErrorCode = "INVALID_ACCESS_TYPE"
	ErrCodeMissingUserID      ErrorCode = "MISSING_USER_ID"
	ErrCodeDepthExceeded      ErrorCode = "HIERARCHY_DEPTH_EXCEEDED"
	ErrCodeCircularReference  ErrorCode = "CIRCULAR_REFERENCE_DETECTED"
	ErrCodeReparent           ErrorCode = "REPARENT_NOT_ALLOWED"
	ErrCodeNoLateral          ErrorCode = "NO_LATERAL_RELATIONSHIP"
	ErrCodeInsufficientAccess ErrorCode = "INSUFFICIENT_ACCESS_LEVEL"
	ErrCodeEmergencyReason    ErrorCode = "EMERGENCY_REASON_REQUIRED"
	ErrCodeWindowClosed       ErrorCode = "ACCESS_WINDOW_CLOSED"
)

// AccessError is returned by every Service operation that fails.
type AccessError struct {
	Code    ErrorCode
	Message string
	NodeID  string
}

func (e *AccessError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.NodeID)
	}
	return e.Message
}

func newError(code ErrorCode, nodeID, message string) *AccessError {
	return &AccessError{Code: code, Message: message, NodeID: nodeID}
}

// CodeOf returns the ErrorCode carried by err, or "".
func CodeOf(err error) ErrorCode {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsCircularReference checks if err reports a circular parent reference.
func IsCircularReference(err error) bool {
	return CodeOf(err) == ErrCodeCircularReference
}

// IsDepthExceeded checks if err reports a hierarchy depth violation.
func IsDepthExceeded(err error) bool {
	return CodeOf(err) == ErrCodeDepthExceeded
}

// IsInsufficientAccess checks if err reports an access level below the request.
func IsInsufficientAccess(err error) bool {
	return CodeOf(err) == ErrCodeInsufficientAccess
}

// IsNoLateral checks if err is the negative lateral lookup result.
func IsNoLateral(err error) bool {
	return CodeOf(err) == ErrCodeNoLateral
}
