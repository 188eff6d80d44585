package rest

import (
	"github.com/gofiber/fiber/v2"

	"yqhp/orchestration-engine/internal/usecase"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// 响应码定义
const (
	CodeSuccess     = 0
	CodeError       = -1
	CodeBadRequest  = 400
	CodeForbidden   = 403
	CodeNotFound    = 404
	CodeConflict    = 409
	CodeServerError = 500
)

// MsgSuccess 成功消息
const MsgSuccess = "success"

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse is the body of the readiness endpoints.
type ReadyResponse struct {
	Ready     bool   `json:"ready"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Success 成功响应
func Success(c *fiber.Ctx, data any) error {
	return c.JSON(Response{
		Code:    CodeSuccess,
		Message: MsgSuccess,
		Data:    data,
	})
}

// ErrorWithCode 错误响应带错误码，HTTP 状态与 code 一致
func ErrorWithCode(c *fiber.Ctx, code int, kind, message string) error {
	return c.Status(code).JSON(Response{
		Code:    code,
		Message: message,
		Kind:    kind,
	})
}

// statusFor maps a use-case failure kind to an HTTP status.
func statusFor(kind usecase.ErrorKind) int {
	switch kind {
	case usecase.KindValidation:
		return CodeBadRequest
	case usecase.KindNotFound:
		return CodeNotFound
	case usecase.KindAuthorization:
		return CodeForbidden
	case usecase.KindBusinessRule, usecase.KindExecution:
		return CodeConflict
	default:
		return CodeServerError
	}
}

// reply writes a use-case result as the JSON envelope.
func reply[T any](c *fiber.Ctx, res usecase.Result[T]) error {
	if !res.Success {
		return ErrorWithCode(c, statusFor(res.Code), string(res.Code), res.Message)
	}
	return Success(c, res.Data)
}
