package rest

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"yqhp/orchestration-engine/internal/hierarchy"
	"yqhp/orchestration-engine/internal/usecase"
)

// defaultWaitTimeout bounds GET /executions/:id/result without ?timeout.
const defaultWaitTimeout = 30 * time.Second

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// readyCheck handles GET /ready
func (s *Server) readyCheck(c *fiber.Ctx) error {
	ready := s.usecase != nil
	status := "ready"
	if !ready {
		status = "not_ready"
	}
	return c.JSON(ReadyResponse{
		Ready:     ready,
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// execute handles POST /api/v1/executions
// ?wait=true blocks until the run finishes; otherwise the execution id is
// returned with 202 and the run continues in the background.
func (s *Server) execute(c *fiber.Ctx) error {
	var cmd usecase.ExecuteCommand
	if err := c.BodyParser(&cmd); err != nil {
		return ErrorWithCode(c, CodeBadRequest, string(usecase.KindValidation), "Invalid request body: "+err.Error())
	}

	if c.QueryBool("wait") {
		return reply(c, s.usecase.Execute(c.UserContext(), cmd))
	}
	res := s.usecase.Start(c.UserContext(), cmd)
	if res.Success && !res.Data.DryRun {
		c.Status(fiber.StatusAccepted)
	}
	return reply(c, res)
}

// getExecution handles GET /api/v1/executions/:id
func (s *Server) getExecution(c *fiber.Ctx) error {
	return reply(c, s.usecase.GetExecutionStatus(c.Params("id")))
}

// waitExecution handles GET /api/v1/executions/:id/result
func (s *Server) waitExecution(c *fiber.Ctx) error {
	timeout := defaultWaitTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return ErrorWithCode(c, CodeBadRequest, string(usecase.KindValidation), "Invalid timeout: "+raw)
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
	defer cancel()
	return reply(c, s.usecase.Wait(ctx, c.Params("id")))
}

// pauseExecution handles POST /api/v1/executions/:id/pause
func (s *Server) pauseExecution(c *fiber.Ctx) error {
	return reply(c, s.usecase.PauseExecution(c.Params("id")))
}

// resumeExecution handles POST /api/v1/executions/:id/resume
func (s *Server) resumeExecution(c *fiber.Ctx) error {
	return reply(c, s.usecase.ResumeExecution(c.Params("id")))
}

// stopExecution handles DELETE /api/v1/executions/:id
func (s *Server) stopExecution(c *fiber.Ctx) error {
	return reply(c, s.usecase.StopExecution(c.Params("id")))
}

// accessibleContexts handles GET /api/v1/executions/:id/contexts/:nodeId
func (s *Server) accessibleContexts(c *fiber.Ctx) error {
	return reply(c, s.usecase.GetAccessibleContexts(c.Params("id"), c.Params("nodeId")))
}

// lateralContexts handles GET /api/v1/executions/:id/contexts/:nodeId/lateral
func (s *Server) lateralContexts(c *fiber.Ctx) error {
	return reply(c, s.usecase.GetLateralContexts(c.Params("id"), c.Params("nodeId")))
}

// requestAccess handles POST /api/v1/executions/:id/contexts/access
func (s *Server) requestAccess(c *fiber.Ctx) error {
	var req hierarchy.AccessRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorWithCode(c, CodeBadRequest, string(usecase.KindValidation), "Invalid request body: "+err.Error())
	}
	return reply(c, s.usecase.RequestContextAccess(c.Params("id"), req))
}
