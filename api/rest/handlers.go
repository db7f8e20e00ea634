package rest

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"btk/orchestrator/pkg/logger"
	"btk/orchestrator/pkg/types"
)

// healthCheck returns the orchestrator's full health snapshot.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(s.orch.Status())
}

// ping answers the minimal liveness probe with the bare literal.
func (s *Server) ping(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// shutdown acknowledges immediately and stops the process after the grace
// delay, giving in-flight requests time to finish.
func (s *Server) shutdown(c *fiber.Ctx) error {
	grace := s.config.ShutdownGrace

	go func() {
		time.Sleep(grace)
		logger.Info("shutdown requested via API", zap.Duration("grace", grace))
		s.orch.Stop()
		if s.shutdownFn != nil {
			s.shutdownFn()
		}
		_ = s.Shutdown()
	}()

	return c.JSON(ShutdownResponse{
		Message: "shutting down",
		GraceMs: grace.Milliseconds(),
	})
}

// submitTask admits a task and blocks until its result is ready.
func (s *Server) submitTask(c *fiber.Ctx) error {
	var req SubmitTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: err.Error(),
		})
	}

	if req.SessionID != "" {
		if _, err := s.orch.StepSession(req.SessionID); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Error:   "not_found",
				Message: err.Error(),
			})
		}
	}

	task := &types.Task{
		Type:           types.ParseTaskType(req.Type),
		ToolName:       req.ToolName,
		Args:           req.Args,
		Priority:       types.TaskPriority(req.Priority),
		Timeout:        time.Duration(req.TimeoutMs) * time.Millisecond,
		RetriesAllowed: req.Retries,
		SourceOrigin:   c.IP(),
	}

	result, err := s.orch.Execute(c.Context(), task)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "unavailable",
			Message: err.Error(),
		})
	}
	return c.JSON(result)
}

// listTools aggregates local capabilities and every online backend's tools.
func (s *Server) listTools(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tools := s.orch.LocalTools().Definitions()
	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		seen[t.Name] = true
	}

	for _, b := range s.orch.Chain().Backends() {
		for _, t := range b.Tools(ctx) {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			tools = append(tools, t)
		}
	}

	// MCP-speaking callers get the same list as tool declarations.
	if c.Query("format") == "mcp" {
		decls := make([]mcp.Tool, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, t.ToMCPTool())
		}
		return c.JSON(MCPToolsResponse{Tools: decls})
	}

	return c.JSON(ToolsResponse{Tools: tools})
}

// listBackends reports every chain backend with its health record.
func (s *Server) listBackends(c *fiber.Ctx) error {
	statuses := s.orch.BackendStatuses()

	views := make([]BackendView, 0)
	for _, b := range s.orch.Chain().Backends() {
		views = append(views, BackendView{
			Info:   b.Info(),
			Status: statuses[b.ID()],
		})
	}
	return c.JSON(BackendsResponse{Backends: views})
}

// ─── sessions ───────────────────────────────────────────────────────────────

func (s *Server) startSession(c *fiber.Ctx) error {
	var req StartSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "bad_request",
				Message: err.Error(),
			})
		}
	}

	session := s.orch.StartSession(types.SessionMode(req.Mode))
	return c.Status(fiber.StatusCreated).JSON(session)
}

func (s *Server) listSessions(c *fiber.Ctx) error {
	return c.JSON(SessionsResponse{Sessions: s.orch.Sessions()})
}

func (s *Server) getSession(c *fiber.Ctx) error {
	session, ok := s.orch.GetSession(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "session not found",
		})
	}
	return c.JSON(session)
}

func (s *Server) stepSession(c *fiber.Ctx) error {
	id := c.Params("id")
	n, err := s.orch.StepSession(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	}
	return c.JSON(StepSessionResponse{SessionID: id, StepCounter: n})
}

func (s *Server) endSession(c *fiber.Ctx) error {
	if err := s.orch.EndSession(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
