package api

import (
	"context"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/usecase"
	xhttp "AgentFlow/pkg/http"
	xlogger "AgentFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ExecutionsHandler serves execution reads and user commands.
type ExecutionsHandler struct {
	logger *xlogger.Logger
	uc     *usecase.ExecutionsUseCase
}

func NewExecutionsHandler(logger *xlogger.Logger, uc *usecase.ExecutionsUseCase) *ExecutionsHandler {
	return &ExecutionsHandler{logger: logger, uc: uc}
}

func (h *ExecutionsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/executions")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/approval", h.Approval)
}

func (h *ExecutionsHandler) Get(c echo.Context) error {
	exec, err := h.uc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, exec)
}

func (h *ExecutionsHandler) List(c echo.Context) error {
	req := &models.ListExecutionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	status := models.ExecutionStatus(req.Status)
	if status != "" && !status.IsValid() {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("unknown status %q", req.Status))
	}
	list, err := h.uc.List(c.Request().Context(), models.ExecutionFilter{
		PipelineID: req.PipelineID,
		Status:     status,
		Limit:      req.Limit,
	})
	if err != nil {
		h.logger.Error("list executions failed", xlogger.Error(err))
		return errorResponse(c, err)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *ExecutionsHandler) Pause(c echo.Context) error {
	return h.command(c, "pause", h.uc.Pause)
}

func (h *ExecutionsHandler) Resume(c echo.Context) error {
	return h.command(c, "resume", h.uc.Resume)
}

func (h *ExecutionsHandler) Cancel(c echo.Context) error {
	return h.command(c, "cancel", h.uc.Cancel)
}

func (h *ExecutionsHandler) command(c echo.Context, name string, fn func(ctx context.Context, id string) (*models.Execution, error)) error {
	id := c.Param("id")
	exec, err := fn(c.Request().Context(), id)
	if err != nil {
		h.logger.Info("execution command rejected",
			xlogger.String("command", name),
			xlogger.String("execution_id", id),
			xlogger.Error(err))
		return errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, exec)
}

func (h *ExecutionsHandler) Approval(c echo.Context) error {
	req := &models.ApprovalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id := c.Param("id")
	exec, err := h.uc.Decide(c.Request().Context(), id, req)
	if err != nil {
		h.logger.Info("approval decision rejected",
			xlogger.String("execution_id", id),
			xlogger.String("decision", req.Decision),
			xlogger.Error(err))
		return errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, exec)
}
