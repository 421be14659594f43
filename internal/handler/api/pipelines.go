package api

import (
	"net/http"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/usecase"
	xhttp "AgentFlow/pkg/http"
	xlogger "AgentFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PipelinesHandler manages pipeline definitions and manual runs.
type PipelinesHandler struct {
	logger *xlogger.Logger
	uc     *usecase.PipelinesUseCase
}

func NewPipelinesHandler(logger *xlogger.Logger, uc *usecase.PipelinesUseCase) *PipelinesHandler {
	return &PipelinesHandler{logger: logger, uc: uc}
}

func (h *PipelinesHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/pipelines")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/activate", h.Activate)
	g.POST("/:id/deactivate", h.Deactivate)
	g.POST("/:id/run", h.Run)
}

func (h *PipelinesHandler) Create(c echo.Context) error {
	req := &models.CreatePipelineRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.uc.Create(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, p)
}

func (h *PipelinesHandler) Get(c echo.Context) error {
	p, err := h.uc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *PipelinesHandler) List(c echo.Context) error {
	list, err := h.uc.List(c.Request().Context())
	if err != nil {
		h.logger.Error("list pipelines failed", xlogger.Error(err))
		return errorResponse(c, err)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *PipelinesHandler) Activate(c echo.Context) error { return h.setActive(c, true) }

func (h *PipelinesHandler) Deactivate(c echo.Context) error { return h.setActive(c, false) }

func (h *PipelinesHandler) setActive(c echo.Context, active bool) error {
	p, err := h.uc.SetActive(c.Request().Context(), c.Param("id"), active)
	if err != nil {
		return errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, p)
}

// Run enqueues a manual execution and answers 202 with the request.
func (h *PipelinesHandler) Run(c echo.Context) error {
	req := &models.RunPipelineRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	er, err := h.uc.Run(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return xhttp.DataResponse(c, http.StatusAccepted, er)
}
