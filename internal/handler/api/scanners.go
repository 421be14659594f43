package api

import (
	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/usecase"
	xhttp "AgentFlow/pkg/http"
	xlogger "AgentFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

type ScannersHandler struct {
	logger *xlogger.Logger
	uc     *usecase.ScannersUseCase
}

func NewScannersHandler(logger *xlogger.Logger, uc *usecase.ScannersUseCase) *ScannersHandler {
	return &ScannersHandler{logger: logger, uc: uc}
}

func (h *ScannersHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/scanners")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id/tickers", h.SetTickers)
}

func (h *ScannersHandler) Create(c echo.Context) error {
	req := &models.CreateScannerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.uc.Create(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, s)
}

func (h *ScannersHandler) Get(c echo.Context) error {
	s, err := h.uc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *ScannersHandler) List(c echo.Context) error {
	list, err := h.uc.List(c.Request().Context())
	if err != nil {
		h.logger.Error("list scanners failed", xlogger.Error(err))
		return errorResponse(c, err)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *ScannersHandler) SetTickers(c echo.Context) error {
	req := &models.SetTickersRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.uc.SetTickers(c.Request().Context(), c.Param("id"), req.Tickers)
	if err != nil {
		return errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, s)
}
