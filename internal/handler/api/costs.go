package api

import (
	"AgentFlow/internal/service/ledger"
	xhttp "AgentFlow/pkg/http"
	xlogger "AgentFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

type CostsHandler struct {
	logger *xlogger.Logger
	ledger *ledger.Ledger
}

func NewCostsHandler(logger *xlogger.Logger, l *ledger.Ledger) *CostsHandler {
	return &CostsHandler{logger: logger, ledger: l}
}

func (h *CostsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/costs/agents", h.AgentTotals)
}

func (h *CostsHandler) AgentTotals(c echo.Context) error {
	rows, err := h.ledger.AgentTotals(c.Request().Context())
	if err != nil {
		h.logger.Error("agent cost totals failed", xlogger.Error(err))
		return errorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
