package api

import (
	"errors"
	"net/http"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/middleware"
	"AgentFlow/internal/usecase"
	xhttp "AgentFlow/pkg/http"
	xlogger "AgentFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SignalsHandler ingests signals over HTTP and exposes trigger counters.
type SignalsHandler struct {
	logger     *xlogger.Logger
	gate       *middleware.SignalGate
	dispatcher *usecase.Dispatcher
}

func NewSignalsHandler(logger *xlogger.Logger, gate *middleware.SignalGate, dispatcher *usecase.Dispatcher) *SignalsHandler {
	return &SignalsHandler{logger: logger, gate: gate, dispatcher: dispatcher}
}

func (h *SignalsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/signals")
	g.POST("", h.Ingest)
	g.GET("/stats", h.Stats)
}

// Ingest answers 202 once the signal passed the gate. A signal buffered
// because the stream is down is still accepted.
func (h *SignalsHandler) Ingest(c echo.Context) error {
	req := &models.IngestSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig := &models.Signal{
		ID:         req.ID,
		SignalType: req.SignalType,
		Symbol:     req.Symbol,
		Timeframe:  req.Timeframe,
		Confidence: req.Confidence,
		Source:     req.Source,
	}
	if err := h.gate.Process(c.Request().Context(), sig); err != nil {
		if errors.Is(err, models.ErrValidation) {
			return errorResponse(c, err)
		}
		h.logger.Warn("signal accepted into buffer", xlogger.String("signal_id", sig.ID), xlogger.Error(err))
	}
	return xhttp.DataResponse(c, http.StatusAccepted, sig)
}

func (h *SignalsHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"gate":       h.gate.Stats(),
		"dispatcher": h.dispatcher.Stats(),
		"buffered":   h.gate.Pending(),
	})
}
