package api

import (
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	"AgentFlow/internal/usecase"
	xhttp "AgentFlow/pkg/http"
	xlogger "AgentFlow/pkg/logger"
	"AgentFlow/pkg/util"

	"github.com/labstack/echo/v4"
)

// MarketHandler exposes the candles and features the market_data agent reads.
type MarketHandler struct {
	logger *xlogger.Logger
	uc     *usecase.MarketUseCase
}

func NewMarketHandler(logger *xlogger.Logger, uc *usecase.MarketUseCase) *MarketHandler {
	return &MarketHandler{logger: logger, uc: uc}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/market")
	g.GET("/:symbol/candles", h.Candles)
	g.GET("/:symbol/features", h.Features)
}

func (h *MarketHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := domrepo.NormalizeTimeframe(req.TF)
	now := time.Now().UTC()
	from := util.ParseTimeDefault(req.From, now.Add(-24*time.Hour))
	to := util.ParseTimeDefault(req.To, now)
	from, to = util.AlignFromTo(from, to, string(tf))

	res, err := h.uc.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:    req.Symbol,
		From:      from,
		To:        to,
		Timeframe: tf,
		Limit:     req.Limit,
	})
	if err != nil {
		h.logger.Error("candles usecase error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return errorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *MarketHandler) Features(c echo.Context) error {
	req := &models.FeaturesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.uc.Features(c.Request().Context(), req.Symbol, domrepo.NormalizeTimeframe(req.TF), req.Bars, req.Window)
	if err != nil {
		h.logger.Error("features usecase error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}
