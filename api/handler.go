package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quantlab/internal/infrastructure"
	"quantlab/internal/model"
	"quantlab/internal/storage"
)

// BacktestRunner executes one backtest per call; the runner pool implements
// it with bounded concurrency.
type BacktestRunner interface {
	Submit(ctx context.Context, cfg model.BacktestConfig) (*model.BacktestResult, error)
}

// ResultReader serves persisted runs.
type ResultReader interface {
	List(ctx context.Context, strategyID int64, limit int) ([]model.BacktestResult, error)
	Latest(ctx context.Context, strategyID int64) (*model.BacktestResult, error)
}

// KLineReader serves raw history bars.
type KLineReader interface {
	LoadKLines(ctx context.Context, symbol, period string, limit int) ([]model.KLine, error)
}

type Handler struct {
	runner  BacktestRunner
	results ResultReader
	klines  KLineReader
	js      nats.JetStreamContext
	logger  *zap.Logger
}

func NewHandler(runner BacktestRunner, results ResultReader, klines KLineReader, js nats.JetStreamContext, logger *zap.Logger) *Handler {
	return &Handler{
		runner:  runner,
		results: results,
		klines:  klines,
		js:      js,
		logger:  logger,
	}
}

func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	return s
}

// RunBacktest validates the request, runs the simulation and returns the
// complete result. The run itself blocks the request.
func (h *Handler) RunBacktest(c *gin.Context) {
	var req struct {
		StrategyID     int64           `json:"strategy_id" binding:"required"`
		Symbol         string          `json:"symbol" binding:"required"`
		Resolution     string          `json:"resolution" binding:"required"`
		StartTime      time.Time       `json:"start_time" binding:"required"`
		EndTime        time.Time       `json:"end_time" binding:"required"`
		InitialCapital decimal.Decimal `json:"initial_capital"`
		RiskPerTrade   float64         `json:"risk_per_trade"`
		Leverage       float64         `json:"leverage"`
		Commission     float64         `json:"commission"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	capital := req.InitialCapital.InexactFloat64()
	if capital == 0 {
		capital = 10000
	}
	if req.RiskPerTrade == 0 {
		req.RiskPerTrade = 0.02
	}
	if req.Leverage == 0 {
		req.Leverage = 1
	}

	cfg := model.BacktestConfig{
		StrategyID:     req.StrategyID,
		Symbol:         normalizeSymbol(req.Symbol),
		Resolution:     model.Resolution(req.Resolution),
		StartDate:      req.StartTime,
		EndDate:        req.EndTime,
		InitialCapital: capital,
		RiskPerTrade:   req.RiskPerTrade,
		Leverage:       req.Leverage,
		Commission:     req.Commission,
	}

	result, err := h.runner.Submit(c.Request.Context(), cfg)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidConfig):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, storage.ErrStrategyNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			h.logger.Error("backtest failed", zap.Int64("strategy_id", cfg.StrategyID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "backtest failed"})
		}
		return
	}

	h.publishCompleted(cfg.StrategyID, result)
	c.JSON(http.StatusOK, result)
}

// publishCompleted announces a finished run. Best-effort: a publish failure
// is logged, never surfaced.
func (h *Handler) publishCompleted(strategyID int64, result *model.BacktestResult) {
	if h.js == nil {
		return
	}
	event := gin.H{
		"result_id":   result.ID,
		"strategy_id": strategyID,
		"symbol":      result.Config.Symbol,
		"metrics":     result.Metrics,
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal completion event", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%d", infrastructure.SubjectBacktestCompleted, strategyID)
	if _, err := h.js.Publish(subject, data); err != nil {
		h.logger.Error("failed to publish completion event", zap.String("subject", subject), zap.Error(err))
	}
}

func (h *Handler) ListBacktests(c *gin.Context) {
	strategyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strategy id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	results, err := h.results.List(c.Request.Context(), strategyID, limit)
	if err != nil {
		h.logger.Error("failed to list backtests", zap.Int64("strategy_id", strategyID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handler) LatestBacktest(c *gin.Context) {
	strategyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strategy id"})
		return
	}

	result, err := h.results.Latest(c.Request.Context(), strategyID)
	if err != nil {
		h.logger.Error("failed to load latest backtest", zap.Int64("strategy_id", strategyID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no backtests for strategy"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetHistoryKLines(c *gin.Context) {
	symbol := normalizeSymbol(c.Param("symbol"))
	period := c.DefaultQuery("period", "1m")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	klines, err := h.klines.LoadKLines(c.Request.Context(), symbol, period, limit)
	if err != nil {
		h.logger.Error("failed to query klines", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, klines)
}
