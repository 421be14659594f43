package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AgentFlow/internal/domain/models"
	domsvc "AgentFlow/internal/domain/service"
	"AgentFlow/pkg/logger"
	"AgentFlow/pkg/util"
)

// MonitorConfig tunes broker polling.
type MonitorConfig struct {
	PollInterval time.Duration
	RetryMax     int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	ErrorDelay   time.Duration
}

// Monitor polls the broker for executions with an open position. Polling state
// lives on the execution, so any process can pick up where another stopped.
type Monitor struct {
	engine  *Engine
	brokers domsvc.BrokerResolver
	cfg     MonitorConfig
	logger  *logger.Logger
	sleep   func(context.Context, time.Duration) error
}

func NewMonitor(engine *Engine, brokers domsvc.BrokerResolver, cfg MonitorConfig, lgr *logger.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = 2 * time.Minute
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	return &Monitor{engine: engine, brokers: brokers, cfg: cfg, logger: lgr, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start polls on every interval until ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := m.Poll(ctx); err != nil {
					m.logger.Warn("monitor poll failed", logger.Error(err))
				} else if n > 0 {
					m.logger.Debug("monitor poll", logger.Int("polled", n))
				}
			}
		}
	}()
}

// Poll checks every due execution once and returns how many were polled.
func (m *Monitor) Poll(ctx context.Context) (int, error) {
	execs, err := m.engine.store.ListByStatus(ctx, models.StatusMonitoring, models.StatusCommunicationError)
	if err != nil {
		return 0, fmt.Errorf("list monitored executions: %w", err)
	}
	now := m.engine.now()
	polled := 0
	for _, exec := range execs {
		if exec.Monitor == nil || exec.Monitor.NextPollAt.After(now) {
			continue
		}
		if err := m.pollOne(ctx, exec.ID); err != nil {
			if errors.Is(err, models.ErrExecutionBusy) {
				continue
			}
			m.logger.Warn("monitor execution failed", logger.String("execution_id", exec.ID), logger.Error(err))
			continue
		}
		polled++
	}
	return polled, nil
}

func (m *Monitor) pollOne(ctx context.Context, id string) error {
	e := m.engine
	l, err := e.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer l.release()

	exec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if exec.Monitor == nil || (exec.Status != models.StatusMonitoring && exec.Status != models.StatusCommunicationError) {
		return nil
	}
	if paused, err := e.honorPause(ctx, exec); err != nil || paused {
		return err
	}

	status, err := m.positionStatus(ctx, exec.Monitor)
	if !l.renew(ctx) {
		return fmt.Errorf("execution %s: %w", id, models.ErrLeaseLost)
	}
	now := e.now()
	if err != nil {
		exec.Monitor.Attempts++
		exec.Monitor.LastError = err.Error()
		exec.Monitor.NextPollAt = now.Add(util.BackoffWithJitter(m.cfg.PollInterval, m.cfg.ErrorDelay, exec.Monitor.Attempts))
		if exec.Status == models.StatusMonitoring {
			if err := exec.TransitionTo(models.StatusCommunicationError, now); err != nil {
				return err
			}
		} else {
			exec.UpdatedAt = now
		}
		m.logger.Warn("broker unreachable",
			logger.String("execution_id", id),
			logger.String("order_id", exec.Monitor.OrderID),
			logger.Int("attempts", exec.Monitor.Attempts),
			logger.Error(err))
		return e.persist(ctx, exec, "")
	}

	exec.Monitor.Attempts = 0
	exec.Monitor.LastError = ""
	if status.State != domsvc.PositionClosed {
		exec.Monitor.NextPollAt = now.Add(m.cfg.PollInterval)
		if exec.Status == models.StatusCommunicationError {
			if err := exec.TransitionTo(models.StatusMonitoring, now); err != nil {
				return err
			}
		} else {
			exec.UpdatedAt = now
		}
		return e.persist(ctx, exec, "")
	}

	final := models.StatusCompleted
	if status.PnL != nil {
		pnl := *status.PnL
		exec.PnL = &pnl
	} else {
		final = models.StatusNeedsReconciliation
		exec.ErrorMessage = "position closed but P&L could not be determined"
	}
	if err := exec.TransitionTo(final, now); err != nil {
		return err
	}
	if err := e.persist(ctx, exec, ""); err != nil {
		return err
	}
	m.logger.Info("position closed",
		logger.String("execution_id", id),
		logger.String("order_id", exec.Monitor.OrderID),
		logger.String("status", string(final)))
	e.finish(ctx, exec, nil)
	return nil
}

// positionStatus asks the broker with bounded retries.
func (m *Monitor) positionStatus(ctx context.Context, ms *models.MonitorState) (domsvc.PositionStatus, error) {
	broker, err := m.brokers.ByName(ms.Broker)
	if err != nil {
		return domsvc.PositionStatus{}, err
	}
	var lastErr error
	for attempt := 0; attempt <= m.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, util.BackoffWithJitter(m.cfg.BackoffMin, m.cfg.BackoffMax, attempt)); err != nil {
				return domsvc.PositionStatus{}, err
			}
		}
		st, err := broker.GetPositionStatus(ctx, ms.OrderID)
		if err == nil {
			return st, nil
		}
		lastErr = err
	}
	return domsvc.PositionStatus{}, fmt.Errorf("position status after %d attempts: %w", m.cfg.RetryMax+1, lastErr)
}
