package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"AgentFlow/pkg/config"
	xhttp "AgentFlow/pkg/http"
	pkgkafka "AgentFlow/pkg/kafka"
	applogger "AgentFlow/pkg/logger"
)

// Starter is a component that runs background goroutines until ctx ends.
type Starter interface {
	Start(ctx context.Context)
}

// Closer releases a client connection.
type Closer interface {
	Close() error
}

// Components are the long-running parts of the application. Optional ones are
// nil when their feature is disabled.
type Components struct {
	Registry interface {
		Start(ctx context.Context) error
	}
	Engine interface {
		Start(ctx context.Context)
		Recover(ctx context.Context) (int, error)
		Shutdown(ctx context.Context) error
	}
	Queue interface {
		Start() error
		Stop(ctx context.Context) error
	}
	Monitor    Starter
	Scheduler  Starter
	Dispatcher interface {
		Flush()
	}
	Gate interface {
		Start(ctx context.Context)
		Stop()
	}
	Consumer interface {
		RegisterHandler(h pkgkafka.MessageHandler)
		Start() error
		Stop(ctx context.Context) error
	}
	SignalsHandler pkgkafka.MessageHandler
	Collector      interface {
		Start(ctx context.Context) error
		Shutdown(ctx context.Context) error
	}
	Stream interface {
		Close()
	}
	Producer   Closer
	ClickHouse Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	handlers   []xhttp.Handler
	c          Components
	httpServer *xhttp.Server
	cancel     context.CancelFunc
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, handlers []xhttp.Handler, c Components) *App {
	return &App{cfg: cfg, logger: l, handlers: handlers, c: c}
}

// Start brings components up in dependency order: trigger snapshot, engine
// recovery, execution workers, then the signal sources and HTTP.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	l := a.logger

	if err := a.c.Registry.Start(ctx); err != nil {
		return err
	}
	l.Info("pipeline registry loaded")

	a.c.Engine.Start(ctx)
	if a.cfg.Engine.RecoveryOnStart {
		if _, err := a.c.Engine.Recover(ctx); err != nil {
			l.Error("execution recovery failed", applogger.Error(err))
		}
	}

	if err := a.c.Queue.Start(); err != nil {
		return err
	}
	if a.c.Monitor != nil {
		a.c.Monitor.Start(ctx)
	}
	if a.c.Scheduler != nil {
		a.c.Scheduler.Start(ctx)
		l.Info("periodic scheduler started", applogger.Duration("tick", a.cfg.Scheduler.Tick))
	}
	a.c.Gate.Start(ctx)

	if a.c.Consumer != nil && a.c.SignalsHandler != nil {
		a.c.Consumer.RegisterHandler(a.c.SignalsHandler)
		go func() {
			if err := a.c.Consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.c.SignalsHandler.Topic()))
	}

	if a.c.Collector != nil {
		if err := a.c.Collector.Start(ctx); err != nil {
			l.Error("signal feed start failed", applogger.Error(err))
		} else {
			l.Info("signal feed started", applogger.String("url", a.cfg.Feed.WebSocketURL))
		}
	}

	a.httpServer = xhttp.NewServer(l, a.handlers,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(a.metricsPath()),
	)
	return a.httpServer.Start()
}

func (a *App) metricsPath() string {
	if !a.cfg.Metrics.Enabled {
		return ""
	}
	return a.cfg.Metrics.Path
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		a.logger.Error("application start failed", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	return a.Shutdown(context.Background())
}

// Shutdown stops intake first, drains what was accepted, then closes clients.
func (a *App) Shutdown(ctx context.Context) error {
	l := a.logger
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			l.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.c.Collector != nil {
		if err := a.c.Collector.Shutdown(shutdownCtx); err != nil {
			l.Warn("signal feed stop error", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(shutdownCtx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	a.c.Gate.Stop()
	a.c.Dispatcher.Flush()

	if err := a.c.Queue.Stop(shutdownCtx); err != nil {
		l.Warn("execution queue stop error", applogger.Error(err))
	}
	if err := a.c.Engine.Shutdown(shutdownCtx); err != nil {
		l.Warn("engine shutdown error", applogger.Error(err))
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.c.Stream != nil {
		a.c.Stream.Close()
	}

	if a.c.Producer != nil {
		if err := a.c.Producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	l.Info("shutdown complete")
	return nil
}
