// Package app wires together the process-level components: configured
// outputs, the outer engine that hosts them for credential-propagation
// lookups, the trace control HTTP surface, and the Prometheus metrics
// listener. It owns the process lifecycle (start, stop, graceful
// shutdown on signal) the same way the teacher's App type did, trimmed
// to the components this process actually runs.
//
// Example usage:
//
//	application, err := app.New("/path/to/config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := application.Run(); err != nil {
//		log.Fatal(err)
//	}
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tracepipe/internal/config"
	"tracepipe/internal/control"
	"tracepipe/internal/engine"
	"tracepipe/internal/metrics"
	"tracepipe/internal/sinks"
	"tracepipe/pkg/types"
)

// App coordinates the outer engine's configured outputs, the trace
// control server, and the metrics server for the lifetime of the
// process.
type App struct {
	config *config.Config
	logger *logrus.Logger

	outer         *engine.Engine
	outerOutputs  []types.Output
	controlServer *control.Server
	metricsServer *metrics.Server

	ctx        context.Context
	cancel     context.CancelFunc
	configFile string
}

// New loads configuration from configFile, builds the logger, and
// constructs (but does not start) every process component.
func New(configFile string) (*App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.App.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())

	application := &App{
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		configFile: configFile,
	}

	if err := application.initComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return application, nil
}

// initComponents builds the outer engine's outputs, the trace control
// registry and server, and the metrics server, in that order: outputs
// must exist before the control server can be told about the outer
// engine that hosts them.
func (app *App) initComponents() error {
	app.outer = engine.New(engine.Config{
		Flush: time.Duration(app.config.Engine.FlushSeconds) * time.Second,
		Grace: time.Duration(app.config.Engine.GraceSeconds) * time.Second,
	}, app.logger)

	for _, outCfg := range app.config.Outputs {
		out, err := sinks.New(outCfg.Kind, nil, app.logger)
		if err != nil {
			return fmt.Errorf("building output %q: %w", outCfg.Name, err)
		}
		for k, v := range outCfg.Properties {
			out.SetProperty(k, v)
		}
		app.outer.RegisterOutput(outCfg.Name, outCfg.Kind, out)
		app.outerOutputs = append(app.outerOutputs, out)
	}

	registry := control.NewRegistry()
	controlAddr := fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port)
	app.controlServer = control.New(controlAddr, registry, app.outer, func() bool {
		return app.config.Trace.Enabled
	}, app.logger)

	metricsAddr := fmt.Sprintf("%s:%d", app.config.Metrics.Host, app.config.Metrics.Port)
	app.metricsServer = metrics.NewServer(metricsAddr, app.logger)

	return nil
}

// Start brings every component up: configured outputs first (so the
// outer engine's credential-propagation lookups are ready), then the
// metrics listener, then the trace control listener.
func (app *App) Start() error {
	app.logger.Info("starting tracepiped")

	for _, out := range app.outerOutputs {
		if err := out.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start output: %w", err)
		}
	}

	if app.config.Metrics.Enabled {
		if err := app.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if app.config.Server.Enabled {
		if err := app.controlServer.Start(); err != nil {
			return fmt.Errorf("failed to start control server: %w", err)
		}
	}

	app.logger.Info("tracepiped started successfully")
	return nil
}

// Stop shuts every component down, logging but not failing on
// individual component errors, and cancels the root context the
// configured outputs were started with. Trace contexts created through
// the control server run their embedded engines on their own
// background context and are not stopped here.
func (app *App) Stop() error {
	app.logger.Info("stopping tracepiped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if app.config.Server.Enabled {
		if err := app.controlServer.Stop(shutdownCtx); err != nil {
			app.logger.WithError(err).Error("failed to stop control server")
		}
	}

	if app.config.Metrics.Enabled {
		if err := app.metricsServer.Stop(); err != nil {
			app.logger.WithError(err).Error("failed to stop metrics server")
		}
	}

	for _, out := range app.outerOutputs {
		if err := out.Stop(); err != nil {
			app.logger.WithError(err).Error("failed to stop output")
		}
	}

	app.cancel()
	return nil
}

// Run starts the application and blocks until SIGINT or SIGTERM, then
// performs a graceful shutdown.
func (app *App) Run() error {
	if err := app.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	app.logger.Info("shutdown signal received")
	return app.Stop()
}
