package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/evidence-engine/internal/adapters/mcp"
	"github.com/kirillkom/evidence-engine/internal/bootstrap"
	"github.com/kirillkom/evidence-engine/internal/config"
	"github.com/kirillkom/evidence-engine/internal/observability/logging"
)

const (
	service = "evidence-mcp"
	version = "1.0.0"
)

// stdout carries the protocol, so logs go to stderr.
func main() {
	_ = config.LoadDotEnv("")
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: service, Logger: logger})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := mcpadapter.New(service, version, app.MatchUC, app.SearchUC, logger)
	logger.Info("mcp_serving_stdio", "conditions", app.Taxonomy.Len())
	if err := srv.ServeStdio(); err != nil {
		logger.Error("mcp_server_failed", "error", err)
	}
}
