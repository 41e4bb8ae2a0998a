package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/evidence-engine/internal/bootstrap"
	"github.com/kirillkom/evidence-engine/internal/config"
	"github.com/kirillkom/evidence-engine/internal/observability/logging"
	"github.com/kirillkom/evidence-engine/internal/observability/metrics"
)

const (
	service        = "evidence-worker"
	processTimeout = 5 * time.Minute
)

func main() {
	_ = config.LoadDotEnv("")
	cfg := config.Load()
	logger := logging.NewJSONLogger(service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(service)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    service,
		Registerer: workerMetrics.Registry(),
		WithQueue:  true,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "metrics_port", cfg.WorkerMetricsPort)
	err = app.Queue.SubscribeDocumentIngested(ctx, func(handlerCtx context.Context, jobID string) error {
		if job, err := app.Jobs.GetByID(handlerCtx, jobID); err == nil {
			workerMetrics.ObserveQueueLag(time.Since(job.CreatedAt))
		}

		processCtx, cancel := context.WithTimeout(handlerCtx, processTimeout)
		defer cancel()

		started := time.Now()
		workerMetrics.StartJob()
		err := app.ProcessUC.ProcessByID(processCtx, jobID)
		workerMetrics.FinishJob(time.Since(started), err)
		if err != nil {
			return err
		}
		if job, err := app.Jobs.GetByID(handlerCtx, jobID); err == nil {
			workerMetrics.ObserveJobChunks(job.ChunkCount)
			logger.Info("ingest_job_processed", "job_id", jobID, "chunks", job.ChunkCount, "duration_ms", time.Since(started).Milliseconds())
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
