package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/triage-engine/cmd/mainconfig"
	"github.com/wolfman30/triage-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/triage-engine/internal/config"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadOptionalAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	rt, err := bootstrap.Build(ctx, bootstrap.Options{
		Config:     cfg,
		AWS:        awsConfig,
		Registerer: prometheus.NewRegistry(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	worker, err := rt.NewWorker()
	if err != nil {
		logger.Error("triage worker needs TURN_QUEUE_URL or USE_MEMORY_QUEUE", "error", err)
		os.Exit(1)
	}
	worker.Start(ctx)

	var deliverer sync.WaitGroup
	if rt.Deliverer != nil {
		deliverer.Add(1)
		go func() {
			defer deliverer.Done()
			rt.Deliverer.Start(ctx)
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down triage worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		deliverer.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("triage worker stopped")
	case <-doneCtx.Done():
		logger.Error("triage worker shutdown timed out", "error", doneCtx.Err())
	}
}
