package main

import (
	"context"
	"errors"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/triage-engine/cmd/mainconfig"
	"github.com/wolfman30/triage-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/triage-engine/internal/config"
	"github.com/wolfman30/triage-engine/internal/conversation"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// bodyHandler processes one queued turn job.
type bodyHandler interface {
	HandleBody(ctx context.Context, body string) error
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	rt, err := bootstrap.Build(ctx, bootstrap.Options{
		Config:     cfg,
		AWS:        &awsCfg,
		Registerer: prometheus.NewRegistry(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	// SQS drives delivery, so the worker only decodes and processes bodies.
	worker := conversation.NewWorker(rt.Engine, rt.Queue, rt.Jobs, logger)
	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, worker, logger, evt), nil
	})
}

// handle reports interrupted jobs as batch item failures so SQS redelivers
// only those records.
func handle(ctx context.Context, worker bodyHandler, logger *logging.Logger, evt events.SQSEvent) events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		if err := worker.HandleBody(ctx, record.Body); err != nil {
			if !errors.Is(err, conversation.ErrRetryable) {
				logger.Warn("unexpected turn job error", "msg_id", record.MessageId, "error", err)
			}
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		logger.Info("returning turn jobs to the queue", "count", n, "batch", len(evt.Records))
	}
	return resp
}
