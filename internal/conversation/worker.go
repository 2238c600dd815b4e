package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// TurnProcessor runs one turn through the triage engine.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, req triage.TurnRequest) (triage.TurnResult, error)
}

// Worker consumes turn jobs from the queue and invokes the processor.
type Worker struct {
	processor TurnProcessor
	queue     Queue
	jobs      JobUpdater
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// ErrRetryable marks a job that should stay on the queue for redelivery.
var ErrRetryable = errors.New("conversation: job should be retried")

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages one receive call may return.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewWorker wires a queue consumer. jobs may be nil when status tracking is off.
func NewWorker(processor TurnProcessor, queue Queue, jobs JobUpdater, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("conversation: processor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		processor: processor,
		queue:     queue,
		jobs:      jobs,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	if w.queue == nil {
		panic("conversation: queue cannot be nil")
	}
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("triage worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("triage worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive turn jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	if err := w.HandleBody(ctx, msg.Body); errors.Is(err, ErrRetryable) {
		w.logger.Warn("turn job left on queue for retry", "msg_id", msg.ID, "error", err)
		return
	}
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

// HandleBody processes one encoded job. It returns ErrRetryable only when the
// job was interrupted and should be redelivered; every other outcome is final.
func (w *Worker) HandleBody(ctx context.Context, body string) error {
	payload, err := decodePayload(body)
	if err != nil {
		w.logger.Error("failed to decode turn job", "error", err)
		return nil
	}
	if payload.Kind != jobTypeTurn {
		w.logger.Warn("unknown turn job kind", "job_id", payload.ID, "kind", payload.Kind)
		return nil
	}

	logger := w.logger.With("job_id", payload.ID, "session_id", payload.Turn.SessionID)
	logger.Info("worker processing turn job")

	res, err := w.processor.ProcessTurn(ctx, payload.Turn)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Join(ErrRetryable, err)
		}
		logger.Error("turn processing failed", "error", err)
		w.markFailed(ctx, logger, payload, err)
		return nil
	}

	if payload.TrackStatus && w.jobs != nil {
		if storeErr := w.jobs.MarkCompleted(ctx, payload.ID, NewTurnReply(res)); storeErr != nil {
			logger.Error("failed to update job status", "error", storeErr)
		}
	}
	logger.Info("turn job completed", "intervention_type", res.InterventionType, "crisis_detected", res.CrisisDetected)
	return nil
}

func (w *Worker) markFailed(ctx context.Context, logger *logging.Logger, payload queuePayload, cause error) {
	if !payload.TrackStatus || w.jobs == nil {
		return
	}
	var fallback *TurnReply
	if !errors.Is(cause, triage.ErrEmptyTurn) && !errors.Is(cause, triage.ErrSessionOwnership) {
		fallback = &TurnReply{
			Reply:            triage.GenericFallbackReply,
			InterventionType: string(triage.InterventionSupportive),
		}
	}
	if err := w.jobs.MarkFailed(ctx, payload.ID, cause.Error(), fallback); err != nil {
		logger.Error("failed to update job status", "error", err)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete turn job", "error", err)
	}
}
