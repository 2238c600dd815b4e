package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/triage-engine/internal/archive"
	appconfig "github.com/wolfman30/triage-engine/internal/config"
	"github.com/wolfman30/triage-engine/internal/conversation"
	"github.com/wolfman30/triage-engine/internal/crisis"
	"github.com/wolfman30/triage-engine/internal/events"
	"github.com/wolfman30/triage-engine/internal/llm"
	"github.com/wolfman30/triage-engine/internal/notify"
	"github.com/wolfman30/triage-engine/internal/observability/metrics"
	"github.com/wolfman30/triage-engine/internal/responders"
	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// TurnStore is the conversation store the engine appends to and the session
// end endpoint closes.
type TurnStore interface {
	triage.TurnStore
	EndSession(ctx context.Context, orgID, sessionID, summary string) error
}

// Options configures Build. AWS may be nil when no AWS-backed component is
// configured; Registerer defaults to the prometheus default registry.
type Options struct {
	Config     *appconfig.Config
	AWS        *aws.Config
	Registerer prometheus.Registerer
	Logger     *logging.Logger
}

// Runtime is the fully wired triage engine shared by the API, the worker and
// the lambda.
type Runtime struct {
	Config    *appconfig.Config
	Logger    *logging.Logger
	Metrics   *metrics.TriageMetrics
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Turns     TurnStore
	Alerts    crisis.Store
	Team      responders.Store
	Manager   *crisis.Manager
	Engine    *triage.Engine
	Hub       *events.Hub
	Deliverer *events.Deliverer
	Queue     conversation.Queue
	Publisher *conversation.Publisher
	Jobs      conversation.JobStatusStore
	LLM       llm.Client

	EmailProvider string
	closers       []io.Closer
}

// Build assembles stores, the crisis manager and the triage engine from config.
// Memory stores are used when USE_MEMORY_STORES is set or no DATABASE_URL is
// configured.
func Build(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rt := &Runtime{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewTriageMetrics(opts.Registerer),
		Hub:     events.NewHub(logger),
	}

	pool, err := BuildPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Pool = pool
	rt.buildStores()

	fanout := events.Fanout{rt.Hub}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		publisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.AlertEventsQueue, logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("bootstrap: alert event broker: %w", err)
		}
		rt.closers = append(rt.closers, publisher)
		fanout = append(fanout, publisher)
	}
	var recorder *events.AlertRecorder
	if rt.Pool != nil {
		outbox := events.NewOutboxStore(rt.Pool)
		recorder = events.NewOutboxRecorder(outbox, logger)
		rt.Deliverer = events.NewDeliverer(outbox, fanout, logger)
	} else {
		recorder = events.NewDirectRecorder(fanout, logger)
	}

	sender, provider, reason := BuildEmailSender(cfg, opts.AWS, logger)
	rt.EmailProvider = provider
	if reason != "" {
		logger.Warn("email provider fell back to stub", "requested", cfg.EmailProvider, "reason", reason)
	}
	managerOpts := []crisis.ManagerOption{
		crisis.WithNotifier(notify.NewCrisisNotifier(sender, notify.CrisisNotifierConfig{
			AdminEmail:   cfg.AdminAlertEmail,
			DashboardURL: cfg.PublicBaseURL,
		}, logger, rt.Metrics)),
		crisis.WithEventRecorder(recorder),
		crisis.WithMetrics(rt.Metrics),
	}
	if opts.AWS != nil && strings.TrimSpace(cfg.AlertArchiveBucket) != "" {
		managerOpts = append(managerOpts, crisis.WithArchiver(
			archive.NewStore(s3.NewFromConfig(*opts.AWS), cfg.AlertArchiveBucket, logger)))
	}
	rt.Manager = crisis.NewManager(rt.Alerts, rt.Team, crisis.ManagerConfig{
		AutoEmergencySessions: cfg.AutoEmergencySessions,
		MeetingBaseURL:        cfg.MeetingBaseURL,
	}, logger, managerOpts...)

	client, closers, err := BuildLLMClient(ctx, cfg, opts.AWS, logger)
	rt.closers = append(rt.closers, closers...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.LLM = client
	models := llm.NewModelRotator(cfg.LLMModels)

	rt.Redis = BuildRedisClient(ctx, cfg, logger, true)
	if rt.Redis != nil {
		rt.closers = append(rt.closers, rt.Redis)
	}

	assessor := triage.NewAssessor(client, logger,
		triage.WithAssessorTimeout(cfg.AssessmentTimeout),
		triage.WithAssessorModels(models),
		triage.WithAssessorMetrics(rt.Metrics),
	)
	replier := triage.NewReplier(client, models, cfg.ReplyTimeout, logger, rt.Metrics)
	rt.Engine = triage.NewEngine(assessor, replier, rt.Turns, triage.EngineConfig{
		HistoryWindow: cfg.HistoryWindow,
		DepthLookback: cfg.DepthLookback,
	}, logger,
		triage.WithEscalator(rt.Manager),
		triage.WithSequencer(BuildSequencer(rt.Redis, cfg, logger)),
		triage.WithEngineMetrics(rt.Metrics),
	)

	rt.buildQueue(opts.AWS)
	logger.Info("triage runtime ready",
		"postgres", rt.Pool != nil,
		"redis", rt.Redis != nil,
		"llm", rt.LLM != nil,
		"queue", rt.Queue != nil,
		"email", provider,
		"outbox", rt.Deliverer != nil,
	)
	return rt, nil
}

func (rt *Runtime) buildStores() {
	if rt.Pool != nil {
		rt.Turns = conversation.NewPostgresTurnStore(rt.Pool)
		rt.Alerts = crisis.NewPostgresStore(rt.Pool)
		rt.Team = responders.NewPostgresStore(rt.Pool, rt.Logger,
			responders.WithMaxAttempts(rt.Config.AssignmentMaxRetries),
			responders.WithMetrics(rt.Metrics),
		)
		return
	}
	alerts := crisis.NewMemoryStore()
	rt.Turns = conversation.NewMemoryTurnStore()
	rt.Alerts = alerts
	rt.Team = responders.NewMemoryStore(alerts)
}

func (rt *Runtime) buildQueue(awsCfg *aws.Config) {
	cfg := rt.Config
	switch {
	case cfg.UseMemoryQueue:
		rt.Queue = conversation.NewMemoryQueue(0)
		rt.Jobs = conversation.NewMemoryJobStore()
	case awsCfg != nil && strings.TrimSpace(cfg.TurnQueueURL) != "":
		rt.Queue = conversation.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.TurnQueueURL)
		if strings.TrimSpace(cfg.TurnJobsTable) != "" {
			rt.Jobs = conversation.NewJobStore(dynamodb.NewFromConfig(*awsCfg), cfg.TurnJobsTable, rt.Logger)
		}
	default:
		return
	}
	rt.Publisher = conversation.NewPublisher(rt.Queue, rt.Logger)
}

// ConversationHandler exposes the turn endpoints. Async submission answers 503
// when no queue or job store is configured.
func (rt *Runtime) ConversationHandler() *conversation.Handler {
	if rt.Publisher == nil || rt.Jobs == nil {
		return conversation.NewHandler(rt.Engine, nil, nil, rt.Turns, rt.Logger)
	}
	return conversation.NewHandler(rt.Engine, rt.Publisher, rt.Jobs, rt.Turns, rt.Logger)
}

// NewWorker builds a queue consumer bound to the runtime's engine and job store.
func (rt *Runtime) NewWorker(opts ...conversation.WorkerOption) (*conversation.Worker, error) {
	if rt.Queue == nil {
		return nil, errors.New("bootstrap: no turn queue configured")
	}
	if rt.Config.WorkerCount > 0 {
		opts = append([]conversation.WorkerOption{conversation.WithWorkerCount(rt.Config.WorkerCount)}, opts...)
	}
	return conversation.NewWorker(rt.Engine, rt.Queue, rt.Jobs, rt.Logger, opts...), nil
}

// Ping reports whether the database is reachable. It is nil-safe for memory
// deployments.
func (rt *Runtime) Ping(ctx context.Context) error {
	if rt.Pool == nil {
		return nil
	}
	return rt.Pool.Ping(ctx)
}

// Close releases provider clients, the broker connection, Redis and the pool.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.Logger.Warn("failed to close runtime dependency", "error", err)
		}
	}
	rt.closers = nil
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
