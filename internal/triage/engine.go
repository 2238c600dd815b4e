package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/triage-engine/internal/observability/metrics"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

var engineTracer = otel.Tracer("triage/engine")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	maxContextMessages = 4
)

// Turn is one persisted message in a session.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Ordinal   int       `json:"ordinal"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionKey identifies the session a turn belongs to and who owns it.
type SessionKey struct {
	OrgID     string
	UserID    string
	SessionID string
}

// TurnStore persists turns and exposes the reads the engine needs.
type TurnStore interface {
	// AppendTurn stores a turn at the next ordinal, creating the session on first use.
	// A session owned by a different org or user yields ErrSessionOwnership.
	AppendTurn(ctx context.Context, key SessionKey, role, text string) (Turn, error)
	// RecentTurns returns up to limit turns, oldest first.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	CountTurnsSince(ctx context.Context, sessionID string, since time.Time) (int, error)
	// RecentSummaries returns summaries of the user's other sessions, newest first.
	RecentSummaries(ctx context.Context, userID, excludeSessionID string, limit int) ([]string, error)
}

// EscalationInput carries a crisis-routed turn to the alert lifecycle.
type EscalationInput struct {
	OrgID           string
	UserID          string
	SessionID       string
	TriggerMessage  string
	ContextMessages []string
	Assessment      Assessment
	Classification  Classification
}

// EscalationOutcome summarises the alert created for a crisis turn.
type EscalationOutcome struct {
	AlertID             string     `json:"alert_id"`
	CrisisType          CrisisType `json:"crisis_type"`
	RiskLevel           RiskLevel  `json:"risk_level"`
	Status              string     `json:"status"`
	AssignedResponderID string     `json:"assigned_responder_id,omitempty"`
	Unassigned          bool       `json:"unassigned"`
}

// Escalator records a crisis alert and routes it to a responder.
type Escalator interface {
	Escalate(ctx context.Context, in EscalationInput) (EscalationOutcome, error)
}

// Sequencer serialises work per key. release must be called exactly once.
type Sequencer interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	OrgID     string `json:"org_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// TurnResult is what the caller receives for a turn. Reply is never empty.
type TurnResult struct {
	Reply            string             `json:"reply"`
	InterventionType InterventionType   `json:"intervention_type"`
	CrisisDetected   bool               `json:"crisis_detected"`
	Assessment       Assessment         `json:"assessment"`
	Depth            Depth              `json:"context_depth"`
	Patterns         []string           `json:"patterns"`
	Decision         Decision           `json:"decision"`
	Classification   *Classification    `json:"classification,omitempty"`
	Alert            *EscalationOutcome `json:"alert,omitempty"`
}

// EngineConfig holds the tunables for ProcessTurn.
type EngineConfig struct {
	HistoryWindow int
	DepthLookback time.Duration
}

// Engine runs the assess, route, escalate and reply pipeline for each turn.
type Engine struct {
	assessor  *Assessor
	replier   *Replier
	turns     TurnStore
	escalator Escalator
	sequencer Sequencer
	cfg       EngineConfig
	logger    *logging.Logger
	metrics   *metrics.TriageMetrics
	now       func() time.Time
}

type EngineOption func(*Engine)

func WithEscalator(e Escalator) EngineOption {
	return func(en *Engine) { en.escalator = e }
}

func WithSequencer(s Sequencer) EngineOption {
	return func(en *Engine) { en.sequencer = s }
}

func WithEngineMetrics(m *metrics.TriageMetrics) EngineOption {
	return func(en *Engine) { en.metrics = m }
}

func withClock(now func() time.Time) EngineOption {
	return func(en *Engine) { en.now = now }
}

func NewEngine(assessor *Assessor, replier *Replier, turns TurnStore, cfg EngineConfig, logger *logging.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	if cfg.DepthLookback <= 0 {
		cfg.DepthLookback = 24 * time.Hour
	}
	if assessor == nil {
		assessor = NewAssessor(nil, logger)
	}
	if replier == nil {
		replier = NewReplier(nil, nil, 0, logger, nil)
	}
	e := &Engine{
		assessor: assessor,
		replier:  replier,
		turns:    turns,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessTurn handles one user message. Turns of the same session are processed one at a time.
// Only an empty turn is an error; every dependency failure degrades to a safe reply.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return TurnResult{}, ErrEmptyTurn
	}

	ctx, span := engineTracer.Start(ctx, "triage.process_turn")
	defer span.End()
	span.SetAttributes(attribute.String("triage.session_id", req.SessionID))

	logger := e.logger.With("session_id", req.SessionID, "org_id", req.OrgID)

	if e.sequencer != nil {
		release, err := e.sequencer.Acquire(ctx, req.SessionID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return TurnResult{}, fmt.Errorf("triage: acquire session: %w", ctxErr)
			}
			logger.Error("session sequencer unavailable, processing unsequenced", "error", err.Error())
		} else {
			defer release()
		}
	}

	key := SessionKey{OrgID: req.OrgID, UserID: req.UserID, SessionID: req.SessionID}
	userTurn, err := e.appendTurn(ctx, logger, key, RoleUser, req.Text)
	if errors.Is(err, ErrSessionOwnership) {
		span.RecordError(err)
		return TurnResult{}, err
	}
	// history is read only once the session is known to be the caller's
	var history []HistoryTurn
	if err == nil {
		history = e.history(ctx, logger, req.SessionID, userTurn)
	}

	assessment := e.assessor.Assess(ctx, req.Text, history)

	depth, patterns := e.signals(ctx, logger, req)
	decision := RouteTurn(assessment)

	result := TurnResult{
		InterventionType: decision.Route.Intervention(),
		CrisisDetected:   decision.Route == RouteCrisis,
		Assessment:       assessment,
		Depth:            depth,
		Patterns:         patterns,
		Decision:         decision,
	}

	if decision.Route == RouteCrisis {
		classification := Classify(assessment)
		result.Classification = &classification
		span.SetAttributes(
			attribute.String("triage.crisis_type", string(classification.Type)),
			attribute.String("triage.risk_level", string(classification.Level)),
		)
		result.Alert = e.escalate(ctx, logger, req, history, assessment, classification)
	}

	result.Reply = e.replier.Compose(ctx, decision.Route, ReplyInput{
		Text:       req.Text,
		Assessment: assessment,
		Depth:      depth,
		Patterns:   patterns,
	})

	_, _ = e.appendTurn(ctx, logger, key, RoleAssistant, result.Reply)

	span.SetAttributes(
		attribute.Int("triage.risk_score", assessment.RiskScore),
		attribute.String("triage.route", string(decision.Route)),
	)
	e.metrics.ObserveTurn(string(result.InterventionType))
	logger.Info("turn processed",
		"risk_score", assessment.RiskScore,
		"route", decision.Route,
		"rule", decision.Rule,
		"context_depth", depth,
		"intervention_type", result.InterventionType,
	)
	return result, nil
}

func (e *Engine) appendTurn(ctx context.Context, logger *logging.Logger, key SessionKey, role, text string) (Turn, error) {
	if e.turns == nil {
		return Turn{}, nil
	}
	turn, err := e.turns.AppendTurn(ctx, key, role, text)
	if err != nil {
		if errors.Is(err, ErrSessionOwnership) {
			logger.Warn("turn rejected for foreign session", "role", role)
		} else {
			logger.Error("failed to persist turn", "role", role, "error", err.Error())
		}
		return Turn{}, err
	}
	return turn, nil
}

func (e *Engine) history(ctx context.Context, logger *logging.Logger, sessionID string, current Turn) []HistoryTurn {
	if e.turns == nil {
		return nil
	}
	turns, err := e.turns.RecentTurns(ctx, sessionID, e.cfg.HistoryWindow+1)
	if err != nil {
		logger.Warn("failed to load history", "error", err.Error())
		return nil
	}
	out := make([]HistoryTurn, 0, len(turns))
	for _, t := range turns {
		if t.Ordinal == current.Ordinal {
			continue
		}
		out = append(out, HistoryTurn{Role: t.Role, Text: t.Text})
	}
	if len(out) > e.cfg.HistoryWindow {
		out = out[len(out)-e.cfg.HistoryWindow:]
	}
	return out
}

// signals computes context depth and recurring patterns concurrently. Neither can fail the turn.
func (e *Engine) signals(ctx context.Context, logger *logging.Logger, req TurnRequest) (Depth, []string) {
	if e.turns == nil {
		return ClassifyDepth(0), nil
	}

	var (
		count     int
		summaries []string
	)
	var g errgroup.Group
	g.Go(func() error {
		n, err := e.turns.CountTurnsSince(ctx, req.SessionID, e.now().Add(-e.cfg.DepthLookback))
		if err != nil {
			logger.Warn("failed to count turns", "error", err.Error())
			return nil
		}
		count = n
		return nil
	})
	g.Go(func() error {
		if req.UserID == "" {
			return nil
		}
		s, err := e.turns.RecentSummaries(ctx, req.UserID, req.SessionID, patternWindow)
		if err != nil {
			logger.Warn("failed to load session summaries", "error", err.Error())
			return nil
		}
		summaries = s
		return nil
	})
	_ = g.Wait()

	return ClassifyDepth(count), DetectPatterns(summaries)
}

func (e *Engine) escalate(ctx context.Context, logger *logging.Logger, req TurnRequest, history []HistoryTurn, a Assessment, c Classification) *EscalationOutcome {
	if e.escalator == nil {
		logger.Warn("crisis detected but no escalator configured", "crisis_type", c.Type, "risk_level", c.Level)
		return nil
	}

	contextMessages := make([]string, 0, maxContextMessages)
	start := len(history) - maxContextMessages
	if start < 0 {
		start = 0
	}
	for _, h := range history[start:] {
		contextMessages = append(contextMessages, h.Text)
	}

	// Escalation is detached from caller cancellation.
	escCtx := context.WithoutCancel(ctx)
	outcome, err := e.escalator.Escalate(escCtx, EscalationInput{
		OrgID:           req.OrgID,
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		TriggerMessage:  req.Text,
		ContextMessages: contextMessages,
		Assessment:      a,
		Classification:  c,
	})
	if err != nil {
		logger.Error("crisis escalation failed", "crisis_type", c.Type, "risk_level", c.Level, "error", err.Error())
		return nil
	}
	if outcome.Unassigned {
		logger.Warn("crisis alert unassigned", "alert_id", outcome.AlertID, "risk_level", outcome.RiskLevel)
	}
	return &outcome
}
