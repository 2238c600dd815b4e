package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/triage-engine/internal/llm"
	"github.com/wolfman30/triage-engine/internal/observability/metrics"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

var assessorTracer = otel.Tracer("triage/assessor")

const assessmentSystemPrompt = `You are a mental health triage assistant reviewing a student's message.
Assess emotional state, urgency and crisis risk.

Risk score scale (0-10):
- 0-2: no risk
- 3-4: mild distress
- 5-6: moderate concern
- 7-8: high risk, immediate intervention needed
- 9-10: critical, emergency response required

Look for suicidal ideation, hopelessness, self-harm, substance use, isolation and sudden mood changes.

Return EXACTLY one JSON object and nothing else:
{
  "emotional_state": "<one word>",
  "urgency_level": <integer 1-10>,
  "risk_score": <integer 0-10>,
  "risk_factors": [<strings>],
  "cognitive_distortions": [<strings>],
  "concerns": [<strings>],
  "conversation_needs": "question|support|advice|validation|cbt|crisis",
  "immediate_action_needed": <true|false>
}`

// HistoryTurn is a prior turn passed to the assessor as context.
type HistoryTurn struct {
	Role string
	Text string
}

// Assessor turns a user message into an Assessment. It never returns an error:
// any upstream or parse failure yields DefaultAssessment.
type Assessor struct {
	client  llm.Client
	models  *llm.ModelRotator
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.TriageMetrics
}

// AssessorOption configures an Assessor.
type AssessorOption func(*Assessor)

func WithAssessorTimeout(d time.Duration) AssessorOption {
	return func(a *Assessor) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithAssessorModels(models *llm.ModelRotator) AssessorOption {
	return func(a *Assessor) { a.models = models }
}

func WithAssessorMetrics(m *metrics.TriageMetrics) AssessorOption {
	return func(a *Assessor) { a.metrics = m }
}

func NewAssessor(client llm.Client, logger *logging.Logger, opts ...AssessorOption) *Assessor {
	if logger == nil {
		logger = logging.Default()
	}
	a := &Assessor{
		client:  client,
		timeout: 12 * time.Second,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assess returns the structured reading for text, with the crisis keyword floor applied.
func (a *Assessor) Assess(ctx context.Context, text string, history []HistoryTurn) Assessment {
	ctx, span := assessorTracer.Start(ctx, "triage.assess")
	defer span.End()

	assessment, err := a.assess(ctx, text, history)
	if err != nil {
		reason := "parse"
		if errors.Is(err, ErrUpstreamUnavailable) {
			reason = "upstream"
		}
		a.logger.Warn("assessment defaulted", "reason", reason, "error", err.Error())
		a.metrics.ObserveAssessmentFallback(reason)
		span.RecordError(err)
		assessment = DefaultAssessment()
	}

	assessment, floored := ApplyCrisisFloor(assessment, text)
	span.SetAttributes(
		attribute.Int("triage.risk_score", assessment.RiskScore),
		attribute.Bool("triage.defaulted", assessment.Defaulted),
		attribute.Bool("triage.keyword_floor", floored),
	)
	return assessment
}

func (a *Assessor) assess(ctx context.Context, text string, history []HistoryTurn) (Assessment, error) {
	if a.client == nil {
		return Assessment{}, fmt.Errorf("%w: no client configured", ErrUpstreamUnavailable)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.client.Complete(callCtx, llm.Request{
		Model:       a.models.Next(),
		System:      []string{assessmentSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: assessmentUserPrompt(text, history)}},
		MaxTokens:   800,
		Temperature: 0.3,
	})
	a.metrics.ObserveLLMLatency("assessment", time.Since(start).Seconds(), err)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	a.logger.Debug("assessment raw output", "model", resp.Model, "output", resp.Text)
	return ParseAssessment(resp.Text)
}

func assessmentUserPrompt(text string, history []HistoryTurn) string {
	var b strings.Builder
	b.WriteString("Previous conversation context:\n")
	if len(history) == 0 {
		b.WriteString("None\n")
	}
	for _, turn := range history {
		role := "User"
		if turn.Role == llm.RoleAssistant {
			role = "AI"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, truncate(turn.Text, 200))
	}
	fmt.Fprintf(&b, "\nUser's current message: %q\n", text)
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
