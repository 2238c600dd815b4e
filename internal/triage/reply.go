package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/triage-engine/internal/llm"
	"github.com/wolfman30/triage-engine/internal/observability/metrics"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// CrisisResources is returned verbatim on every crisis route. It is never model-generated.
const CrisisResources = `I'm genuinely concerned about you and want to help. Please consider reaching out to:

Immediate Crisis Support:
• National Crisis Hotline: 988 (24/7)
• Crisis Text Line: Text HOME to 741741
• Emergency Services: 911

Campus Resources:
• Campus Counseling Center (available 24/7)
• Campus Safety

Right Now:
• You're not alone in this
• These feelings can change
• Help is available and effective

A counselor has been alerted and will follow up with you as soon as possible.
Would you like to talk about what you're feeling right now?`

const cbtResources = `

Additional CBT Resources:
• Thought Record Worksheet
• Mindfulness Exercise (5-minute guided)
• Behavioral Activation Schedule

Would you like to try one of these exercises together?`

const cbtFallback = `It sounds like you're carrying a lot right now, and what you're feeling makes sense.
Sometimes our minds jump to the harshest version of a situation. One thing that can help is to write down the thought that's bothering you most, then ask: what evidence supports it, and what evidence doesn't?
Try that with one thought today and notice whether it feels any different afterwards.`

// GenericFallbackReply is used when a supportive reply cannot be generated.
const GenericFallbackReply = `Thank you for sharing that with me. I'm here to listen and support you.
Can you tell me a little more about what's been on your mind?`

// ReplyInput is everything the composer needs for one turn.
type ReplyInput struct {
	Text       string
	Assessment Assessment
	Depth      Depth
	Patterns   []string
}

// Replier produces the user-facing text for a routed turn.
type Replier struct {
	client  llm.Client
	models  *llm.ModelRotator
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.TriageMetrics
}

func NewReplier(client llm.Client, models *llm.ModelRotator, timeout time.Duration, logger *logging.Logger, m *metrics.TriageMetrics) *Replier {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Replier{client: client, models: models, timeout: timeout, logger: logger, metrics: m}
}

// Compose always returns a non-empty reply.
func (r *Replier) Compose(ctx context.Context, route Route, in ReplyInput) string {
	switch route {
	case RouteCrisis:
		return CrisisResources
	case RouteCBT:
		text, err := r.generate(ctx, "cbt", cbtPrompt(in), 0.7)
		if err != nil {
			r.logger.Warn("cbt reply fell back", "error", err.Error())
			text = cbtFallback
		}
		return text + cbtResources
	default:
		prompt := reflectivePrompt(in)
		if in.Depth == DepthShallow {
			prompt = contextBuildingPrompt(in)
		}
		text, err := r.generate(ctx, "reply", prompt, 0.7)
		if err != nil {
			r.logger.Warn("supportive reply fell back", "error", err.Error())
			return GenericFallbackReply
		}
		return text
	}
}

func (r *Replier) generate(ctx context.Context, operation, prompt string, temperature float32) (string, error) {
	if r.client == nil {
		return "", ErrUpstreamUnavailable
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.client.Complete(callCtx, llm.Request{
		Model:       r.models.Next(),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   600,
		Temperature: temperature,
	})
	r.metrics.ObserveLLMLatency(operation, time.Since(start).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty reply", ErrUpstreamUnavailable)
	}
	return text, nil
}

func cbtPrompt(in ReplyInput) string {
	return fmt.Sprintf(`You are a CBT-trained counselor providing evidence-based support to a college student.

User's message: %q
Emotional state: %s
Identified patterns: %s
Cognitive distortions detected: %s

Provide a CBT intervention that includes:
1. Validation of their feelings
2. Identification of thought patterns
3. Gentle challenging of distorted thinking
4. A practical coping strategy
5. A small practice suggestion

Keep it conversational, empathetic and age-appropriate.`,
		in.Text, in.Assessment.EmotionalState, listOrNone(in.Patterns), listOrNone(in.Assessment.CognitiveDistortions))
}

func contextBuildingPrompt(in ReplyInput) string {
	return fmt.Sprintf(`You are a compassionate counselor for college students. The conversation just started.

User said: %q
Their emotional state appears to be: %s

Respond with:
1. Warm acknowledgment of their sharing
2. Gentle follow-up questions to understand their situation better
3. Validation of their feelings
4. Invitation to share more when ready

Keep it natural, non-clinical and supportive.`,
		in.Text, in.Assessment.EmotionalState)
}

func reflectivePrompt(in ReplyInput) string {
	return fmt.Sprintf(`You are an experienced, empathetic counselor supporting college students.

User's message: %q
Current emotional state: %s
Conversation depth: %s
Recurring patterns: %s

Provide a thoughtful response that:
1. Shows genuine understanding and empathy
2. Reflects back their emotions appropriately
3. Offers gentle insights or reframes if helpful
4. Suggests practical next steps or coping strategies
5. Maintains hope and encouragement

Be warm and professional. Avoid sounding clinical.`,
		in.Text, in.Assessment.EmotionalState, in.Depth, listOrNone(in.Patterns))
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
