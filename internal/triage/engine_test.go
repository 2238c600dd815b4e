package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/triage-engine/internal/llm"
)

type fakeTurns struct {
	mu        sync.Mutex
	turns     map[string][]Turn
	summaries []string
	appendErr error
}

func newFakeTurns() *fakeTurns {
	return &fakeTurns{turns: map[string][]Turn{}}
}

func (f *fakeTurns) AppendTurn(_ context.Context, key SessionKey, role, text string) (Turn, error) {
	sessionID := key.SessionID
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return Turn{}, f.appendErr
	}
	t := Turn{SessionID: sessionID, Role: role, Text: text, Ordinal: len(f.turns[sessionID]) + 1, CreatedAt: time.Now()}
	f.turns[sessionID] = append(f.turns[sessionID], t)
	return t, nil
}

func (f *fakeTurns) RecentTurns(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.turns[sessionID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]Turn(nil), all...), nil
}

func (f *fakeTurns) CountTurnsSince(_ context.Context, sessionID string, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns[sessionID]), nil
}

func (f *fakeTurns) RecentSummaries(context.Context, string, string, int) ([]string, error) {
	return f.summaries, nil
}

// scriptedLLM answers assessment prompts with assessment and everything else with reply.
type scriptedLLM struct {
	mu         sync.Mutex
	assessment string
	reply      string
	err        error
	calls      []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.err != nil {
		return llm.Response{}, s.err
	}
	if len(req.System) > 0 && strings.Contains(req.System[0], "triage assistant") {
		return llm.Response{Text: s.assessment}, nil
	}
	return llm.Response{Text: s.reply}, nil
}

type fakeEscalator struct {
	mu     sync.Mutex
	inputs []EscalationInput
	out    EscalationOutcome
	err    error
}

func (f *fakeEscalator) Escalate(_ context.Context, in EscalationInput) (EscalationOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return f.out, f.err
}

func newTestEngine(client llm.Client, turns TurnStore, opts ...EngineOption) *Engine {
	models := llm.NewModelRotator([]string{"model-a", "model-b"})
	assessor := NewAssessor(client, nil, WithAssessorModels(models), WithAssessorTimeout(time.Second))
	replier := NewReplier(client, models, time.Second, nil, nil)
	return NewEngine(assessor, replier, turns, EngineConfig{HistoryWindow: 5}, nil, opts...)
}

func TestProcessTurn_ExplicitCrisisWithoutModel(t *testing.T) {
	turns := newFakeTurns()
	esc := &fakeEscalator{out: EscalationOutcome{AlertID: "alert-1", Status: "acknowledged", AssignedResponderID: "r-1"}}
	engine := newTestEngine(&scriptedLLM{err: errors.New("connection refused")}, turns, WithEscalator(esc))

	res, err := engine.ProcessTurn(context.Background(), TurnRequest{OrgID: "org", UserID: "u1", SessionID: "s1", Text: "I want to kill myself"})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Assessment.RiskScore, 7)
	assert.Equal(t, RouteCrisis, res.Decision.Route)
	assert.True(t, res.CrisisDetected)
	assert.Equal(t, InterventionCrisis, res.InterventionType)
	require.NotNil(t, res.Classification)
	assert.Equal(t, CrisisSuicideIdeation, res.Classification.Type)
	assert.True(t, res.Classification.Level.AtLeast(RiskHigh))
	assert.Contains(t, res.Reply, "National Crisis Hotline: 988 (24/7)")
	assert.Contains(t, res.Reply, "Crisis Text Line: Text HOME to 741741")
	assert.Contains(t, res.Reply, "Emergency Services: 911")

	require.Len(t, esc.inputs, 1)
	assert.Equal(t, "I want to kill myself", esc.inputs[0].TriggerMessage)
	assert.Empty(t, esc.inputs[0].ContextMessages)
	require.NotNil(t, res.Alert)
	assert.Equal(t, "alert-1", res.Alert.AlertID)

	stored := turns.turns["s1"]
	require.Len(t, stored, 2)
	assert.Equal(t, RoleUser, stored[0].Role)
	assert.Equal(t, RoleAssistant, stored[1].Role)
	assert.Equal(t, CrisisResources, stored[1].Text)
}

func TestProcessTurn_UpstreamUnavailableResponds(t *testing.T) {
	engine := newTestEngine(&scriptedLLM{err: context.DeadlineExceeded}, newFakeTurns())

	res, err := engine.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Text: "I had a long day"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Assessment.RiskScore)
	assert.True(t, res.Assessment.Defaulted)
	assert.Equal(t, RouteRespond, res.Decision.Route)
	assert.False(t, res.CrisisDetected)
	assert.Equal(t, GenericFallbackReply, res.Reply)
	assert.Nil(t, res.Alert)
}

func TestProcessTurn_CrisisReplyEvenWhenEscalationFails(t *testing.T) {
	esc := &fakeEscalator{err: errors.New("db down")}
	client := &scriptedLLM{assessment: `{"emotional_state":"hopeless","urgency_level":9,"risk_score":9,"risk_factors":["hopelessness"],"cognitive_distortions":[],"conversation_needs":"crisis","immediate_action_needed":true}`}
	engine := newTestEngine(client, newFakeTurns(), WithEscalator(esc))

	res, err := engine.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Text: "nothing matters anymore"})
	require.NoError(t, err)
	assert.Equal(t, CrisisResources, res.Reply)
	assert.Equal(t, RiskCritical, res.Classification.Level)
	assert.Nil(t, res.Alert)
}

func TestProcessTurn_CBTRoute(t *testing.T) {
	client := &scriptedLLM{
		assessment: `{"emotional_state":"anxious","urgency_level":5,"risk_score":4,"risk_factors":[],"cognitive_distortions":["catastrophizing"],"conversation_needs":"cbt","immediate_action_needed":false}`,
		reply:      "Let's look at that thought together.",
	}
	engine := newTestEngine(client, newFakeTurns())

	res, err := engine.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Text: "If I fail this exam my life is over"})
	require.NoError(t, err)
	assert.Equal(t, InterventionCBT, res.InterventionType)
	assert.True(t, strings.HasPrefix(res.Reply, "Let's look at that thought together."))
	assert.Contains(t, res.Reply, "Thought Record Worksheet")
	assert.Contains(t, res.Reply, "Behavioral Activation Schedule")
}

func TestProcessTurn_DepthAndPatterns(t *testing.T) {
	turns := newFakeTurns()
	turns.summaries = []string{"trouble with my boss at the office", "meeting went badly at my job"}
	client := &scriptedLLM{
		assessment: `{"emotional_state":"tired","urgency_level":3,"risk_score":1,"risk_factors":[],"cognitive_distortions":[],"conversation_needs":"support","immediate_action_needed":false}`,
		reply:      "That sounds exhausting.",
	}
	engine := newTestEngine(client, turns)

	res, err := engine.ProcessTurn(context.Background(), TurnRequest{UserID: "u1", SessionID: "s1", Text: "hi"})
	require.NoError(t, err)
	// the user turn is counted before depth is classified
	assert.Equal(t, DepthShallow, res.Depth)
	assert.Equal(t, []string{"work"}, res.Patterns)

	for i := 0; i < 3; i++ {
		res, err = engine.ProcessTurn(context.Background(), TurnRequest{UserID: "u1", SessionID: "s1", Text: "more"})
		require.NoError(t, err)
	}
	// 7 turns persisted before the fourth assessment
	assert.Equal(t, DepthModerate, res.Depth)
	assert.Equal(t, "That sounds exhausting.", res.Reply)
}

func TestProcessTurn_ShallowUsesContextBuildingPrompt(t *testing.T) {
	client := &scriptedLLM{
		assessment: `{"emotional_state":"calm","urgency_level":2,"risk_score":0,"risk_factors":[],"cognitive_distortions":[],"conversation_needs":"question","immediate_action_needed":false}`,
		reply:      "Welcome.",
	}
	engine := newTestEngine(client, newFakeTurns())
	_, err := engine.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Text: "hello"})
	require.NoError(t, err)

	require.Len(t, client.calls, 2)
	assert.Contains(t, client.calls[1].Messages[0].Content, "The conversation just started")
	assert.Equal(t, "model-a", client.calls[0].Model)
	assert.Equal(t, "model-b", client.calls[1].Model)
}

func TestProcessTurn_StoreFailuresStillReply(t *testing.T) {
	turns := newFakeTurns()
	turns.appendErr = errors.New("insert failed")
	engine := newTestEngine(&scriptedLLM{err: errors.New("down")}, turns)

	res, err := engine.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Text: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reply)
}

func TestProcessTurn_ForeignSessionRejected(t *testing.T) {
	turns := newFakeTurns()
	turns.turns["s1"] = []Turn{{SessionID: "s1", Role: RoleUser, Text: "private org A text", Ordinal: 1}}
	turns.appendErr = fmt.Errorf("store: %w", ErrSessionOwnership)
	client := &scriptedLLM{reply: "ok"}
	engine := newTestEngine(client, turns)

	_, err := engine.ProcessTurn(context.Background(), TurnRequest{OrgID: "org-b", SessionID: "s1", Text: "hello"})
	assert.ErrorIs(t, err, ErrSessionOwnership)
	assert.Empty(t, client.calls)
}

func TestProcessTurn_EmptyText(t *testing.T) {
	engine := newTestEngine(nil, nil)
	_, err := engine.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyTurn)
}

func TestProcessTurn_HistoryExcludesCurrentTurn(t *testing.T) {
	turns := newFakeTurns()
	esc := &fakeEscalator{}
	client := &scriptedLLM{err: errors.New("down")}
	engine := newTestEngine(client, turns, WithEscalator(esc))

	for _, text := range []string{"one", "two", "three"} {
		_, err := engine.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Text: text})
		require.NoError(t, err)
	}
	_, err := engine.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Text: "I feel suicidal"})
	require.NoError(t, err)

	require.Len(t, esc.inputs, 1)
	ctxMsgs := esc.inputs[0].ContextMessages
	assert.Len(t, ctxMsgs, maxContextMessages)
	assert.NotContains(t, ctxMsgs, "I feel suicidal")
	assert.Equal(t, GenericFallbackReply, ctxMsgs[len(ctxMsgs)-1])
}

// recordingSequencer is a keyed mutex that records acquisition order.
type recordingSequencer struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Sequencer = (*recordingSequencer)(nil)

func (s *recordingSequencer) Acquire(_ context.Context, key string) (func(), error) {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = map[string]*sync.Mutex{}
	}
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock, nil
}

func TestProcessTurn_SameSessionTurnsGetDistinctOrdinals(t *testing.T) {
	turns := newFakeTurns()
	engine := newTestEngine(&scriptedLLM{err: errors.New("down")}, turns, WithSequencer(&recordingSequencer{}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Text: "hello"})
		}()
	}
	wg.Wait()

	stored := turns.turns["s1"]
	require.Len(t, stored, 20)
	for i := 0; i < len(stored); i += 2 {
		assert.Equal(t, RoleUser, stored[i].Role, "user and assistant turns interleave per request")
		assert.Equal(t, RoleAssistant, stored[i+1].Role)
	}
}
