package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arviso/client-pulse/internal/llm"
	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/internal/store"
	"github.com/arviso/client-pulse/pkg/logger"
)

// stageOf identifies which stage a scripted request belongs to by its system
// prompt.
func stageOf(req *llm.CompletionRequest) model.Stage {
	sys := req.Messages[0].Content
	switch {
	case strings.Contains(sys, "You triage"):
		return model.StageTriage
	case strings.Contains(sys, "risk of leaving"):
		return model.StageRisk
	case strings.Contains(sys, "sentiment of a client message"):
		return model.StageSentiment
	case strings.Contains(sys, "future events"):
		return model.StageEvents
	case strings.Contains(sys, "text message reply"):
		return model.StageResponse
	}
	return ""
}

var defaultReplies = map[model.Stage]string{
	model.StageTriage:    `{"primary_action": "RESPOND"}`,
	model.StageRisk:      `{"level": "Low", "score": 0.1}`,
	model.StageSentiment: `{"level": "Neutral", "score": 0.2}`,
	model.StageEvents:    `{"events": []}`,
	model.StageResponse:  "Thanks for reaching out, we'll follow up today.",
}

// pipelineScript scripts per-stage outcomes and counts calls per stage.
type pipelineScript struct {
	mu        sync.Mutex
	counts    map[model.Stage]int
	overrides map[model.Stage]func() (string, error)
}

func newScript(overrides map[model.Stage]func() (string, error)) *pipelineScript {
	return &pipelineScript{
		counts:    make(map[model.Stage]int),
		overrides: overrides,
	}
}

func (p *pipelineScript) reply(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	stage := stageOf(req)
	p.mu.Lock()
	p.counts[stage]++
	fn := p.overrides[stage]
	p.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return defaultReplies[stage], nil
}

func (p *pipelineScript) count(stage model.Stage) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[stage]
}

func newTestOrchestrator(t *testing.T, script *pipelineScript) (*Orchestrator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	f := &fakeLLM{reply: script.reply}
	client := NewServiceClient(f, ClientConfig{
		StageTimeout:  time.Second,
		MaxAttempts:   1,
		BackoffBase:   time.Millisecond,
		MaxConcurrent: 8,
	}, logger.NewNop())
	loader := NewContextLoader(mem, 0)
	orch := NewOrchestrator(loader, NewStages(client), mem, mem, mem, nil,
		OrchestratorConfig{TurnDeadline: 5 * time.Second}, logger.NewNop())
	return orch, mem
}

func analyzeRequest(body string) *model.AnalyzeRequest {
	return &model.AnalyzeRequest{
		ConversationID: "conv-1",
		Message:        model.Message{Sender: model.SenderClient, Body: body},
		Profile:        model.ClientProfile{ClientID: "client-1", FirmID: "firm-1"},
	}
}

func TestAnalyzeHappyPath(t *testing.T) {
	script := newScript(nil)
	orch, mem := newTestOrchestrator(t, script)

	res, err := orch.Analyze(context.Background(), analyzeRequest("any update on my case?"))
	require.NoError(t, err)

	require.NotNil(t, res.Triage)
	assert.Equal(t, model.TriageRespond, *res.Triage)
	require.NotNil(t, res.Risk)
	assert.Equal(t, model.RiskLow, res.Risk.Level)
	require.NotNil(t, res.Sentiment)
	require.NotNil(t, res.Response)
	assert.Empty(t, res.StageErrors)
	assert.Equal(t, uint64(1), res.MessageSequence)

	persisted, err := mem.ByConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, res.ID, persisted[0].ID)
}

func TestResponseGatedOnTriage(t *testing.T) {
	script := newScript(map[model.Stage]func() (string, error){
		model.StageTriage: func() (string, error) { return `{"primary_action": "FLAG"}`, nil },
	})
	orch, _ := newTestOrchestrator(t, script)

	res, err := orch.Analyze(context.Background(), analyzeRequest("I need to speak to a person"))
	require.NoError(t, err)

	require.NotNil(t, res.Triage)
	assert.Equal(t, model.TriageFlag, *res.Triage)
	assert.Nil(t, res.Response)
	assert.Zero(t, script.count(model.StageResponse))
}

func TestPartialResultOnRiskFailure(t *testing.T) {
	script := newScript(map[model.Stage]func() (string, error){
		model.StageRisk: func() (string, error) { return "", llm.ErrUnavailable },
	})
	orch, _ := newTestOrchestrator(t, script)

	res, err := orch.Analyze(context.Background(), analyzeRequest("what's the status?"))
	require.NoError(t, err)

	assert.Nil(t, res.Risk)
	assert.Equal(t, model.ErrorUnavailable, res.StageErrors[model.StageRisk])
	require.NotNil(t, res.Triage)
	require.NotNil(t, res.Sentiment)
	require.NotNil(t, res.Response)
}

func TestInvalidTriagePayloadGatesResponse(t *testing.T) {
	script := newScript(map[model.Stage]func() (string, error){
		model.StageTriage: func() (string, error) { return `{"primary_action": "MAYBE"}`, nil },
	})
	orch, _ := newTestOrchestrator(t, script)

	res, err := orch.Analyze(context.Background(), analyzeRequest("hello"))
	require.NoError(t, err)

	assert.Nil(t, res.Triage)
	assert.Equal(t, model.ErrorInvalidResponse, res.StageErrors[model.StageTriage])
	assert.Nil(t, res.Response)
	assert.Zero(t, script.count(model.StageResponse))
}

func TestAllStagesFailed(t *testing.T) {
	fail := func() (string, error) { return "", llm.ErrUnavailable }
	script := newScript(map[model.Stage]func() (string, error){
		model.StageTriage:    fail,
		model.StageRisk:      fail,
		model.StageSentiment: fail,
		model.StageEvents:    fail,
	})
	orch, mem := newTestOrchestrator(t, script)

	_, err := orch.Analyze(context.Background(), analyzeRequest("anyone there?"))
	require.ErrorIs(t, err, ErrAllStagesFailed)

	persisted, err := mem.ByConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestEmptyMessageRejected(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newScript(nil))

	_, err := orch.Analyze(context.Background(), analyzeRequest("   "))
	require.ErrorIs(t, err, ErrEmptyMessage)
}

type failingMessages struct{}

func (failingMessages) AppendMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	return 0, errors.New("store down")
}

func (failingMessages) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	return nil, errors.New("store down")
}

func (failingMessages) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	return nil, errors.New("store down")
}

func TestContextLoadFailureIsFatal(t *testing.T) {
	mem := store.NewMemory()
	f := &fakeLLM{reply: newScript(nil).reply}
	client := NewServiceClient(f, ClientConfig{MaxConcurrent: 8}, logger.NewNop())
	loader := NewContextLoader(failingMessages{}, 0)
	orch := NewOrchestrator(loader, NewStages(client), mem, mem, mem, nil,
		OrchestratorConfig{TurnDeadline: time.Second}, logger.NewNop())

	_, err := orch.Analyze(context.Background(), analyzeRequest("hello"))
	require.ErrorIs(t, err, ErrContextLoad)
}

func TestSequenceOrderMatchesFinalizeOrder(t *testing.T) {
	// Turns launched at once take their sequence number and finalize ticket
	// together, so persisted results always land in sequence order.
	script := newScript(nil)
	orch, mem := newTestOrchestrator(t, script)

	const turns = 8
	var wg sync.WaitGroup
	wg.Add(turns)
	for i := 0; i < turns; i++ {
		go func() {
			defer wg.Done()
			_, err := orch.Analyze(context.Background(), analyzeRequest("any news?"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	persisted, err := mem.ByConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, persisted, turns)
	for i, res := range persisted {
		assert.Equal(t, uint64(i+1), res.MessageSequence)
	}
}

func TestResultsFinalizeInArrivalOrder(t *testing.T) {
	// The first message's stages are slow, the second's fast; arrival order
	// must still win. Latency is routed by message body.
	script := newScript(nil)
	mem := store.NewMemory()
	f := &fakeLLM{reply: func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		if strings.Contains(req.Messages[1].Content, "slow") {
			time.Sleep(80 * time.Millisecond)
		}
		return script.reply(ctx, req)
	}}
	client := NewServiceClient(f, ClientConfig{
		StageTimeout:  time.Second,
		MaxAttempts:   1,
		BackoffBase:   time.Millisecond,
		MaxConcurrent: 8,
	}, logger.NewNop())
	loader := NewContextLoader(mem, 0)
	orch := NewOrchestrator(loader, NewStages(client), mem, mem, mem, nil,
		OrchestratorConfig{TurnDeadline: 5 * time.Second}, logger.NewNop())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := orch.Analyze(context.Background(), analyzeRequest("slow question"))
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, err := orch.Analyze(context.Background(), analyzeRequest("fast question"))
		assert.NoError(t, err)
	}()
	wg.Wait()

	persisted, err := mem.ByConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assert.Equal(t, uint64(1), persisted[0].MessageSequence)
	assert.Equal(t, uint64(2), persisted[1].MessageSequence)
}
