package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arviso/client-pulse/internal/llm"
	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/pkg/logger"
)

func newTestStages(reply func(ctx context.Context, req *llm.CompletionRequest) (string, error)) (*Stages, *fakeLLM) {
	f := &fakeLLM{reply: reply}
	client := NewServiceClient(f, ClientConfig{
		StageTimeout:  100 * time.Millisecond,
		MaxAttempts:   1,
		BackoffBase:   time.Millisecond,
		MaxConcurrent: 4,
	}, logger.NewNop())
	return NewStages(client), f
}

func fixedReply(content string) func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	return func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		return content, nil
	}
}

func testContext(body string) *model.ConversationContext {
	return &model.ConversationContext{
		ConversationID: "conv-1",
		Profile:        model.ClientProfile{ClientID: "client-1", FirmID: "firm-1"},
		Messages: []model.Message{
			{Sender: model.SenderClient, Body: body, Timestamp: time.Now()},
		},
	}
}

func requireInvalid(t *testing.T, err error, stage model.Stage) {
	t.Helper()
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, stage, stageErr.Stage)
	assert.Equal(t, model.ErrorInvalidResponse, stageErr.Kind)
}

func TestTriageParsesFencedJSON(t *testing.T) {
	stages, _ := newTestStages(fixedReply("```json\n{\"primary_action\": \"FLAG\"}\n```"))

	action, err := stages.Triage(context.Background(), testContext("I want to speak to a person now"))
	require.NoError(t, err)
	assert.Equal(t, model.TriageFlag, action)
}

func TestTriageParsesProseWrappedJSON(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`Here is the result: {"primary_action": "RESPOND"} as requested.`))

	action, err := stages.Triage(context.Background(), testContext("any update on my case?"))
	require.NoError(t, err)
	assert.Equal(t, model.TriageRespond, action)
}

func TestTriageRejectsUnknownAction(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`{"primary_action": "ESCALATE"}`))

	_, err := stages.Triage(context.Background(), testContext("hello"))
	requireInvalid(t, err, model.StageTriage)
}

func TestRiskRejectsOutOfRangeScore(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`{"level": "High", "score": 1.5}`))

	_, err := stages.Risk(context.Background(), testContext("I'm hiring another lawyer"))
	requireInvalid(t, err, model.StageRisk)
}

func TestRiskRejectsMissingScore(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`{"level": "Low"}`))

	_, err := stages.Risk(context.Background(), testContext("thanks for the update"))
	requireInvalid(t, err, model.StageRisk)
}

func TestRiskParsesAssessment(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`{"level": "Medium", "score": 0.55}`))

	risk, err := stages.Risk(context.Background(), testContext("this is taking forever"))
	require.NoError(t, err)
	assert.Equal(t, model.RiskMedium, risk.Level)
	assert.InDelta(t, 0.55, risk.Score, 1e-9)
}

func TestSentimentAcceptsNegativeScore(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`{"level": "Negative", "score": -0.6}`))

	sentiment, err := stages.Sentiment(context.Background(), testContext("I'm really frustrated"))
	require.NoError(t, err)
	assert.Equal(t, model.SentimentNegative, sentiment.Level)
	assert.InDelta(t, -0.6, sentiment.Score, 1e-9)
}

func TestSentimentRejectsOutOfRangeScore(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`{"level": "Negative", "score": -1.5}`))

	_, err := stages.Sentiment(context.Background(), testContext("awful"))
	requireInvalid(t, err, model.StageSentiment)
}

func TestEventsParsesCandidates(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`{"events": [{"description": "deposition", "datetime": "2026-09-10T14:00:00Z", "location": "downtown office", "event_type": "deposition", "confidence": 0.9}]}`))

	events, err := stages.Events(context.Background(), testContext("my deposition is Sep 10 at 2pm"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "deposition", events[0].Description)
	assert.Equal(t, "downtown office", events[0].Location)
	assert.Equal(t, time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC), events[0].ProposedDateTime)
	assert.InDelta(t, 0.9, events[0].Confidence, 1e-9)
}

func TestEventsRejectsUnparseableDatetime(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`{"events": [{"description": "x", "datetime": "next Tuesday", "confidence": 0.5}]}`))

	_, err := stages.Events(context.Background(), testContext("see you next tuesday"))
	requireInvalid(t, err, model.StageEvents)
}

func TestEventsAllowsEmptyList(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`{"events": []}`))

	events, err := stages.Events(context.Background(), testContext("ok thanks"))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRespondTrimsQuotes(t *testing.T) {
	stages, _ := newTestStages(fixedReply(`"We'll check on that and get back to you today."`))

	reply, err := stages.Respond(context.Background(), testContext("any news?"))
	require.NoError(t, err)
	assert.Equal(t, "We'll check on that and get back to you today.", reply)
}

func TestMicroInsightNormalizesSentence(t *testing.T) {
	stages, _ := newTestStages(fixedReply("Client is anxious about the upcoming hearing"))

	out, err := stages.MicroInsight(context.Background(), model.ClientProfile{ClientID: "client-1"},
		&model.AnalysisResult{ID: "res-1"}, "", model.SentimentNegative)
	require.NoError(t, err)
	assert.Equal(t, "Sentiment: Negative. Client is anxious about the upcoming hearing.", out)
}

func TestMicroInsightKeepsEmbeddedSentiment(t *testing.T) {
	stages, _ := newTestStages(fixedReply("Client remains Positive and engaged after the settlement news."))

	out, err := stages.MicroInsight(context.Background(), model.ClientProfile{ClientID: "client-1"},
		&model.AnalysisResult{ID: "res-1"}, "", model.SentimentPositive)
	require.NoError(t, err)
	assert.Equal(t, "Client remains Positive and engaged after the settlement news.", out)
}

func TestDraftUsesDraftingModel(t *testing.T) {
	var mu sync.Mutex
	var models []string
	f := &fakeLLM{reply: func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		mu.Lock()
		models = append(models, req.Model)
		mu.Unlock()
		return `{"primary_action": "RESPOND"}`, nil
	}}
	client := NewServiceClient(f, ClientConfig{
		Model:         "base-model",
		DraftingModel: "draft-model",
		StageTimeout:  100 * time.Millisecond,
		MaxAttempts:   1,
		BackoffBase:   time.Millisecond,
		MaxConcurrent: 4,
	}, logger.NewNop())
	stages := NewStages(client)

	_, err := stages.Draft(context.Background(), model.DraftCheckIn, "quiet for a week", nil)
	require.NoError(t, err)
	_, err = stages.Triage(context.Background(), testContext("thanks"))
	require.NoError(t, err)

	assert.Equal(t, []string{"draft-model", "base-model"}, models)
}

func TestDraftRejectsUnknownKind(t *testing.T) {
	stages, f := newTestStages(fixedReply("should not be called"))

	_, err := stages.Draft(context.Background(), model.DraftKind("nudge"), "info", nil)
	requireInvalid(t, err, model.StageOutbound)
	assert.Zero(t, f.callCount())
}
