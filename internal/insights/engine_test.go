package insights

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arviso/client-pulse/internal/analysis"
	"github.com/arviso/client-pulse/internal/llm"
	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/internal/store"
	"github.com/arviso/client-pulse/pkg/logger"
)

func triagePtr(t model.Triage) *model.Triage { return &t }

func resultWith(id string, seq uint64, triage *model.Triage, risk *model.RiskAssessment, sentiment *model.SentimentAssessment, events int) model.AnalysisResult {
	res := model.AnalysisResult{
		ID:              id,
		ConversationID:  "conv-1",
		ClientID:        "client-1",
		FirmID:          "firm-1",
		MessageSequence: seq,
		Triage:          triage,
		Risk:            risk,
		Sentiment:       sentiment,
		CreatedAt:       time.Now(),
	}
	for i := 0; i < events; i++ {
		res.Events = append(res.Events, model.EventCandidate{Description: "event"})
	}
	return res
}

func TestAggregateSkipsAbsentFields(t *testing.T) {
	window := []model.AnalysisResult{
		resultWith("r1", 1, triagePtr(model.TriageRespond), &model.RiskAssessment{Level: model.RiskLow, Score: 0.1},
			&model.SentimentAssessment{Level: model.SentimentNeutral, Score: 0.0}, 0),
		// Partial result: risk and sentiment stages failed.
		resultWith("r2", 2, triagePtr(model.TriageFlag), nil, nil, 1),
		resultWith("r3", 3, nil, &model.RiskAssessment{Level: model.RiskHigh, Score: 0.9},
			&model.SentimentAssessment{Level: model.SentimentNegative, Score: -0.8}, 0),
	}

	stats := Aggregate(window)

	assert.Equal(t, 3, stats.ResultCount)
	assert.Equal(t, 1, stats.TriageCounts[model.TriageRespond])
	assert.Equal(t, 1, stats.TriageCounts[model.TriageFlag])
	assert.Equal(t, 1, stats.RiskCounts[model.RiskLow])
	assert.Equal(t, 1, stats.RiskCounts[model.RiskHigh])
	assert.Equal(t, 1, stats.SentimentCount[model.SentimentNeutral])
	assert.Equal(t, 1, stats.SentimentCount[model.SentimentNegative])
	assert.Equal(t, 1, stats.EventCount)
}

func TestAggregateIsDeterministic(t *testing.T) {
	window := []model.AnalysisResult{
		resultWith("r1", 1, triagePtr(model.TriageRespond), nil,
			&model.SentimentAssessment{Level: model.SentimentPositive, Score: 0.4}, 0),
		resultWith("r2", 2, triagePtr(model.TriageIgnore), nil,
			&model.SentimentAssessment{Level: model.SentimentPositive, Score: 0.7}, 2),
	}

	first := Aggregate(window)
	second := Aggregate(window)

	require.Equal(t, first, second)
	assert.Equal(t, RenderSummary(first), RenderSummary(second))
}

func TestSentimentTrend(t *testing.T) {
	improving := []model.AnalysisResult{
		resultWith("r1", 1, nil, nil, &model.SentimentAssessment{Level: model.SentimentNegative, Score: -0.5}, 0),
		resultWith("r2", 2, nil, nil, &model.SentimentAssessment{Level: model.SentimentNeutral, Score: 0.0}, 0),
		resultWith("r3", 3, nil, nil, &model.SentimentAssessment{Level: model.SentimentPositive, Score: 0.5}, 0),
	}
	assert.Equal(t, model.TrendImproving, Aggregate(improving).Trend)

	declining := []model.AnalysisResult{
		resultWith("r1", 1, nil, nil, &model.SentimentAssessment{Level: model.SentimentPositive, Score: 0.5}, 0),
		resultWith("r2", 2, nil, nil, &model.SentimentAssessment{Level: model.SentimentNegative, Score: -0.5}, 0),
	}
	assert.Equal(t, model.TrendDeclining, Aggregate(declining).Trend)

	flat := []model.AnalysisResult{
		resultWith("r1", 1, nil, nil, &model.SentimentAssessment{Level: model.SentimentNeutral, Score: 0.1}, 0),
		resultWith("r2", 2, nil, nil, &model.SentimentAssessment{Level: model.SentimentNeutral, Score: 0.1}, 0),
	}
	assert.Equal(t, model.TrendStable, Aggregate(flat).Trend)

	// A single reading gives no slope.
	single := []model.AnalysisResult{
		resultWith("r1", 1, nil, nil, &model.SentimentAssessment{Level: model.SentimentPositive, Score: 0.9}, 0),
	}
	assert.Equal(t, model.TrendStable, Aggregate(single).Trend)
}

func TestSummaryInsightIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertProfile(ctx, model.ClientProfile{ClientID: "client-1", FirmID: "firm-1"}, "conv-1"))

	r1 := resultWith("r1", 1, triagePtr(model.TriageRespond), &model.RiskAssessment{Level: model.RiskLow, Score: 0.2},
		&model.SentimentAssessment{Level: model.SentimentNeutral, Score: 0.0}, 0)
	r2 := resultWith("r2", 2, triagePtr(model.TriageRespond), nil,
		&model.SentimentAssessment{Level: model.SentimentPositive, Score: 0.3}, 1)
	require.NoError(t, mem.AppendResult(ctx, &r1))
	require.NoError(t, mem.AppendResult(ctx, &r2))

	engine := NewEngine(nil, mem, mem, mem, Config{}, logger.NewNop())

	first, err := engine.Summary(ctx, "client-1")
	require.NoError(t, err)
	second, err := engine.Summary(ctx, "client-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Stats, second.Stats)
	assert.Equal(t, first.SourceResultIDs, second.SourceResultIDs)
	assert.Equal(t, []string{"r1", "r2"}, first.SourceResultIDs)
}

func TestSummaryRequiresHistory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertProfile(ctx, model.ClientProfile{ClientID: "client-1", FirmID: "firm-1"}, "conv-1"))

	engine := NewEngine(nil, mem, mem, mem, Config{}, logger.NewNop())

	_, err := engine.Summary(ctx, "client-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

type downLLM struct{}

func (downLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, llm.ErrUnavailable
}
func (downLLM) Name() string     { return "down" }
func (downLLM) Models() []string { return nil }

func TestMicroInsightFallsBackWhenServiceDown(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertProfile(ctx, model.ClientProfile{ClientID: "client-1", FirmID: "firm-1"}, "conv-1"))

	res := resultWith("r1", 1, triagePtr(model.TriageFlag), nil,
		&model.SentimentAssessment{Level: model.SentimentNegative, Score: -0.7}, 0)
	require.NoError(t, mem.AppendResult(ctx, &res))

	client := analysis.NewServiceClient(downLLM{}, analysis.ClientConfig{
		StageTimeout:  100 * time.Millisecond,
		MaxAttempts:   1,
		BackoffBase:   time.Millisecond,
		MaxConcurrent: 2,
	}, logger.NewNop())
	engine := NewEngine(analysis.NewStages(client), mem, mem, mem, Config{}, logger.NewNop())

	in, err := engine.Micro(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "Sentiment: Negative. Recent client interaction requires review.", in.Content)
	assert.Equal(t, model.SentimentNegative, in.Sentiment)
	assert.Equal(t, []string{"r1"}, in.SourceResultIDs)
}

func TestHighLevelUsesOnlySummaries(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertProfile(ctx, model.ClientProfile{ClientID: "client-1", FirmID: "firm-1"}, "conv-1"))

	engine := NewEngine(nil, mem, mem, mem, Config{}, logger.NewNop())

	// No summaries saved yet: the firm report has nothing to aggregate even
	// though raw results exist.
	r1 := resultWith("r1", 1, triagePtr(model.TriageRespond), nil, nil, 0)
	require.NoError(t, mem.AppendResult(ctx, &r1))

	_, err := engine.HighLevel(ctx, "firm-1", "weekly")
	require.ErrorIs(t, err, store.ErrNotFound)
}
