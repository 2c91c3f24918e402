// Package insights derives observations from persisted analysis history at
// three granularities: micro (one client, one sentence), summary (one
// client's recent window), and high-level (firm-wide). Every job is
// idempotent and consumes only already-computed AnalysisResults, never raw
// messages.
package insights

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arviso/client-pulse/internal/analysis"
	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/internal/store"
	"github.com/arviso/client-pulse/pkg/logger"
	"github.com/arviso/client-pulse/pkg/metrics"
)

// Config tunes the summary aggregation window.
type Config struct {
	WindowSize int
	WindowAge  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.WindowSize <= 0 {
		out.WindowSize = 50
	}
	if out.WindowAge <= 0 {
		out.WindowAge = 7 * 24 * time.Hour
	}
	return out
}

// Engine runs the three aggregation jobs.
type Engine struct {
	stages   *analysis.Stages
	results  store.ResultStore
	insights store.InsightStore
	profiles store.ProfileStore
	cfg      Config
	logger   *logger.Logger

	now func() time.Time
}

// NewEngine wires the insights engine.
func NewEngine(stages *analysis.Stages, results store.ResultStore, insights store.InsightStore, profiles store.ProfileStore, cfg Config, log *logger.Logger) *Engine {
	return &Engine{
		stages:   stages,
		results:  results,
		insights: insights,
		profiles: profiles,
		cfg:      cfg.withDefaults(),
		logger:   log,
		now:      time.Now,
	}
}

// Micro compresses a client's most recent AnalysisResult into one sentence,
// refining the previous micro insight when one exists. The analysis service
// may fail; the job then falls back to a deterministic sentence rather than
// failing the aggregation.
func (e *Engine) Micro(ctx context.Context, clientID string) (*model.Insight, error) {
	profile, _, err := e.profiles.GetProfile(ctx, clientID)
	if err != nil {
		return nil, err
	}
	latest, err := e.results.LatestResult(ctx, clientID)
	if err != nil {
		return nil, err
	}

	var previous string
	sentiment := model.SentimentNeutral
	if prev, err := e.insights.LatestInsight(ctx, clientID, model.InsightMicro); err == nil {
		previous = prev.Content
		if prev.Sentiment != "" {
			sentiment = prev.Sentiment
		}
	}
	// A failed sentiment stage leaves the field absent; keep the previous
	// reading rather than fabricating one.
	if latest.Sentiment != nil {
		sentiment = latest.Sentiment.Level
	}

	content, err := e.stages.MicroInsight(ctx, profile, latest, previous, sentiment)
	if err != nil {
		e.logger.Warn("micro insight generation failed, using fallback",
			zap.String("client_id", clientID), zap.Error(err))
		content = fmt.Sprintf("Sentiment: %s. Recent client interaction requires review.", sentiment)
	}

	in := &model.Insight{
		ID:              uuid.Must(uuid.NewV7()).String(),
		Kind:            model.InsightMicro,
		ClientID:        clientID,
		FirmID:          profile.FirmID,
		GeneratedAt:     e.now(),
		Content:         content,
		Sentiment:       sentiment,
		SourceResultIDs: []string{latest.ID},
	}
	if err := e.insights.SaveInsight(ctx, in); err != nil {
		return nil, err
	}
	metrics.InsightsTotal.WithLabelValues(string(model.InsightMicro)).Inc()
	return in, nil
}

// Summary computes the deterministic rollup over a client's recent window.
// Pure aggregation: running it twice over the same result set yields
// identical stats, content, and sources.
func (e *Engine) Summary(ctx context.Context, clientID string) (*model.Insight, error) {
	profile, _, err := e.profiles.GetProfile(ctx, clientID)
	if err != nil {
		return nil, err
	}
	since := e.now().Add(-e.cfg.WindowAge)
	window, err := e.results.RecentResults(ctx, clientID, e.cfg.WindowSize, since)
	if err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return nil, store.ErrNotFound
	}

	stats := Aggregate(window)

	in := &model.Insight{
		ID:              uuid.Must(uuid.NewV7()).String(),
		Kind:            model.InsightSummary,
		ClientID:        clientID,
		FirmID:          profile.FirmID,
		GeneratedAt:     e.now(),
		Content:         RenderSummary(stats),
		Stats:           &stats,
		SourceResultIDs: sourceIDs(window),
	}
	if err := e.insights.SaveInsight(ctx, in); err != nil {
		return nil, err
	}
	metrics.InsightsTotal.WithLabelValues(string(model.InsightSummary)).Inc()
	return in, nil
}

// HighLevel produces the firm-wide narrative for a reporting period. It reads
// only the latest per-client Summaries, never raw messages or results,
// keeping cost bounded and traceability intact.
func (e *Engine) HighLevel(ctx context.Context, firmID, period string) (*model.Insight, error) {
	summaries, err := e.insights.LatestSummaries(ctx, firmID)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, store.ErrNotFound
	}

	content, err := e.stages.HighLevelInsight(ctx, firmID, period, summaries)
	if err != nil {
		return nil, err
	}

	var sources []string
	for _, s := range summaries {
		sources = append(sources, s.SourceResultIDs...)
	}
	sort.Strings(sources)

	in := &model.Insight{
		ID:              uuid.Must(uuid.NewV7()).String(),
		Kind:            model.InsightHighLevel,
		FirmID:          firmID,
		GeneratedAt:     e.now(),
		Content:         content,
		SourceResultIDs: sources,
	}
	if err := e.insights.SaveInsight(ctx, in); err != nil {
		return nil, err
	}
	metrics.InsightsTotal.WithLabelValues(string(model.InsightHighLevel)).Inc()
	return in, nil
}

// RunSummaries regenerates the summary for every known client. Used by the
// periodic cadence job; errors on individual clients are logged and skipped.
func (e *Engine) RunSummaries(ctx context.Context) {
	firms, err := e.profiles.ListFirms(ctx)
	if err != nil {
		e.logger.Error("failed to list firms for summary cadence", zap.Error(err))
		return
	}
	for _, firmID := range firms {
		clients, err := e.profiles.ListByFirm(ctx, firmID)
		if err != nil {
			e.logger.Error("failed to list clients", zap.String("firm_id", firmID), zap.Error(err))
			continue
		}
		for _, profile := range clients {
			if _, err := e.Summary(ctx, profile.ClientID); err != nil && err != store.ErrNotFound {
				e.logger.Warn("summary generation failed",
					zap.String("client_id", profile.ClientID), zap.Error(err))
			}
		}
	}
}

// Start runs the summary cadence until the context is cancelled.
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunSummaries(ctx)
		}
	}
}

// Aggregate computes summary statistics over a result window. Absent fields
// on partial results are skipped, never treated as failures.
func Aggregate(window []model.AnalysisResult) model.SummaryStats {
	stats := model.SummaryStats{
		ResultCount:    len(window),
		TriageCounts:   make(map[model.Triage]int),
		RiskCounts:     make(map[model.RiskLevel]int),
		SentimentCount: make(map[model.SentimentLevel]int),
	}

	var xs, ys []float64
	for i, res := range window {
		if res.Triage != nil {
			stats.TriageCounts[*res.Triage]++
		}
		if res.Risk != nil {
			stats.RiskCounts[res.Risk.Level]++
		}
		if res.Sentiment != nil {
			stats.SentimentCount[res.Sentiment.Level]++
			xs = append(xs, float64(i))
			ys = append(ys, res.Sentiment.Score)
		}
		stats.EventCount += len(res.Events)
	}

	stats.SentimentSlope = slope(xs, ys)
	stats.Trend = TrendOf(stats.SentimentSlope)
	return stats
}

// TrendOf maps a sentiment slope onto its categorical reading.
func TrendOf(s float64) model.TrendDirection {
	switch {
	case s > 0.05:
		return model.TrendImproving
	case s < -0.05:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

// slope is the least-squares slope of ys over xs; zero when under two points.
func slope(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// RenderSummary renders stats as a stable dashboard line.
func RenderSummary(stats model.SummaryStats) string {
	return fmt.Sprintf(
		"%d results: triage flag=%d ignore=%d respond=%d; risk low=%d medium=%d high=%d; sentiment positive=%d neutral=%d negative=%d; events=%d; trend=%s",
		stats.ResultCount,
		stats.TriageCounts[model.TriageFlag],
		stats.TriageCounts[model.TriageIgnore],
		stats.TriageCounts[model.TriageRespond],
		stats.RiskCounts[model.RiskLow],
		stats.RiskCounts[model.RiskMedium],
		stats.RiskCounts[model.RiskHigh],
		stats.SentimentCount[model.SentimentPositive],
		stats.SentimentCount[model.SentimentNeutral],
		stats.SentimentCount[model.SentimentNegative],
		stats.EventCount,
		stats.Trend,
	)
}

func sourceIDs(window []model.AnalysisResult) []string {
	ids := make([]string, len(window))
	for i, res := range window {
		ids[i] = res.ID
	}
	return ids
}
