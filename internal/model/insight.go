package model

import (
	"time"
)

// InsightKind distinguishes the three aggregation granularities.
type InsightKind string

const (
	InsightMicro     InsightKind = "micro"
	InsightSummary   InsightKind = "summary"
	InsightHighLevel InsightKind = "high_level"
)

// TrendDirection describes the slope of recent sentiment scores.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDeclining TrendDirection = "declining"
)

// SummaryStats is the deterministic rollup computed over a bounded window of
// AnalysisResults for one client.
type SummaryStats struct {
	ResultCount    int                    `json:"result_count"`
	TriageCounts   map[Triage]int         `json:"triage_counts"`
	RiskCounts     map[RiskLevel]int      `json:"risk_counts"`
	SentimentCount map[SentimentLevel]int `json:"sentiment_counts"`
	EventCount     int                    `json:"event_count"`

	// Least-squares slope of sentiment scores ordered by message sequence,
	// and its categorical reading.
	SentimentSlope float64        `json:"sentiment_slope"`
	Trend          TrendDirection `json:"trend"`
}

// Insight is a derived observation at one of three scopes. SourceResultIDs
// cites the AnalysisResults it was computed from: every insight must be
// reproducible from its cited sources.
type Insight struct {
	ID          string      `json:"id"`
	Kind        InsightKind `json:"kind"`
	ClientID    string      `json:"client_id,omitempty"`
	FirmID      string      `json:"firm_id,omitempty"`
	GeneratedAt time.Time   `json:"generated_at"`

	Content string        `json:"content"`
	Stats   *SummaryStats `json:"stats,omitempty"`

	// Sentiment carried by micro insights so the next run can refine it.
	Sentiment SentimentLevel `json:"sentiment,omitempty"`

	SourceResultIDs []string `json:"source_result_ids"`
}
