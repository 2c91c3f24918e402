package model

import (
	"time"
)

// Triage is the primary action decided for an inbound message.
type Triage string

const (
	TriageFlag    Triage = "FLAG"
	TriageIgnore  Triage = "IGNORE"
	TriageRespond Triage = "RESPOND"
)

// Valid reports whether t is a recognized triage action.
func (t Triage) Valid() bool {
	return t == TriageFlag || t == TriageIgnore || t == TriageRespond
}

// RiskLevel is the categorical client-retention risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Valid reports whether l is a recognized risk level.
func (l RiskLevel) Valid() bool {
	return l == RiskLow || l == RiskMedium || l == RiskHigh
}

// SentimentLevel is the categorical message sentiment.
type SentimentLevel string

const (
	SentimentPositive SentimentLevel = "Positive"
	SentimentNeutral  SentimentLevel = "Neutral"
	SentimentNegative SentimentLevel = "Negative"
)

// Valid reports whether l is a recognized sentiment level.
func (l SentimentLevel) Valid() bool {
	return l == SentimentPositive || l == SentimentNeutral || l == SentimentNegative
}

// RiskAssessment is a categorical risk level plus a score in [0,1], higher
// meaning higher risk of the client leaving.
type RiskAssessment struct {
	Level RiskLevel `json:"level"`
	Score float64   `json:"score"`
}

// SentimentAssessment is a categorical sentiment plus a score in [-1,1],
// higher meaning more positive.
type SentimentAssessment struct {
	Level SentimentLevel `json:"level"`
	Score float64        `json:"score"`
}

// EventCandidate is a detected appointment or deadline extracted from
// conversation text. Derived, never user-edited directly.
type EventCandidate struct {
	Description      string    `json:"description"`
	ProposedDateTime time.Time `json:"proposed_datetime"`
	Location         string    `json:"location,omitempty"`
	EventType        string    `json:"event_type,omitempty"`
	Confidence       float64   `json:"confidence"`
}

// Stage names the pipeline stages for error attribution and metrics.
type Stage string

const (
	StageTriage    Stage = "triage"
	StageRisk      Stage = "risk"
	StageSentiment Stage = "sentiment"
	StageEvents    Stage = "events"
	StageResponse  Stage = "response"
	StageMicro     Stage = "micro_insight"
	StageHighLevel Stage = "high_level_insight"
	StageSummarize Stage = "summarize"
	StageOutbound  Stage = "outbound_draft"
)

// ErrorKind classifies an Analysis Service failure.
type ErrorKind string

const (
	ErrorTimeout         ErrorKind = "timeout"
	ErrorRateLimited     ErrorKind = "rate_limited"
	ErrorInvalidResponse ErrorKind = "invalid_response"
	ErrorUnavailable     ErrorKind = "unavailable"
)

// AnalysisResult is the composite output of one pipeline turn. Produced
// exactly once per analyzed inbound message and immutable after creation.
// Partial results are valid: a failed stage leaves its field nil and records
// an entry in StageErrors.
type AnalysisResult struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	ClientID       string `json:"client_id"`
	FirmID         string `json:"firm_id"`

	// Arrival order of the source message within its conversation.
	MessageSequence uint64 `json:"message_sequence"`

	Triage    *Triage              `json:"triage,omitempty"`
	Risk      *RiskAssessment      `json:"risk,omitempty"`
	Sentiment *SentimentAssessment `json:"sentiment,omitempty"`
	Events    []EventCandidate     `json:"events,omitempty"`
	Response  *string              `json:"response,omitempty"`

	StageErrors map[Stage]ErrorKind `json:"stage_errors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
