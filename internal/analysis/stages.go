package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arviso/client-pulse/internal/model"
)

// Stages shapes stage-specific requests to the analysis service and parses
// responses into typed results. Every stage is a pure function of the
// conversation context; structural validation is strict and never coerces an
// out-of-range payload.
type Stages struct {
	client *ServiceClient
}

// NewStages wraps a service client.
func NewStages(client *ServiceClient) *Stages {
	return &Stages{client: client}
}

const triageSystem = `You triage client messages for a law firm. Decide the primary action by strict priority FLAG > IGNORE > RESPOND.
- FLAG: urgent issues: legal/medical advice questions, extreme distress, new injuries, threats to leave, requests to speak to a person.
- IGNORE: only simple conversation enders with no new information ("ok", "thanks") where no reply is needed.
- RESPOND: any other message needing a reply, including mild frustration or status updates.
Return only a JSON object: {"primary_action": "FLAG|IGNORE|RESPOND"}`

// Triage classifies the current message as FLAG, IGNORE, or RESPOND.
func (s *Stages) Triage(ctx context.Context, cc *model.ConversationContext) (model.Triage, error) {
	current := cc.Current()
	raw, err := s.client.Invoke(ctx, model.StageTriage, Request{
		System: triageSystem,
		User:   fmt.Sprintf("Analyze the following message and determine the primary action: %q", current.Body),
	})
	if err != nil {
		return "", err
	}

	var payload struct {
		PrimaryAction string `json:"primary_action"`
	}
	if err := decodeJSON(raw, &payload); err != nil {
		return "", invalid(model.StageTriage, err)
	}
	action := model.Triage(payload.PrimaryAction)
	if !action.Valid() {
		return "", invalid(model.StageTriage, fmt.Errorf("unrecognized triage action %q", payload.PrimaryAction))
	}
	return action, nil
}

const riskSystem = `You assess a law firm client's long-term risk of leaving based on their message.
- High: direct threats to leave, accusations of malpractice, frantic urgency, requests for financial aid, questions about case value, or suicidal ideation.
- Medium: frustration, negative sentiment, or vague dissatisfaction.
- Low: all other positive or neutral messages.
Also give a score between 0.0 and 1.0, higher meaning higher risk, consistent with the level.
Return only a JSON object: {"level": "Low|Medium|High", "score": number}`

// Risk scores client-retention risk for the current message.
func (s *Stages) Risk(ctx context.Context, cc *model.ConversationContext) (*model.RiskAssessment, error) {
	current := cc.Current()
	raw, err := s.client.Invoke(ctx, model.StageRisk, Request{
		System: riskSystem,
		User:   fmt.Sprintf("Message: %q", current.Body),
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Level string   `json:"level"`
		Score *float64 `json:"score"`
	}
	if err := decodeJSON(raw, &payload); err != nil {
		return nil, invalid(model.StageRisk, err)
	}
	level := model.RiskLevel(payload.Level)
	if !level.Valid() {
		return nil, invalid(model.StageRisk, fmt.Errorf("unrecognized risk level %q", payload.Level))
	}
	if payload.Score == nil || *payload.Score < 0 || *payload.Score > 1 {
		return nil, invalid(model.StageRisk, fmt.Errorf("risk score out of range"))
	}
	return &model.RiskAssessment{Level: level, Score: *payload.Score}, nil
}

const sentimentSystem = `You classify the sentiment of a client message as Positive, Neutral, or Negative.
Also give a score between -1.0 and 1.0, higher meaning more positive, reflecting the intensity within the category.
Return only a JSON object: {"level": "Positive|Neutral|Negative", "score": number}`

// Sentiment classifies the current message's sentiment.
func (s *Stages) Sentiment(ctx context.Context, cc *model.ConversationContext) (*model.SentimentAssessment, error) {
	current := cc.Current()
	raw, err := s.client.Invoke(ctx, model.StageSentiment, Request{
		System: sentimentSystem,
		User:   fmt.Sprintf("Message: %q", current.Body),
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Level string   `json:"level"`
		Score *float64 `json:"score"`
	}
	if err := decodeJSON(raw, &payload); err != nil {
		return nil, invalid(model.StageSentiment, err)
	}
	level := model.SentimentLevel(payload.Level)
	if !level.Valid() {
		return nil, invalid(model.StageSentiment, fmt.Errorf("unrecognized sentiment %q", payload.Level))
	}
	if payload.Score == nil || *payload.Score < -1 || *payload.Score > 1 {
		return nil, invalid(model.StageSentiment, fmt.Errorf("sentiment score out of range"))
	}
	return &model.SentimentAssessment{Level: level, Score: *payload.Score}, nil
}

const eventsSystem = `You identify mentions of future events, appointments, or deadlines in a client message.
For each detected event extract a short description, the proposed date and time as RFC 3339, the location and event type if stated, and a confidence between 0.0 and 1.0.
Return only a JSON object: {"events": [{"description": string, "datetime": string, "location": string, "event_type": string, "confidence": number}]}
If no event is mentioned, return {"events": []}.`

// Events extracts candidate calendar events from the current message.
func (s *Stages) Events(ctx context.Context, cc *model.ConversationContext) ([]model.EventCandidate, error) {
	current := cc.Current()
	raw, err := s.client.Invoke(ctx, model.StageEvents, Request{
		System: eventsSystem,
		User:   fmt.Sprintf("Analyze the following message for future events or appointments: %q", current.Body),
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Events []struct {
			Description string   `json:"description"`
			DateTime    string   `json:"datetime"`
			Location    string   `json:"location"`
			EventType   string   `json:"event_type"`
			Confidence  *float64 `json:"confidence"`
		} `json:"events"`
	}
	if err := decodeJSON(raw, &payload); err != nil {
		return nil, invalid(model.StageEvents, err)
	}

	candidates := make([]model.EventCandidate, 0, len(payload.Events))
	for _, ev := range payload.Events {
		when, err := time.Parse(time.RFC3339, ev.DateTime)
		if err != nil {
			return nil, invalid(model.StageEvents, fmt.Errorf("unparseable event datetime %q", ev.DateTime))
		}
		if ev.Confidence == nil || *ev.Confidence < 0 || *ev.Confidence > 1 {
			return nil, invalid(model.StageEvents, fmt.Errorf("event confidence out of range"))
		}
		candidates = append(candidates, model.EventCandidate{
			Description:      ev.Description,
			ProposedDateTime: when,
			Location:         ev.Location,
			EventType:        ev.EventType,
			Confidence:       *ev.Confidence,
		})
	}
	return candidates, nil
}

const respondSystem = `You are a friendly, empathetic assistant for a law firm writing a short, human-sounding text message reply to a client.
Match the client's tone and sentiment: mirror their style, whether formal, casual, frustrated, or happy. The reply must suit the urgency and seriousness of their message; for serious matters, never use casual phrases.
Generate only the reply text, without quotes or extra formatting.`

// Respond drafts a contextual reply to the current message. Only invoked when
// triage decided RESPOND.
func (s *Stages) Respond(ctx context.Context, cc *model.ConversationContext) (string, error) {
	raw, err := s.client.Invoke(ctx, model.StageResponse, Request{
		System:      respondSystem,
		User:        fmt.Sprintf("Conversation so far:\n%s\n\nWrite a reply to the client's last message.", formatHistory(cc.Messages)),
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	reply := strings.Trim(strings.TrimSpace(raw), `"'`)
	if reply == "" {
		return "", invalid(model.StageResponse, fmt.Errorf("empty reply"))
	}
	return reply, nil
}

var draftSystems = map[model.DraftKind]string{
	model.DraftCheckIn: `You draft proactive outbound messages for a law firm.
Silently assess the client's overall mood, tone, and seriousness from the history, then craft one empathetic, concise check-in message (not a reply) that acknowledges context and stated preferences. Incorporate the provided timing subtly without sounding robotic. Output only the final message text.`,
	model.DraftFollowUp: `You draft a follow-up message for a law firm client based on an earlier outbound message that received no reply.
Keep it professional, brief, and contextually relevant. Do not be pushy. Output only the final message text.`,
	model.DraftAppointmentReminder: `You draft an appointment reminder for a law firm client.
Create a professional, helpful reminder that includes the relevant details and is clear about what the client needs to do or bring. Output only the final message text.`,
	model.DraftCaseUpdate: `You draft a case update message for a law firm client.
Be clear, professional, and reassuring; avoid legal jargon. If action is required from the client, state plainly what and by when. Output only the final message text.`,
}

// Draft generates a proactive outbound message body. It reuses the response
// generation contract in proactive mode: same timeout, retry, and
// classification policy.
func (s *Stages) Draft(ctx context.Context, kind model.DraftKind, information string, history []model.Message) (string, error) {
	system, ok := draftSystems[kind]
	if !ok {
		return "", invalid(model.StageOutbound, fmt.Errorf("unknown draft kind %q", kind))
	}

	payload := map[string]any{
		"objective_and_timing": information,
		"message_history":      historyLines(history),
	}
	userJSON, err := json.Marshal(payload)
	if err != nil {
		return "", invalid(model.StageOutbound, err)
	}

	raw, err := s.client.Invoke(ctx, model.StageOutbound, Request{
		System:      system,
		User:        fmt.Sprintf("Produce exactly one outbound message (text only, not a reply) from this JSON:\n%s", userJSON),
		Model:       s.client.cfg.DraftingModel,
		Temperature: 0.5,
	})
	if err != nil {
		return "", err
	}
	body := strings.Trim(strings.TrimSpace(raw), `"'`)
	if body == "" {
		return "", invalid(model.StageOutbound, fmt.Errorf("empty draft body"))
	}
	return body, nil
}

const microSystem = `You are a micro insight engine. Generate exactly one sentence a case manager can read to instantly understand what is going on with the client right now.
Embed the client's current sentiment (Positive, Neutral, or Negative) naturally in the sentence. Focus on tone, preferences, and the most relevant actionable cue. Avoid repeating the previous insight verbatim; refine or extend it if useful.
Return one sentence only, no labels.`

// MicroInsight compresses the latest analysis into one sentence.
func (s *Stages) MicroInsight(ctx context.Context, profile model.ClientProfile, latest *model.AnalysisResult, previous string, sentiment model.SentimentLevel) (string, error) {
	payload := map[string]any{
		"client_profile":    profile,
		"previous_insight":  previous,
		"latest_analysis":   latest,
		"current_sentiment": sentiment,
	}
	userJSON, err := json.Marshal(payload)
	if err != nil {
		return "", invalid(model.StageMicro, err)
	}

	raw, err := s.client.Invoke(ctx, model.StageMicro, Request{
		System:      microSystem,
		User:        fmt.Sprintf("Generate a single-sentence micro insight from this JSON:\n%s", userJSON),
		Temperature: 0.4,
	})
	if err != nil {
		return "", err
	}

	insight := strings.TrimSpace(raw)
	if insight == "" {
		return "", invalid(model.StageMicro, fmt.Errorf("empty insight"))
	}
	if !strings.ContainsAny(insight[len(insight)-1:], ".!?") {
		insight += "."
	}
	if !strings.Contains(insight, string(sentiment)) {
		insight = fmt.Sprintf("Sentiment: %s. %s", sentiment, insight)
	}
	return insight, nil
}

const highLevelSystem = `You are a business analyst for law firm leadership. You receive pre-aggregated per-client summary statistics; interpret them, do not restate them.
Write a concise executive summary, then for each significant finding a short section covering what the data shows, why it matters for the business, and one concrete recommendation. Close with a prioritized list of action items.`

// HighLevelInsight produces a firm-wide narrative from per-client summaries.
// It never receives raw messages: only already-computed aggregates.
func (s *Stages) HighLevelInsight(ctx context.Context, firmID, period string, summaries []model.Insight) (string, error) {
	payload := map[string]any{
		"firm_id":          firmID,
		"report_period":    period,
		"client_summaries": summaries,
	}
	userJSON, err := json.Marshal(payload)
	if err != nil {
		return "", invalid(model.StageHighLevel, err)
	}

	raw, err := s.client.Invoke(ctx, model.StageHighLevel, Request{
		System:      highLevelSystem,
		User:        fmt.Sprintf("Analyze this firm-wide data:\n%s", userJSON),
		Temperature: 0.3,
		MaxTokens:   4000,
	})
	if err != nil {
		return "", err
	}
	report := strings.TrimSpace(raw)
	if report == "" {
		return "", invalid(model.StageHighLevel, fmt.Errorf("empty report"))
	}
	return report, nil
}

const summarizeSystem = `You are an expert in conversation analysis. Read a chat conversation and generate a concise, structured summary: how the conversation started, the latest point discussed, the client's general disposition, and the number of key topics covered. No extra commentary.`

// Summarize produces a structured summary of a conversation window.
func (s *Stages) Summarize(ctx context.Context, messages []model.Message) (string, error) {
	raw, err := s.client.Invoke(ctx, model.StageSummarize, Request{
		System: summarizeSystem,
		User:   fmt.Sprintf("--- CHAT LOG ---\n%s\n--- END CHAT LOG ---", formatHistory(messages)),
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		return "", invalid(model.StageSummarize, fmt.Errorf("empty summary"))
	}
	return summary, nil
}

// formatHistory renders messages as "[timestamp] sender: body" lines.
func formatHistory(messages []model.Message) string {
	lines := make([]string, len(messages))
	for i, msg := range messages {
		lines[i] = fmt.Sprintf("[%s] %s: %s", msg.Timestamp.Format(time.RFC3339), msg.Sender, msg.Body)
	}
	return strings.Join(lines, "\n")
}

func historyLines(messages []model.Message) []map[string]string {
	out := make([]map[string]string, len(messages))
	for i, msg := range messages {
		out[i] = map[string]string{
			"timestamp": msg.Timestamp.Format(time.RFC3339),
			"sender":    string(msg.Sender),
			"content":   msg.Body,
		}
	}
	return out
}

// decodeJSON parses a model response that may wrap its JSON in code fences or
// surrounding prose.
func decodeJSON(raw string, v any) error {
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(trimmed[start:end+1]), v)
}

func invalid(stage model.Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: model.ErrorInvalidResponse, Err: err}
}
