// Package model defines data structures for the engagement platform.
package model

import (
	"time"
)

// Sender identifies which side of the conversation authored a message.
type Sender string

const (
	SenderClient Sender = "client"
	SenderFirm   Sender = "firm"
)

// Message is a single turn in a client-firm conversation. Messages are
// immutable once created and append-only within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Body           string    `json:"body"`
	Timestamp      time.Time `json:"timestamp"`

	// Stream sequence, populated when the message is read back from the
	// append-only store.
	Sequence uint64 `json:"sequence,omitempty"`
}

// ContactPreferences captures how and when a client wants to be contacted.
type ContactPreferences struct {
	Channel       string `json:"channel,omitempty"`
	PreferredDay  string `json:"preferred_day,omitempty"`
	PreferredTime string `json:"preferred_time,omitempty"`
}

// ClientProfile holds client metadata used to shape analysis and outbound
// drafting.
type ClientProfile struct {
	ClientID    string             `json:"client_id"`
	FirmID      string             `json:"firm_id"`
	Name        string             `json:"name,omitempty"`
	Timezone    string             `json:"timezone,omitempty"`
	CaseType    string             `json:"case_type,omitempty"`
	CaseStatus  string             `json:"case_status,omitempty"`
	Preferences ContactPreferences `json:"preferences"`
}

// ConversationContext is the bounded message window plus client profile that
// every analysis stage receives. It is rebuilt per analysis request and never
// persisted as its own entity.
type ConversationContext struct {
	ConversationID string        `json:"conversation_id"`
	Profile        ClientProfile `json:"profile"`
	Messages       []Message     `json:"messages"`
}

// Current returns the most recent message in the window.
func (c *ConversationContext) Current() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// AnalyzeRequest is the inbound request to run the analysis pipeline for a
// new message.
type AnalyzeRequest struct {
	ConversationID string        `json:"conversation_id"`
	Message        Message       `json:"message"`
	Profile        ClientProfile `json:"profile"`
}

// SummarizeRequest asks for a structured summary of a conversation window.
type SummarizeRequest struct {
	Messages []Message `json:"messages"`
}

// SummarizeResponse carries the generated summary.
type SummarizeResponse struct {
	Summary string `json:"summary"`
}
