package model

import (
	"time"
)

// DraftKind is the category of proactive outbound message.
type DraftKind string

const (
	DraftCheckIn             DraftKind = "check_in"
	DraftAppointmentReminder DraftKind = "appointment_reminder"
	DraftCaseUpdate          DraftKind = "case_update"
	DraftFollowUp            DraftKind = "follow_up"
)

// DraftStatus is the lifecycle state of an outbound draft. Transitions are
// Pending→Sent or Pending→Cancelled only; a draft never returns to Pending.
type DraftStatus string

const (
	DraftPending   DraftStatus = "pending"
	DraftSent      DraftStatus = "sent"
	DraftCancelled DraftStatus = "cancelled"
)

// OutboundDraft is a scheduled, not-yet-sent candidate message created by the
// scheduler. Delivery is owned by an external mechanism, which reports the
// terminal status back.
type OutboundDraft struct {
	ID       string      `json:"id"`
	ClientID string      `json:"client_id"`
	FirmID   string      `json:"firm_id"`
	Kind     DraftKind   `json:"kind"`
	Body     string      `json:"body"`
	Status   DraftStatus `json:"status"`

	ScheduledFor time.Time  `json:"scheduled_for"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`

	// Weak audit references back to the analysis that motivated the draft.
	SourceResultIDs []string `json:"source_result_ids,omitempty"`
}

// CaseStatusSignal is the opaque external event that triggers a CaseUpdate
// draft. The platform does not compute case status itself.
type CaseStatusSignal struct {
	ClientID   string    `json:"client_id"`
	FirmID     string    `json:"firm_id"`
	CaseID     string    `json:"case_id"`
	UpdateType string    `json:"update_type"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
