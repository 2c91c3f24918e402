// Package outbound decides when the platform should reach out to a client
// and drafts the message. Policy is explicit rule evaluation over stored
// state; the analysis service only writes the body text. Drafts are never
// delivered here, an external channel owns sending and reports the terminal
// status back.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arviso/client-pulse/internal/analysis"
	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/internal/store"
	"github.com/arviso/client-pulse/pkg/logger"
	"github.com/arviso/client-pulse/pkg/metrics"
)

const historyWindow = 10

// Config tunes the cadence rules.
type Config struct {
	// CheckInSilence is how long a conversation must be quiet before a
	// check-in draft is considered.
	CheckInSilence time.Duration

	// FollowUpSilence is how long a sent check-in may go unanswered before
	// a follow-up draft is considered.
	FollowUpSilence time.Duration

	// ReminderLeadTime is how far ahead of a detected appointment the
	// reminder is scheduled.
	ReminderLeadTime time.Duration

	Tick time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CheckInSilence <= 0 {
		out.CheckInSilence = 72 * time.Hour
	}
	if out.FollowUpSilence <= 0 {
		out.FollowUpSilence = 72 * time.Hour
	}
	if out.ReminderLeadTime <= 0 {
		out.ReminderLeadTime = 24 * time.Hour
	}
	if out.Tick <= 0 {
		out.Tick = 15 * time.Minute
	}
	return out
}

// Scheduler evaluates outbound policy and creates drafts.
type Scheduler struct {
	stages   *analysis.Stages
	drafts   store.DraftStore
	messages store.MessageStore
	profiles store.ProfileStore
	cfg      Config
	logger   *logger.Logger

	now func() time.Time
}

// NewScheduler wires the outbound scheduler.
func NewScheduler(stages *analysis.Stages, drafts store.DraftStore, messages store.MessageStore, profiles store.ProfileStore, cfg Config, log *logger.Logger) *Scheduler {
	return &Scheduler{
		stages:   stages,
		drafts:   drafts,
		messages: messages,
		profiles: profiles,
		cfg:      cfg.withDefaults(),
		logger:   log,
		now:      time.Now,
	}
}

// HandleAnalysis reacts to a completed analysis turn: any detected event with
// a concrete time becomes an appointment reminder scheduled lead-time before
// it. Candidates whose reminder slot is already in the past are dropped.
func (s *Scheduler) HandleAnalysis(ctx context.Context, res *model.AnalysisResult) error {
	for _, ev := range res.Events {
		if ev.ProposedDateTime.IsZero() {
			continue
		}
		scheduledFor := ev.ProposedDateTime.Add(-s.cfg.ReminderLeadTime)
		if scheduledFor.Before(s.now()) {
			s.logger.Info("dropping appointment reminder scheduled in the past",
				zap.String("client_id", res.ClientID),
				zap.Time("proposed", ev.ProposedDateTime))
			metrics.DraftsSuppressedTotal.WithLabelValues(string(model.DraftAppointmentReminder), "past").Inc()
			continue
		}

		info := fmt.Sprintf("Upcoming %s on %s", ev.Description, ev.ProposedDateTime.Format(time.RFC1123))
		if ev.Location != "" {
			info += " at " + ev.Location
		}
		if err := s.createDraft(ctx, res.ClientID, res.FirmID, res.ConversationID,
			model.DraftAppointmentReminder, info, scheduledFor, []string{res.ID}); err != nil {
			return err
		}
	}
	return nil
}

// HandleCaseStatusChange turns an external case status signal into a
// case-update draft scheduled immediately.
func (s *Scheduler) HandleCaseStatusChange(ctx context.Context, sig *model.CaseStatusSignal) error {
	_, conversationID, err := s.profiles.GetProfile(ctx, sig.ClientID)
	if err != nil {
		return err
	}
	info := fmt.Sprintf("Case %s update (%s): %s", sig.CaseID, sig.UpdateType, sig.Detail)
	return s.createDraft(ctx, sig.ClientID, sig.FirmID, conversationID,
		model.DraftCaseUpdate, info, s.now(), nil)
}

// EvaluateClient applies the silence-based cadence rules for one client:
// a check-in when the conversation has been quiet long enough, and a
// follow-up when a sent check-in has gone unanswered.
func (s *Scheduler) EvaluateClient(ctx context.Context, profile model.ClientProfile, conversationID string) error {
	last, err := s.messages.LastMessage(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	now := s.now()

	if now.Sub(last.Timestamp) >= s.cfg.CheckInSilence {
		info := fmt.Sprintf("No contact since %s regarding the %s matter",
			last.Timestamp.Format("January 2"), profile.CaseType)
		if err := s.createDraft(ctx, profile.ClientID, profile.FirmID, conversationID,
			model.DraftCheckIn, info, now, nil); err != nil {
			return err
		}
	}

	return s.evaluateFollowUp(ctx, profile, conversationID, now)
}

// evaluateFollowUp drafts a follow-up when the most recent sent check-in has
// received no client reply for the follow-up silence period.
func (s *Scheduler) evaluateFollowUp(ctx context.Context, profile model.ClientProfile, conversationID string, now time.Time) error {
	drafts, err := s.drafts.ListDrafts(ctx, profile.ClientID)
	if err != nil {
		return err
	}
	var checkIn *model.OutboundDraft
	for i := range drafts {
		d := drafts[i]
		if d.Kind != model.DraftCheckIn || d.Status != model.DraftSent || d.ResolvedAt == nil {
			continue
		}
		if checkIn == nil || d.ResolvedAt.After(*checkIn.ResolvedAt) {
			checkIn = &drafts[i]
		}
	}
	if checkIn == nil || now.Sub(*checkIn.ResolvedAt) < s.cfg.FollowUpSilence {
		return nil
	}

	// One follow-up per check-in: a follow-up already created after this
	// check-in went out keeps the rule disarmed whatever its status now.
	for _, d := range drafts {
		if d.Kind == model.DraftFollowUp && !d.CreatedAt.Before(*checkIn.ResolvedAt) {
			return nil
		}
	}

	recent, err := s.messages.RecentMessages(ctx, conversationID, historyWindow)
	if err != nil {
		return err
	}
	for _, msg := range recent {
		if msg.Sender == model.SenderClient && msg.Timestamp.After(*checkIn.ResolvedAt) {
			return nil
		}
	}

	info := fmt.Sprintf("Check-in sent %s has gone unanswered",
		checkIn.ResolvedAt.Format("January 2"))
	return s.createDraft(ctx, profile.ClientID, profile.FirmID, conversationID,
		model.DraftFollowUp, info, now, nil)
}

// MarkSent resolves a pending draft as delivered.
func (s *Scheduler) MarkSent(ctx context.Context, id string) error {
	return s.drafts.MarkSent(ctx, id, s.now())
}

// MarkCancelled resolves a pending draft as withdrawn.
func (s *Scheduler) MarkCancelled(ctx context.Context, id string) error {
	return s.drafts.MarkCancelled(ctx, id, s.now())
}

// Run evaluates cadence rules for every known client until the context is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	firms, err := s.profiles.ListFirms(ctx)
	if err != nil {
		s.logger.Error("failed to list firms for outbound sweep", zap.Error(err))
		return
	}
	for _, firmID := range firms {
		clients, err := s.profiles.ListByFirm(ctx, firmID)
		if err != nil {
			s.logger.Error("failed to list clients", zap.String("firm_id", firmID), zap.Error(err))
			continue
		}
		for _, profile := range clients {
			_, conversationID, err := s.profiles.GetProfile(ctx, profile.ClientID)
			if err != nil {
				continue
			}
			if err := s.EvaluateClient(ctx, profile, conversationID); err != nil {
				s.logger.Warn("outbound evaluation failed",
					zap.String("client_id", profile.ClientID), zap.Error(err))
			}
		}
	}
}

// createDraft writes the body via the analysis service and persists the
// draft. A pending draft of the same kind suppresses the new one; that is a
// policy outcome, not an error.
func (s *Scheduler) createDraft(ctx context.Context, clientID, firmID, conversationID string, kind model.DraftKind, information string, scheduledFor time.Time, sources []string) error {
	pending, err := s.drafts.HasPending(ctx, clientID, kind)
	if err != nil {
		return err
	}
	if pending {
		metrics.DraftsSuppressedTotal.WithLabelValues(string(kind), "pending_exists").Inc()
		return nil
	}

	history, err := s.messages.RecentMessages(ctx, conversationID, historyWindow)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	body, err := s.stages.Draft(ctx, kind, information, history)
	if err != nil {
		return err
	}

	draft := &model.OutboundDraft{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ClientID:        clientID,
		FirmID:          firmID,
		Kind:            kind,
		Body:            body,
		Status:          model.DraftPending,
		ScheduledFor:    scheduledFor,
		CreatedAt:       s.now(),
		SourceResultIDs: sources,
	}
	if err := s.drafts.CreateDraft(ctx, draft); err != nil {
		// Lost the race with a concurrent evaluation of the same rule.
		if errors.Is(err, store.ErrDuplicatePending) {
			metrics.DraftsSuppressedTotal.WithLabelValues(string(kind), "pending_exists").Inc()
			return nil
		}
		return err
	}
	metrics.DraftsTotal.WithLabelValues(string(kind)).Inc()
	s.logger.Info("outbound draft created",
		zap.String("draft_id", draft.ID),
		zap.String("client_id", clientID),
		zap.String("kind", string(kind)),
		zap.Time("scheduled_for", scheduledFor))
	return nil
}
