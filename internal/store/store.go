// Package store defines the persistence boundary for the platform: an
// append-only message log per conversation, the analysis result history, and
// the insight/draft records derived from it. The in-memory implementation in
// this package backs queries; durable append-only storage is the JetStream
// layer's job.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/arviso/client-pulse/internal/model"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicatePending indicates a pending draft of the same kind already
	// exists for the client.
	ErrDuplicatePending = errors.New("store: pending draft of this kind already exists")

	// ErrInvalidTransition indicates a draft status change from a terminal
	// state.
	ErrInvalidTransition = errors.New("store: draft is not pending")
)

// MessageStore is the append-only conversation log.
type MessageStore interface {
	// AppendMessage stores a message and returns its sequence within the
	// conversation, starting at 1.
	AppendMessage(ctx context.Context, msg *model.Message) (uint64, error)

	// RecentMessages returns up to limit most recent messages in arrival order.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)

	// LastMessage returns the most recent message, or ErrNotFound.
	LastMessage(ctx context.Context, conversationID string) (*model.Message, error)
}

// ProfileStore tracks client profiles and their conversations.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, profile model.ClientProfile, conversationID string) error
	GetProfile(ctx context.Context, clientID string) (model.ClientProfile, string, error)
	ListByFirm(ctx context.Context, firmID string) ([]model.ClientProfile, error)
	ListFirms(ctx context.Context) ([]string, error)
}

// ResultStore is the analysis result history.
type ResultStore interface {
	AppendResult(ctx context.Context, res *model.AnalysisResult) error

	// LatestResult returns the most recent result for a client, or ErrNotFound.
	LatestResult(ctx context.Context, clientID string) (*model.AnalysisResult, error)

	// RecentResults returns up to limit results for a client no older than
	// since, in finalize order.
	RecentResults(ctx context.Context, clientID string, limit int, since time.Time) ([]model.AnalysisResult, error)

	// ByConversation returns all results for a conversation in finalize order.
	ByConversation(ctx context.Context, conversationID string) ([]model.AnalysisResult, error)
}

// InsightStore holds generated insights.
type InsightStore interface {
	SaveInsight(ctx context.Context, in *model.Insight) error

	// LatestInsight returns the most recent insight of the given kind for a
	// client, or ErrNotFound.
	LatestInsight(ctx context.Context, clientID string, kind model.InsightKind) (*model.Insight, error)

	// LatestSummaries returns the most recent summary insight per client of
	// the firm.
	LatestSummaries(ctx context.Context, firmID string) ([]model.Insight, error)
}

// DraftStore holds outbound drafts and enforces their lifecycle.
type DraftStore interface {
	// CreateDraft stores a new pending draft. Returns ErrDuplicatePending
	// when a pending draft of the same kind exists for the client.
	CreateDraft(ctx context.Context, d *model.OutboundDraft) error

	HasPending(ctx context.Context, clientID string, kind model.DraftKind) (bool, error)
	ListDrafts(ctx context.Context, clientID string) ([]model.OutboundDraft, error)
	GetDraft(ctx context.Context, id string) (*model.OutboundDraft, error)

	// MarkSent and MarkCancelled move a pending draft to its terminal state.
	// Both return ErrInvalidTransition when the draft is not pending.
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkCancelled(ctx context.Context, id string, at time.Time) error
}
