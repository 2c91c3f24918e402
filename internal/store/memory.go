package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arviso/client-pulse/internal/model"
)

// Memory is an in-memory implementation of all store interfaces, guarded by a
// single RWMutex. Suitable for tests and single-node deployments; a database
// would replace it in production.
type Memory struct {
	mu sync.RWMutex

	messages map[string][]model.Message        // conversationID -> log
	profiles map[string]profileEntry           // clientID -> profile + conversation
	results  map[string][]model.AnalysisResult // clientID -> finalize order
	byConv   map[string][]model.AnalysisResult // conversationID -> finalize order
	insights map[string][]model.Insight        // clientID|firmID -> append order
	drafts   map[string]*model.OutboundDraft
}

type profileEntry struct {
	profile        model.ClientProfile
	conversationID string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string][]model.Message),
		profiles: make(map[string]profileEntry),
		results:  make(map[string][]model.AnalysisResult),
		byConv:   make(map[string][]model.AnalysisResult),
		insights: make(map[string][]model.Insight),
		drafts:   make(map[string]*model.OutboundDraft),
	}
}

// AppendMessage stores a message and assigns its conversation sequence.
func (m *Memory) AppendMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *msg
	stored.Sequence = uint64(len(m.messages[msg.ConversationID]) + 1)
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], stored)
	return stored.Sequence, nil
}

// RecentMessages returns up to limit most recent messages in arrival order.
func (m *Memory) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.messages[conversationID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]model.Message, len(log))
	copy(out, log)
	return out, nil
}

// LastMessage returns the most recent message in a conversation.
func (m *Memory) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.messages[conversationID]
	if len(log) == 0 {
		return nil, ErrNotFound
	}
	last := log[len(log)-1]
	return &last, nil
}

// UpsertProfile records a client profile and its conversation.
func (m *Memory) UpsertProfile(ctx context.Context, profile model.ClientProfile, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles[profile.ClientID] = profileEntry{profile: profile, conversationID: conversationID}
	return nil
}

// GetProfile returns a client profile and its conversation ID.
func (m *Memory) GetProfile(ctx context.Context, clientID string) (model.ClientProfile, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.profiles[clientID]
	if !ok {
		return model.ClientProfile{}, "", ErrNotFound
	}
	return entry.profile, entry.conversationID, nil
}

// ListByFirm returns all known profiles for a firm, ordered by client ID.
func (m *Memory) ListByFirm(ctx context.Context, firmID string) ([]model.ClientProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ClientProfile
	for _, entry := range m.profiles {
		if entry.profile.FirmID == firmID {
			out = append(out, entry.profile)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// ListFirms returns the distinct firm IDs seen in profiles, sorted.
func (m *Memory) ListFirms(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, entry := range m.profiles {
		seen[entry.profile.FirmID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// AppendResult stores a finalized analysis result.
func (m *Memory) AppendResult(ctx context.Context, res *model.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *res
	m.results[res.ClientID] = append(m.results[res.ClientID], stored)
	m.byConv[res.ConversationID] = append(m.byConv[res.ConversationID], stored)
	return nil
}

// LatestResult returns the most recent result for a client.
func (m *Memory) LatestResult(ctx context.Context, clientID string) (*model.AnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.results[clientID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	last := history[len(history)-1]
	return &last, nil
}

// RecentResults returns up to limit results for a client no older than since.
func (m *Memory) RecentResults(ctx context.Context, clientID string, limit int, since time.Time) ([]model.AnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.AnalysisResult
	for _, res := range m.results[clientID] {
		if !since.IsZero() && res.CreatedAt.Before(since) {
			continue
		}
		out = append(out, res)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ByConversation returns all results for a conversation in finalize order.
func (m *Memory) ByConversation(ctx context.Context, conversationID string) ([]model.AnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.byConv[conversationID]
	out := make([]model.AnalysisResult, len(history))
	copy(out, history)
	return out, nil
}

// SaveInsight stores an insight scoped to its client or firm.
func (m *Memory) SaveInsight(ctx context.Context, in *model.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope := in.ClientID
	if scope == "" {
		scope = in.FirmID
	}
	m.insights[scope] = append(m.insights[scope], *in)
	return nil
}

// LatestInsight returns the most recent insight of a kind for a client.
func (m *Memory) LatestInsight(ctx context.Context, clientID string, kind model.InsightKind) (*model.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.insights[clientID]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == kind {
			in := history[i]
			return &in, nil
		}
	}
	return nil, ErrNotFound
}

// LatestSummaries returns the most recent summary insight per client of a firm.
func (m *Memory) LatestSummaries(ctx context.Context, firmID string) ([]model.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Insight
	for _, entry := range m.profiles {
		if entry.profile.FirmID != firmID {
			continue
		}
		history := m.insights[entry.profile.ClientID]
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Kind == model.InsightSummary {
				out = append(out, history[i])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// CreateDraft stores a new pending draft, enforcing one pending per kind.
func (m *Memory) CreateDraft(ctx context.Context, d *model.OutboundDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.drafts {
		if existing.ClientID == d.ClientID && existing.Kind == d.Kind && existing.Status == model.DraftPending {
			return ErrDuplicatePending
		}
	}
	stored := *d
	m.drafts[d.ID] = &stored
	return nil
}

// HasPending reports whether a pending draft of the kind exists for the client.
func (m *Memory) HasPending(ctx context.Context, clientID string, kind model.DraftKind) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.drafts {
		if d.ClientID == clientID && d.Kind == kind && d.Status == model.DraftPending {
			return true, nil
		}
	}
	return false, nil
}

// ListDrafts returns all drafts for a client, oldest first.
func (m *Memory) ListDrafts(ctx context.Context, clientID string) ([]model.OutboundDraft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.OutboundDraft
	for _, d := range m.drafts {
		if d.ClientID == clientID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetDraft returns a draft by ID.
func (m *Memory) GetDraft(ctx context.Context, id string) (*model.OutboundDraft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *d
	return &out, nil
}

// MarkSent transitions a pending draft to sent.
func (m *Memory) MarkSent(ctx context.Context, id string, at time.Time) error {
	return m.resolve(id, model.DraftSent, at)
}

// MarkCancelled transitions a pending draft to cancelled.
func (m *Memory) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	return m.resolve(id, model.DraftCancelled, at)
}

func (m *Memory) resolve(id string, status model.DraftStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[id]
	if !ok {
		return ErrNotFound
	}
	if d.Status != model.DraftPending {
		return ErrInvalidTransition
	}
	d.Status = status
	d.ResolvedAt = &at
	return nil
}
