package analysis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/internal/store"
	"github.com/arviso/client-pulse/pkg/logger"
	"github.com/arviso/client-pulse/pkg/metrics"
)

// ResultPublisher pushes finalized results to the durable stream. Implemented
// by the JetStream StreamManager.
type ResultPublisher interface {
	PublishResult(ctx context.Context, res *model.AnalysisResult) (uint64, error)
}

// MessagePublisher pushes inbound messages to the durable stream.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, firmID string, msg *model.Message) (uint64, error)
}

// Publisher is the combined durable-stream surface the orchestrator uses.
type Publisher interface {
	ResultPublisher
	MessagePublisher
}

// OrchestratorConfig tunes per-turn behavior.
type OrchestratorConfig struct {
	// TurnDeadline bounds a whole turn: fan-out, gated response, finalize.
	TurnDeadline time.Duration
}

// Orchestrator runs the per-message pipeline: Received -> Loading ->
// Analyzing -> Finalized. Within Analyzing the four independent stages fan
// out concurrently, each writing a disjoint field of the result; the gated
// response stage runs after the join when triage decided RESPOND. Results for
// one conversation finalize in message arrival order.
type Orchestrator struct {
	loader   *ContextLoader
	stages   *Stages
	messages store.MessageStore
	profiles store.ProfileStore
	results  store.ResultStore
	stream   Publisher // optional
	cfg      OrchestratorConfig
	logger   *logger.Logger

	// Per-conversation finalize chain: turn N+1 waits for turn N.
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(
	loader *ContextLoader,
	stages *Stages,
	messages store.MessageStore,
	profiles store.ProfileStore,
	results store.ResultStore,
	stream Publisher,
	cfg OrchestratorConfig,
	log *logger.Logger,
) *Orchestrator {
	if cfg.TurnDeadline <= 0 {
		cfg.TurnDeadline = 25 * time.Second
	}
	return &Orchestrator{
		loader:   loader,
		stages:   stages,
		messages: messages,
		profiles: profiles,
		results:  results,
		stream:   stream,
		cfg:      cfg,
		logger:   log,
	}
}

// Analyze runs one pipeline turn for an inbound message. It returns the
// finalized, possibly partial, AnalysisResult. A turn fails entirely only
// when context loading fails or every independent stage fails.
func (o *Orchestrator) Analyze(ctx context.Context, req *model.AnalyzeRequest) (*model.AnalysisResult, error) {
	if strings.TrimSpace(req.Message.Body) == "" {
		return nil, ErrEmptyMessage
	}

	start := time.Now()
	log := o.logger.WithConversation(req.ConversationID, req.Profile.ClientID)

	// Received: record the message and profile before anything can fail.
	msg := req.Message
	msg.ConversationID = req.ConversationID
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	// Sequence assignment and the finalize ticket happen under one lock, so
	// ticket order always matches sequence order and later turns in the same
	// conversation cannot finalize first, however stage latency lands.
	seq, prev, done, err := o.beginTurn(ctx, req.ConversationID, &msg)
	if err != nil {
		return nil, err
	}
	defer o.endTurn(req.ConversationID, done)

	if err := o.profiles.UpsertProfile(ctx, req.Profile, req.ConversationID); err != nil {
		return nil, err
	}
	if o.stream != nil {
		if _, err := o.stream.PublishMessage(ctx, req.Profile.FirmID, &msg); err != nil {
			log.Warn("failed to publish message to stream", zap.Error(err))
		}
	}

	turnCtx, cancel := context.WithTimeout(ctx, o.cfg.TurnDeadline)
	defer cancel()

	// Loading.
	cc, err := o.loader.Load(turnCtx, req.ConversationID, req.Profile)
	if err != nil {
		metrics.PipelineTurnsTotal.WithLabelValues("context_load_failed").Inc()
		return nil, err
	}

	// Analyzing: fan out the four independent stages. Each goroutine writes
	// its own field and its own error slot, so the join needs no locking.
	var (
		triage    model.Triage
		risk      *model.RiskAssessment
		sentiment *model.SentimentAssessment
		events    []model.EventCandidate
		stageErrs [4]error
	)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		triage, stageErrs[0] = o.stages.Triage(turnCtx, cc)
	}()
	go func() {
		defer wg.Done()
		risk, stageErrs[1] = o.stages.Risk(turnCtx, cc)
	}()
	go func() {
		defer wg.Done()
		sentiment, stageErrs[2] = o.stages.Sentiment(turnCtx, cc)
	}()
	go func() {
		defer wg.Done()
		events, stageErrs[3] = o.stages.Events(turnCtx, cc)
	}()
	wg.Wait()

	errKinds := map[model.Stage]model.ErrorKind{}
	for i, stage := range [4]model.Stage{model.StageTriage, model.StageRisk, model.StageSentiment, model.StageEvents} {
		if stageErrs[i] != nil {
			errKinds[stage] = kindOf(stageErrs[i])
			log.Warn("stage failed", zap.String("stage", string(stage)), zap.Error(stageErrs[i]))
		}
	}
	if len(errKinds) == 4 {
		metrics.PipelineTurnsTotal.WithLabelValues("all_stages_failed").Inc()
		return nil, ErrAllStagesFailed
	}

	// Response generation is gated on triage: drafting a reply to a message
	// that doesn't warrant one is a defect, not just a cost.
	var response *string
	if stageErrs[0] == nil && triage == model.TriageRespond {
		reply, err := o.stages.Respond(turnCtx, cc)
		if err != nil {
			errKinds[model.StageResponse] = kindOf(err)
			log.Warn("response generation failed", zap.Error(err))
		} else {
			response = &reply
		}
	}

	// Finalized: assemble the result even when some stages failed.
	res := &model.AnalysisResult{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ConversationID:  req.ConversationID,
		MessageID:       msg.ID,
		ClientID:        req.Profile.ClientID,
		FirmID:          req.Profile.FirmID,
		MessageSequence: seq,
		Events:          events,
		Response:        response,
		CreatedAt:       time.Now(),
	}
	if stageErrs[0] == nil {
		t := triage
		res.Triage = &t
	}
	res.Risk = risk
	res.Sentiment = sentiment
	if len(errKinds) > 0 {
		res.StageErrors = errKinds
	}

	// Hold finalization until the previous turn in this conversation has
	// persisted its result.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			metrics.PipelineTurnsTotal.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		}
	}

	if err := o.results.AppendResult(ctx, res); err != nil {
		metrics.PipelineTurnsTotal.WithLabelValues("persist_failed").Inc()
		return nil, err
	}
	if o.stream != nil {
		if _, err := o.stream.PublishResult(ctx, res); err != nil {
			log.Warn("failed to publish result to stream", zap.Error(err))
		}
	}

	outcome := "ok"
	if len(errKinds) > 0 {
		outcome = "partial"
	}
	metrics.PipelineTurnsTotal.WithLabelValues(outcome).Inc()
	metrics.PipelineTurnDuration.Observe(time.Since(start).Seconds())

	log.Info("turn finalized",
		zap.Uint64("sequence", seq),
		zap.String("outcome", outcome),
		zap.Int("stage_errors", len(errKinds)),
	)
	return res, nil
}

// beginTurn appends the message and takes the conversation's finalize ticket
// under one lock: sequence order and ticket order can never diverge. The
// caller must wait on prev (if non-nil) before persisting, and done is closed
// on its behalf by endTurn.
func (o *Orchestrator) beginTurn(ctx context.Context, conversationID string, msg *model.Message) (seq uint64, prev <-chan struct{}, done chan struct{}, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	seq, err = o.messages.AppendMessage(ctx, msg)
	if err != nil {
		return 0, nil, nil, err
	}
	if o.tails == nil {
		o.tails = make(map[string]chan struct{})
	}
	prevCh := o.tails[conversationID]
	done = make(chan struct{})
	o.tails[conversationID] = done
	if prevCh == nil {
		return seq, nil, done, nil
	}
	return seq, prevCh, done, nil
}

// endTurn releases the ticket and drops the chain entry once no turn is
// waiting behind it.
func (o *Orchestrator) endTurn(conversationID string, done chan struct{}) {
	close(done)
	o.mu.Lock()
	if o.tails[conversationID] == done {
		delete(o.tails, conversationID)
	}
	o.mu.Unlock()
}
