package analysis

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/arviso/client-pulse/internal/llm"
	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/pkg/logger"
	"github.com/arviso/client-pulse/pkg/metrics"
)

// ClientConfig tunes the analysis service client. Defaults match the
// documented configuration in internal/config.
type ClientConfig struct {
	// Model is the default model for all stages; a request may override it.
	Model string

	// DraftingModel, when set, is used for outbound draft generation instead
	// of Model.
	DraftingModel string

	// StageTimeout bounds a single attempt.
	StageTimeout time.Duration

	// MaxAttempts is the total attempt budget for transient failures.
	MaxAttempts int

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration

	// MaxConcurrent bounds in-flight calls across all stages and all
	// conversations.
	MaxConcurrent int64
}

func (c *ClientConfig) withDefaults() ClientConfig {
	out := *c
	if out.StageTimeout <= 0 {
		out.StageTimeout = 10 * time.Second
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = 500 * time.Millisecond
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = 8
	}
	return out
}

// Request is one shaped analysis service call.
type Request struct {
	System      string
	User        string
	Model       string
	Temperature float64
	MaxTokens   int
}

// ServiceClient is the uniform adapter around the external analysis
// capability. It owns the shared concurrency gate, per-stage timeout, retry
// with exponential backoff on transient failures, and failure classification.
// Structural validation of payloads lives with the stage parsers.
type ServiceClient struct {
	llm    llm.Client
	cfg    ClientConfig
	sem    *semaphore.Weighted
	logger *logger.Logger
}

// NewServiceClient creates a service client around an LLM provider.
func NewServiceClient(provider llm.Client, cfg ClientConfig, log *logger.Logger) *ServiceClient {
	cfg = cfg.withDefaults()
	return &ServiceClient{
		llm:    provider,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: log,
	}
}

// Invoke runs one stage call: acquires a shared permit, applies the stage
// timeout, and retries Timeout/RateLimited failures with exponential backoff.
// InvalidResponse and Unavailable are not retried. The returned error, if
// any, is a *StageError.
func (c *ServiceClient) Invoke(ctx context.Context, stage model.Stage, req Request) (string, error) {
	// Callers block on the shared gate with their own deadline rather than
	// issuing unbounded concurrent calls.
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", &StageError{Stage: stage, Kind: model.ErrorTimeout, Err: err}
	}
	defer c.sem.Release(1)

	metrics.LLMInFlight.Inc()
	defer metrics.LLMInFlight.Dec()

	modelName := req.Model
	if modelName == "" {
		modelName = c.cfg.Model
	}

	completion := &llm.CompletionRequest{
		Model:       modelName,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}

	var lastErr *StageError
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return "", &StageError{Stage: stage, Kind: model.ErrorTimeout, Err: ctx.Err()}
			case <-time.After(delay):
			}
			metrics.StageRetriesTotal.WithLabelValues(string(stage)).Inc()
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
		resp, err := c.llm.Complete(callCtx, completion)
		cancel()

		if err == nil {
			metrics.RecordStage(string(stage), "ok", time.Since(start).Seconds())
			metrics.RecordTokens(resp.Model, resp.TokensIn, resp.TokensOut)
			return resp.Content, nil
		}

		lastErr = &StageError{Stage: stage, Kind: classify(ctx, err), Err: err}
		metrics.RecordStage(string(stage), string(lastErr.Kind), time.Since(start).Seconds())
		metrics.StageErrorsTotal.WithLabelValues(string(stage), string(lastErr.Kind)).Inc()

		if !retryable(lastErr.Kind) {
			return "", lastErr
		}

		c.logger.Warn("analysis service call failed, retrying",
			zap.String("stage", string(stage)),
			zap.String("kind", string(lastErr.Kind)),
			zap.Int("attempt", attempt+1),
		)

		// A parent-level timeout means the turn deadline passed; no retry
		// will fit.
		if ctx.Err() != nil {
			return "", lastErr
		}
	}

	return "", lastErr
}

// retryable reports whether the failure kind is transient per the client
// contract.
func retryable(kind model.ErrorKind) bool {
	return kind == model.ErrorTimeout || kind == model.ErrorRateLimited
}

// classify maps transport errors onto the stage error taxonomy.
func classify(parent context.Context, err error) model.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return model.ErrorTimeout
	case errors.Is(err, llm.ErrRateLimited):
		return model.ErrorRateLimited
	case errors.Is(err, llm.ErrUnavailable):
		return model.ErrorUnavailable
	default:
		if parent.Err() != nil {
			return model.ErrorTimeout
		}
		return model.ErrorUnavailable
	}
}
