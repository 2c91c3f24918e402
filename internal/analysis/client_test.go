package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arviso/client-pulse/internal/llm"
	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/pkg/logger"
)

// fakeLLM scripts analysis service responses for tests. The reply function
// receives the call context and the shaped request and decides the outcome.
type fakeLLM struct {
	mu    sync.Mutex
	calls []llm.CompletionRequest
	reply func(ctx context.Context, req *llm.CompletionRequest) (string, error)
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req)
	f.mu.Unlock()

	content, err := f.reply(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content, Model: req.Model}, nil
}

func (f *fakeLLM) Name() string     { return "fake" }
func (f *fakeLLM) Models() []string { return nil }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestClient(f *fakeLLM, attempts int) *ServiceClient {
	return NewServiceClient(f, ClientConfig{
		StageTimeout:  100 * time.Millisecond,
		MaxAttempts:   attempts,
		BackoffBase:   time.Millisecond,
		MaxConcurrent: 4,
	}, logger.NewNop())
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	var n int
	f := &fakeLLM{reply: func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		n++
		if n < 3 {
			return "", llm.ErrRateLimited
		}
		return "ok", nil
	}}
	client := newTestClient(f, 3)

	out, err := client.Invoke(context.Background(), model.StageTriage, Request{System: "s", User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, f.callCount())
}

func TestInvokeDoesNotRetryUnavailable(t *testing.T) {
	f := &fakeLLM{reply: func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		return "", llm.ErrUnavailable
	}}
	client := newTestClient(f, 3)

	_, err := client.Invoke(context.Background(), model.StageRisk, Request{System: "s", User: "u"})
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, model.StageRisk, stageErr.Stage)
	assert.Equal(t, model.ErrorUnavailable, stageErr.Kind)
	assert.Equal(t, 1, f.callCount())
}

func TestInvokeExhaustsAttemptBudget(t *testing.T) {
	f := &fakeLLM{reply: func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		return "", llm.ErrRateLimited
	}}
	client := newTestClient(f, 3)

	_, err := client.Invoke(context.Background(), model.StageSentiment, Request{System: "s", User: "u"})
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, model.ErrorRateLimited, stageErr.Kind)
	assert.Equal(t, 3, f.callCount())
}

func TestInvokeClassifiesStageTimeout(t *testing.T) {
	f := &fakeLLM{reply: func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	client := NewServiceClient(f, ClientConfig{
		StageTimeout:  5 * time.Millisecond,
		MaxAttempts:   1,
		BackoffBase:   time.Millisecond,
		MaxConcurrent: 4,
	}, logger.NewNop())

	_, err := client.Invoke(context.Background(), model.StageEvents, Request{System: "s", User: "u"})
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, model.ErrorTimeout, stageErr.Kind)
}

func TestInvokeStopsRetryingWhenParentExpires(t *testing.T) {
	f := &fakeLLM{reply: func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		return "", llm.ErrRateLimited
	}}
	client := NewServiceClient(f, ClientConfig{
		StageTimeout:  100 * time.Millisecond,
		MaxAttempts:   10,
		BackoffBase:   20 * time.Millisecond,
		MaxConcurrent: 4,
	}, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Invoke(ctx, model.StageTriage, Request{System: "s", User: "u"})
	require.Error(t, err)
	assert.Less(t, f.callCount(), 10)
}
