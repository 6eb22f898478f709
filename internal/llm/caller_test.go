package llm

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-agent/internal/resilience"
	"github.com/sells-group/research-agent/pkg/anthropic"
)

// fakeBackend scripts CreateMessage responses and records every request.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []anthropic.MessageRequest
	handler func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

func (f *fakeBackend) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	call := len(f.calls)
	f.mu.Unlock()
	return f.handler(call, req)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func newTestCaller(backend anthropic.Client, toolTypes ...string) *Caller {
	c := NewCaller(backend, nil, time.Second, 3, toolTypes)
	c.retry.InitialBackoff = time.Millisecond
	c.retry.MaxBackoff = 2 * time.Millisecond
	return c
}

func TestCompleteExtractsText(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse("hallo"), nil
	}}
	c := newTestCaller(backend)

	text, err := c.Complete(context.Background(), "planner", anthropic.MessageRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "hallo", text)
	assert.Equal(t, 1, backend.callCount())
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if call < 3 {
			return nil, eris.New("overloaded_error: Overloaded")
		}
		return textResponse("ok"), nil
	}}
	c := newTestCaller(backend)

	text, err := c.Complete(context.Background(), "writer", anthropic.MessageRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 3, backend.callCount())
}

func TestCompleteFatalNotRetried(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, eris.New("invalid api key")
	}}
	c := newTestCaller(backend)

	_, err := c.Complete(context.Background(), "writer", anthropic.MessageRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 1, backend.callCount())
}

func TestSearchFallbackSwitchesCapabilityWithoutBurningRetries(t *testing.T) {
	var perTool sync.Map
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		toolType := req.Tools[0].Type
		count, _ := perTool.LoadOrStore(toolType, new(int))
		*count.(*int)++

		if toolType == "web_search_old" {
			return nil, eris.New("tool type web_search_old is not among the supported values")
		}
		return textResponse("gefunden"), nil
	}}
	c := newTestCaller(backend, "web_search_old", "web_search_20250305")

	text, err := c.SearchWithFallback(context.Background(), "search", "Regal bauen", anthropic.MessageRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "gefunden", text)

	// The rejected capability identifier was tried once, not retried.
	oldCalls, ok := perTool.Load("web_search_old")
	require.True(t, ok)
	assert.Equal(t, 1, *oldCalls.(*int))
}

func TestSearchFallbackDropsToolChoiceOnce(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if req.ToolChoiceAuto {
			return nil, eris.New("unknown parameter: tool_choice")
		}
		return textResponse("ohne tool_choice"), nil
	}}
	c := newTestCaller(backend, "web_search_20250305")

	text, err := c.SearchWithFallback(context.Background(), "search", "q", anthropic.MessageRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ohne tool_choice", text)
	require.Equal(t, 2, backend.callCount())

	assert.True(t, backend.calls[0].ToolChoiceAuto)
	assert.False(t, backend.calls[1].ToolChoiceAuto)
}

func TestSearchFallbackExhaustionNamesQuery(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, eris.Errorf("tool type %s is not among the supported values", req.Tools[0].Type)
	}}
	c := newTestCaller(backend, "tool_a", "tool_b")

	_, err := c.SearchWithFallback(context.Background(), "search", "Waschbecken tauschen", anthropic.MessageRequest{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Waschbecken tauschen")
	assert.Equal(t, 2, backend.callCount())
}

func TestSearchFallbackTransientExhaustionIsTerminal(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, eris.New("rate limit exceeded")
	}}
	c := newTestCaller(backend, "tool_a", "tool_b")

	_, err := c.SearchWithFallback(context.Background(), "search", "q", anthropic.MessageRequest{Model: "m"})
	require.Error(t, err)
	// Retry budget consumed on the accepted variant; no fallback to tool_b.
	assert.Equal(t, 3, backend.callCount())
	for _, call := range backend.calls {
		assert.Equal(t, "tool_a", call.Tools[0].Type)
	}
}

func TestPerCallTimeoutIsRetryable(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, context.DeadlineExceeded
	}}
	c := NewCaller(backend, nil, 10*time.Millisecond, 2, nil)
	c.retry.InitialBackoff = time.Millisecond
	c.retry.MaxBackoff = time.Millisecond

	_, err := c.Complete(context.Background(), "search", anthropic.MessageRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 2, backend.callCount(), "timeouts must be retried")
}

func TestClassifyCallError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		toolType string
		want     resilience.Outcome
	}{
		{"nil", nil, "", resilience.OutcomeOK},
		{"unsupported tool sentinel", eris.Wrap(anthropic.ErrUnsupportedTool, "anthropic: tool"), "", resilience.OutcomeShape},
		{"tool_choice message", eris.New("unknown parameter: tool_choice"), "", resilience.OutcomeShape},
		{"tool type message", eris.New("web_search_x is invalid"), "web_search_x", resilience.OutcomeShape},
		{"deadline", context.DeadlineExceeded, "", resilience.OutcomeTransient},
		{"overloaded", eris.New("Overloaded"), "", resilience.OutcomeTransient},
		{"fatal", eris.New("billing problem"), "", resilience.OutcomeFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := resilience.Classify(classifyCallError(tc.err, tc.toolType))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyCallErrorToolChoiceParam(t *testing.T) {
	err := classifyCallError(eris.New("unknown parameter: tool_choice"), "web_search_20250305")
	assert.Equal(t, "tool_choice", resilience.ShapeParam(err))

	err = classifyCallError(eris.New("web_search_20250305 is not among the supported values"), "web_search_20250305")
	require.True(t, resilience.IsShape(err))
	assert.Empty(t, resilience.ShapeParam(err), "whole-capability rejection carries no param")
}

func TestPromptDigest(t *testing.T) {
	digest := promptDigest(anthropic.MessageRequest{
		System:   []anthropic.SystemBlock{{Text: "sys"}},
		Messages: []anthropic.Message{{Role: "user", Content: "frage"}},
	})
	assert.True(t, strings.Contains(digest, "sys") && strings.Contains(digest, "frage"))
}
