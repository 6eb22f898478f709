// Package llm executes completion-backend calls with per-call timeouts, a
// bounded retry policy, and a fallback cascade over alternate capability
// identifiers. Callers describe the request once; backend quirks stay here.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/resilience"
	"github.com/sells-group/research-agent/internal/trace"
	"github.com/sells-group/research-agent/pkg/anthropic"
)

// Caller wraps a backend client with the resilience stack shared by every
// agent: per-call timeout, per-call-name circuit breaker, jittered retry,
// and JSONL tracing.
type Caller struct {
	client   anthropic.Client
	recorder *trace.Recorder
	breakers *resilience.BreakerSet
	retry    resilience.RetryConfig
	timeout  time.Duration

	// toolTypes is the ordered fallback list of web-search capability
	// identifiers for SearchWithFallback.
	toolTypes []string
}

// NewCaller creates a Caller. recorder may be nil to disable tracing.
func NewCaller(client anthropic.Client, recorder *trace.Recorder, timeout time.Duration, maxAttempts int, toolTypes []string) *Caller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if len(toolTypes) == 0 {
		toolTypes = []string{anthropic.WebSearchToolType}
	}
	return &Caller{
		client:    client,
		recorder:  recorder,
		breakers:  resilience.NewBreakerSet(5, 30*time.Second),
		retry:     resilience.FromConfig(maxAttempts),
		timeout:   timeout,
		toolTypes: toolTypes,
	}
}

// Complete makes a plain completion call (no tools) with retries, and
// returns the extracted response text.
func (c *Caller) Complete(ctx context.Context, callName string, req anthropic.MessageRequest) (string, error) {
	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("backend", callName)

	text, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		return c.invoke(ctx, callName, "", req)
	})
	if err != nil {
		return "", eris.Wrapf(err, "llm: %s call failed", callName)
	}
	return text, nil
}

// SearchWithFallback makes a web-search-tool call. It iterates the
// configured capability identifiers in order; per identifier it drops the
// optional tool_choice parameter once if the backend rejects that parameter
// specifically. Shape errors switch variants without consuming the retry
// budget; each concrete variant gets the full bounded retry. query is only
// used to label the terminal error.
func (c *Caller) SearchWithFallback(ctx context.Context, callName, query string, req anthropic.MessageRequest) (string, error) {
	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("backend", callName)

	var lastErr error
	for _, toolType := range c.toolTypes {
		includeToolChoice := true

		// At most one tool_choice downgrade per capability identifier.
		for variantAttempt := 0; variantAttempt < 2; variantAttempt++ {
			variant := req
			variant.Tools = []anthropic.Tool{{Type: toolType, MaxUses: 3}}
			variant.ToolChoiceAuto = includeToolChoice

			text, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
				return c.invoke(ctx, callName, toolType, variant)
			})
			if err == nil {
				return text, nil
			}
			lastErr = err

			if resilience.IsShape(err) {
				if resilience.ShapeParam(err) == "tool_choice" && includeToolChoice {
					zap.L().Debug("llm: backend rejected tool_choice, retrying without it",
						zap.String("call", callName),
						zap.String("tool_type", toolType),
					)
					includeToolChoice = false
					continue
				}
				zap.L().Warn("llm: capability identifier rejected, trying fallback",
					zap.String("call", callName),
					zap.String("tool_type", toolType),
				)
				break
			}

			// An accepted request shape that still failed after retries is
			// terminal; another capability identifier will not help.
			return "", eris.Wrapf(err, "llm: %s failed for query %q", callName, query)
		}
	}

	return "", eris.Wrapf(lastErr, "llm: %s exhausted all capability identifiers for query %q", callName, query)
}

// invoke performs one concrete request variant: breaker gate, per-call
// timeout, trace entry, and outcome classification.
func (c *Caller) invoke(ctx context.Context, callName, toolType string, req anthropic.MessageRequest) (string, error) {
	breaker := c.breakers.Get(callName)
	if err := breaker.Allow(); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := trace.Record(callCtx, c.recorder, callName, req.Model, promptDigest(req),
		func(ctx context.Context) (string, string, error) {
			resp, err := c.client.CreateMessage(ctx, req)
			if err != nil {
				return "", "", err
			}
			out := ExtractText(resp)
			return out, out, nil
		})

	err = classifyCallError(err, toolType)
	breaker.Record(err)
	return text, err
}

// classifyCallError converts a raw backend error into the explicit outcome
// taxonomy the retry/fallback loops branch on.
func classifyCallError(err error, toolType string) error {
	if err == nil {
		return nil
	}
	if resilience.IsShape(err) || resilience.IsTransient(err) {
		return err // already classified (breaker rejections, wrapped retries)
	}

	if errors.Is(err, anthropic.ErrUnsupportedTool) {
		return resilience.NewShapeError(err, "")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.NewTimeoutError(err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "tool_choice") || strings.Contains(msg, "unknown parameter") {
		return resilience.NewShapeError(err, "tool_choice")
	}
	if toolType != "" && strings.Contains(msg, strings.ToLower(toolType)) &&
		(strings.Contains(msg, "supported values") || strings.Contains(msg, "invalid") || strings.Contains(msg, "not supported")) {
		return resilience.NewShapeError(err, "")
	}

	if code := anthropic.APIStatusCode(err); resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(err, code)
	}

	return err
}

// promptDigest serializes the request messages for the trace log.
func promptDigest(req anthropic.MessageRequest) string {
	parts := make([]map[string]string, 0, len(req.Messages)+len(req.System))
	for _, b := range req.System {
		parts = append(parts, map[string]string{"role": "system", "content": b.Text})
	}
	for _, m := range req.Messages {
		parts = append(parts, map[string]string{"role": m.Role, "content": m.Content})
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return ""
	}
	return string(raw)
}
