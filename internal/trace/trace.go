// Package trace writes an append-only, line-delimited log of every external
// backend call: name, model, duration, size and cost estimates, error. The
// log is observational only and never read back at runtime.
package trace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/cost"
)

// Entry is one trace line.
type Entry struct {
	TS          string  `json:"ts"`
	CallName    string  `json:"call_name"`
	Model       string  `json:"model"`
	DurationMS  float64 `json:"duration_ms"`
	PromptRaw   string  `json:"prompt_raw"`
	PromptChars int     `json:"prompt_chars"`
	OutputRaw   string  `json:"output_raw"`
	OutputChars int     `json:"output_chars"`
	TokensInEst int     `json:"tokens_in_est"`
	TokensOut   int     `json:"tokens_out_est"`
	CostEstUSD  float64 `json:"cost_est_usd"`
	Error       string  `json:"error,omitempty"`
}

const masked = "[masked]"

// Recorder appends trace entries to a JSONL file. A nil Recorder is valid
// and records nothing, so call sites never branch on tracing being enabled.
type Recorder struct {
	mu       sync.Mutex
	path     string
	raw      bool
	calc     *cost.Calculator
	nowFunc  func() time.Time
	openFile func(string) (*os.File, error)
}

// NewRecorder creates a Recorder writing to dir/backend.log. When raw is
// false, prompt and output text are masked in the log.
func NewRecorder(dir string, raw bool) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		path:    filepath.Join(dir, "backend.log"),
		raw:     raw,
		calc:    cost.NewCalculator(cost.DefaultRates()),
		nowFunc: time.Now,
		openFile: func(p string) (*os.File, error) {
			return os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		},
	}, nil
}

// Record runs invoke and appends one entry describing the call. Trace I/O
// failures are logged and swallowed; they never fail the call itself.
func Record[T any](ctx context.Context, r *Recorder, callName, model, prompt string, invoke func(ctx context.Context) (T, string, error)) (T, error) {
	if r == nil {
		val, _, err := invoke(ctx)
		return val, err
	}

	start := r.nowFunc()
	val, output, err := invoke(ctx)
	elapsed := r.nowFunc().Sub(start)

	entry := Entry{
		TS:          start.UTC().Format(time.RFC3339Nano),
		CallName:    callName,
		Model:       model,
		DurationMS:  float64(elapsed.Microseconds()) / 1000,
		PromptChars: len(prompt),
		OutputChars: len(output),
	}
	entry.TokensInEst = cost.EstimateTokens(entry.PromptChars)
	entry.TokensOut = cost.EstimateTokens(entry.OutputChars)
	entry.CostEstUSD = r.calc.Backend(model, entry.TokensInEst, entry.TokensOut)
	if r.raw {
		entry.PromptRaw = prompt
		entry.OutputRaw = output
	} else {
		entry.PromptRaw = masked
		entry.OutputRaw = masked
	}
	if err != nil {
		entry.Error = err.Error()
	}

	r.append(entry)
	return val, err
}

func (r *Recorder) append(entry Entry) {
	line, err := json.Marshal(entry)
	if err != nil {
		zap.L().Warn("trace: marshal entry", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.openFile(r.path)
	if err != nil {
		zap.L().Warn("trace: open log", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		zap.L().Warn("trace: write entry", zap.Error(err))
	}
}
