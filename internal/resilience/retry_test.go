package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

func fastRetry(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}

func TestDoValTransientTwiceThenSuccess(t *testing.T) {
	attempts := 0
	val, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", NewTransientError(eris.New("backend overloaded"), 503)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Fatalf("expected ok, got %q", val)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestDoValShapeErrorNeverRetried(t *testing.T) {
	attempts := 0
	_, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, NewShapeError(eris.New("unsupported tool"), "")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("shape error consumed retry budget: %d attempts", attempts)
	}
	if !IsShape(err) {
		t.Fatalf("shape tag lost through retry: %v", err)
	}
}

func TestDoValFatalErrorNotRetried(t *testing.T) {
	attempts := 0
	_, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, eris.New("invalid api key")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("fatal error retried: %d attempts", attempts)
	}
}

func TestDoValExhaustsBudget(t *testing.T) {
	attempts := 0
	_, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, NewTimeoutError(context.DeadlineExceeded)
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoValStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := DoVal(ctx, fastRetry(5), func(ctx context.Context) (struct{}, error) {
		attempts++
		cancel()
		return struct{}{}, NewTransientError(eris.New("flaky"), 500)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected no retries after cancel, got %d attempts", attempts)
	}
}

func TestDoValOnRetryCallback(t *testing.T) {
	cfg := fastRetry(3)
	var callbackAttempts []int
	cfg.OnRetry = func(attempt int, err error) {
		callbackAttempts = append(callbackAttempts, attempt)
	}

	calls := 0
	_, _ = DoVal(context.Background(), cfg, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, NewTransientError(eris.New("flaky"), 500)
	})

	if len(callbackAttempts) != 2 {
		t.Fatalf("expected 2 retry callbacks, got %v", callbackAttempts)
	}
}

func TestComputeBackoffGrowsAndCaps(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
		MaxAttempts:    5,
	})

	if d := computeBackoff(0, cfg); d != 100*time.Millisecond {
		t.Fatalf("attempt 0: got %v", d)
	}
	if d := computeBackoff(1, cfg); d != 200*time.Millisecond {
		t.Fatalf("attempt 1: got %v", d)
	}
	if d := computeBackoff(4, cfg); d != 300*time.Millisecond {
		t.Fatalf("attempt 4 should cap at max: got %v", d)
	}
}

func TestComputeBackoffJitterBounds(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
		MaxAttempts:    3,
	})

	for i := 0; i < 100; i++ {
		d := computeBackoff(0, cfg)
		if d < 75*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %v", d)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeOK},
		{"transient", NewTransientError(eris.New("x"), 503), OutcomeTransient},
		{"timeout", NewTimeoutError(context.DeadlineExceeded), OutcomeTransient},
		{"shape", NewShapeError(eris.New("x"), "tool_choice"), OutcomeShape},
		{"fatal", eris.New("bad request"), OutcomeFatal},
		{"wrapped shape", eris.Wrap(NewShapeError(eris.New("x"), ""), "outer"), OutcomeShape},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("%s: Classify = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestShapeParam(t *testing.T) {
	if p := ShapeParam(NewShapeError(eris.New("x"), "tool_choice")); p != "tool_choice" {
		t.Fatalf("got %q", p)
	}
	if p := ShapeParam(eris.New("not shape")); p != "" {
		t.Fatalf("expected empty param, got %q", p)
	}
}

func TestIsTransientPatterns(t *testing.T) {
	transient := []error{
		eris.New("read: connection reset by peer"),
		eris.New("api rate limit exceeded"),
		eris.New("overloaded_error: Overloaded"),
		context.DeadlineExceeded,
	}
	for _, err := range transient {
		if !IsTransient(err) {
			t.Errorf("expected transient: %v", err)
		}
	}
	if IsTransient(eris.New("invalid request")) {
		t.Error("invalid request should not be transient")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("status %d should be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("status %d should not be transient", code)
		}
	}
}
