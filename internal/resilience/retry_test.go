package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// sleepRecorder replaces real waits and records requested durations.
type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testRetryConfig(maxAttempts int, rec *sleepRecorder) RetryConfig {
	return RetryConfig{
		MaxAttempts: maxAttempts,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
		Sleep:       rec.Sleep,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	var calls int
	err := Do(context.Background(), testRetryConfig(3, rec), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(rec.delays) != 0 {
		t.Errorf("expected no sleeps, got %v", rec.delays)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	rec := &sleepRecorder{}
	var calls int
	err := Do(context.Background(), testRetryConfig(3, rec), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_LinearBackoffShape(t *testing.T) {
	rec := &sleepRecorder{}
	var calls int
	err := Do(context.Background(), testRetryConfig(4, rec), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("server error"), 500)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 4 {
		t.Errorf("expected 4 attempts, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], rec.delays[i])
		}
	}
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	rec := &sleepRecorder{}
	var calls int
	err := Do(context.Background(), testRetryConfig(3, rec), func(_ context.Context) error {
		calls++
		if calls == 1 {
			return &TransientError{Err: errors.New("rate limited"), StatusCode: 429, RetryAfter: 9 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 9*time.Second {
		t.Errorf("expected a single 9s delay, got %v", rec.delays)
	}
}

func TestDo_RetriesNetworkErrors(t *testing.T) {
	rec := &sleepRecorder{}
	var calls int
	err := Do(context.Background(), testRetryConfig(2, rec), func(_ context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("read tcp: connection reset by peer")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_PermanentError_NoRetry(t *testing.T) {
	rec := &sleepRecorder{}
	var calls int
	err := Do(context.Background(), RetryConfig{
		MaxAttempts: 5,
		Sleep:       rec.Sleep,
		ShouldRetry: func(error) bool { return true },
	}, func(_ context.Context) error {
		calls++
		return NewPermanentError(errors.New("forbidden"), 403)
	})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call for permanent error, got %d", calls)
	}
	if len(rec.delays) != 0 {
		t.Errorf("expected no sleeps, got %v", rec.delays)
	}
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	rec := &sleepRecorder{}
	var calls int
	err := Do(context.Background(), testRetryConfig(5, rec), func(_ context.Context) error {
		calls++
		return errors.New("validation error")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for non-transient error, got %d", calls)
	}
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, RetryConfig{MaxAttempts: 10, BaseBackoff: time.Hour}, func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("fail"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancellation, got %d", calls)
	}
}

func TestDo_SleepInterrupted(t *testing.T) {
	var calls int
	err := Do(context.Background(), RetryConfig{
		MaxAttempts: 5,
		Sleep:       func(context.Context, time.Duration) error { return context.Canceled },
	}, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("fail"), 503)
	})
	if !IsTransient(err) {
		t.Errorf("expected last transient error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_CustomShouldRetry(t *testing.T) {
	rec := &sleepRecorder{}
	custom := errors.New("custom retryable")
	var calls int
	err := Do(context.Background(), RetryConfig{
		MaxAttempts: 3,
		Sleep:       rec.Sleep,
		ShouldRetry: func(err error) bool { return errors.Is(err, custom) },
	}, func(_ context.Context) error {
		calls++
		return custom
	})
	if !errors.Is(err, custom) {
		t.Errorf("expected custom error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	rec := &sleepRecorder{}
	var attempts []int
	cfg := testRetryConfig(3, rec)
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("fail"), 500)
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected retry callbacks [1 2], got %v", attempts)
	}
}

func TestDoVal_ReturnsValueOnSuccess(t *testing.T) {
	rec := &sleepRecorder{}
	var calls int
	val, err := DoVal(context.Background(), testRetryConfig(3, rec), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("temporary"), 502)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Errorf("expected ok, got %q", val)
	}
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	rec := &sleepRecorder{}
	val, err := DoVal(context.Background(), testRetryConfig(2, rec), func(_ context.Context) (int, error) {
		return 7, NewTransientError(errors.New("fail"), 500)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if val != 0 {
		t.Errorf("expected zero value, got %d", val)
	}
}

func TestComputeBackoff_CapsAtMax(t *testing.T) {
	cfg := RetryConfig{BaseBackoff: 10 * time.Second, MaxBackoff: 25 * time.Second}
	if got := computeBackoff(5, errors.New("x"), cfg); got != 25*time.Second {
		t.Errorf("expected cap at 25s, got %v", got)
	}
}

func TestComputeBackoff_WithJitter(t *testing.T) {
	cfg := RetryConfig{BaseBackoff: time.Second, MaxBackoff: time.Minute, JitterFraction: 0.5}
	for i := 0; i < 200; i++ {
		got := computeBackoff(2, errors.New("x"), cfg)
		if got < time.Second || got >= 3*time.Second {
			t.Fatalf("jittered delay %v outside [1s, 3s)", got)
		}
	}
}

func TestComputeBackoff_JitterAppliesToRetryAfter(t *testing.T) {
	cfg := RetryConfig{BaseBackoff: time.Second, MaxBackoff: time.Minute, JitterFraction: 0.5}
	err := &TransientError{Err: errors.New("x"), RetryAfter: 4 * time.Second}
	for i := 0; i < 200; i++ {
		got := computeBackoff(1, err, cfg)
		if got < 2*time.Second || got >= 6*time.Second {
			t.Fatalf("jittered retry-after %v outside [2s, 6s)", got)
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 || cfg.BaseBackoff != time.Second || cfg.JitterFraction != 0.5 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestFromConfig(t *testing.T) {
	rc := FromRetryConfig(4, 2*time.Second, 0, 0)
	if rc.MaxAttempts != 4 || rc.BaseBackoff != 2*time.Second || rc.MaxBackoff != 30*time.Second || rc.JitterFraction != 0 {
		t.Errorf("unexpected retry config: %+v", rc)
	}
	cc := FromCircuitConfig(0, time.Minute)
	if cc.FailureThreshold != 5 || cc.RecoveryTimeout != time.Minute {
		t.Errorf("unexpected circuit config: %+v", cc)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := SleepContext(context.Background(), 0); err != nil {
		t.Errorf("expected nil for zero sleep, got %v", err)
	}
}

func TestRetryLogger(t *testing.T) {
	fn := RetryLogger("discovery", "discover")
	// Should not panic with the no-op global logger.
	fn(1, errors.New("test"))
}
