package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond, Multiplier: 2}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastConfig(5), func() (string, error) {
		calls++
		if calls < 3 {
			return "", Retryable(errors.New("flaky"))
		}
		return "ok", nil
	})
	if err != nil || v != "ok" || calls != 3 {
		t.Fatalf("got %q err=%v after %d calls", v, err, calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), fastConfig(5), func() (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected one call and boom, got %d calls err=%v", calls, err)
	}
}

func TestDoUnwrapsLastRetryableError(t *testing.T) {
	flaky := errors.New("flaky")
	calls := 0
	_, err := Do(context.Background(), fastConfig(2), func() (int, error) {
		calls++
		return 0, Retryable(flaky)
	})
	if calls != 2 || err != flaky {
		t.Fatalf("expected the bare error after 2 calls, got %d calls err=%#v", calls, err)
	}
	if IsRetryable(err) {
		t.Fatalf("returned error should not carry the retry marker")
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := fastConfig(0)
	cfg.InitialWait = time.Hour
	_, err := Do(ctx, cfg, func() (int, error) { return 0, Retryable(errors.New("x")) })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffGrowsToCeiling(t *testing.T) {
	cfg := Config{InitialWait: 10 * time.Millisecond, MaxWait: 50 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{10, 10, 20, 40, 50, 50}
	for i, w := range want {
		if got := cfg.Backoff(i); got != w*time.Millisecond {
			t.Fatalf("attempt %d: expected %v, got %v", i, w*time.Millisecond, got)
		}
	}

	cfg.Jitter = 0.5
	for i := 0; i < 50; i++ {
		if got := cfg.Backoff(2); got < 10*time.Millisecond || got > 30*time.Millisecond {
			t.Fatalf("jittered wait %v outside 50%% of 20ms", got)
		}
	}
}
