package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntil_SatisfiedImmediately(t *testing.T) {
	out := Until(context.Background(), time.Second, time.Second, func(context.Context) (bool, error) {
		return true, nil
	})
	if out.Result != Satisfied {
		t.Fatalf("expected Satisfied, got %s", out.Result)
	}
	if out.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", out.Attempts)
	}
}

func TestUntil_SatisfiedAfterRetries(t *testing.T) {
	calls := 0
	out := Until(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if out.Result != Satisfied || out.Attempts != 3 {
		t.Fatalf("expected Satisfied after 3 attempts, got %s after %d", out.Result, out.Attempts)
	}
}

func TestUntil_TimesOut(t *testing.T) {
	out := Until(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	if out.Result != TimedOut {
		t.Fatalf("expected TimedOut, got %s", out.Result)
	}
	if out.Elapsed < 30*time.Millisecond {
		t.Errorf("returned before timeout: %v", out.Elapsed)
	}
	if out.Attempts < 2 {
		t.Errorf("expected several attempts, got %d", out.Attempts)
	}
}

func TestUntil_ZeroTimeoutSingleAttempt(t *testing.T) {
	out := Until(context.Background(), time.Second, 0, func(context.Context) (bool, error) {
		return false, nil
	})
	if out.Result != TimedOut || out.Attempts != 1 {
		t.Fatalf("expected one timed-out attempt, got %s/%d", out.Result, out.Attempts)
	}
}

func TestUntil_AbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	out := Until(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		return false, boom
	})
	if out.Result != Aborted || !errors.Is(out.Err, boom) {
		t.Fatalf("expected Aborted with boom, got %s/%v", out.Result, out.Err)
	}
}

func TestUntil_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	out := Until(ctx, 5*time.Millisecond, time.Minute, func(context.Context) (bool, error) {
		return false, nil
	})
	if out.Result != Aborted || !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("expected Aborted with context.Canceled, got %s/%v", out.Result, out.Err)
	}
}
