package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) Sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func testPolicy(max int) (Policy, *recordedSleeps) {
	rec := &recordedSleeps{}
	return Policy{
		MaxAttempts: max,
		BaseDelay:   100 * time.Millisecond,
		Logger:      zerolog.Nop(),
		Sleep:       rec.Sleep,
	}, rec
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	p, rec := testPolicy(3)
	calls := 0

	_, err := Do(context.Background(), p, "op", func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d failed", calls)
	})

	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if err == nil || err.Error() != "attempt 3 failed" {
		t.Errorf("expected last attempt's error, got %v", err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, rec.delays[i], want[i])
		}
	}
}

func TestDo_StopsOnSuccess(t *testing.T) {
	for m := 1; m <= 3; m++ {
		t.Run(fmt.Sprintf("succeeds on attempt %d", m), func(t *testing.T) {
			p, _ := testPolicy(3)
			calls := 0
			v, err := Do(context.Background(), p, "op", func(context.Context) (string, error) {
				calls++
				if calls < m {
					return "", errors.New("transient")
				}
				return "ok", nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v != "ok" {
				t.Errorf("Do() = %q, want ok", v)
			}
			if calls != m {
				t.Errorf("expected %d calls, got %d", m, calls)
			}
		})
	}
}

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	p, rec := testPolicy(5)
	sentinel := errors.New("no such row")
	calls := 0

	err := Run(context.Background(), p, "op", func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel error, got %v", err)
	}
	if len(rec.delays) != 0 {
		t.Errorf("expected no sleeps, got %v", rec.delays)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	p, _ := testPolicy(0)
	calls := 0
	_ = Run(context.Background(), p, "op", func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour, Logger: zerolog.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Run(ctx, p, "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("first failure")
	})

	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
	if err == nil || err.Error() != "first failure" {
		t.Errorf("expected the attempt's error, got %v", err)
	}
}
