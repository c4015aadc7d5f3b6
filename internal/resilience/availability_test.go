package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
)

var errModelDown = errors.New("model down")

func newTestAvailability(threshold int, cooldown time.Duration) *AvailabilityBreaker {
	return NewAvailabilityBreaker("model-test", config.ModelBreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
	}, zap.NewNop())
}

func fail(b *AvailabilityBreaker, err error) error {
	_, got := b.Execute(func() (any, error) { return nil, err })
	return got
}

func succeed(b *AvailabilityBreaker) error {
	_, err := b.Execute(func() (any, error) { return "ok", nil })
	return err
}

func TestAvailabilityBreaker_Outcomes(t *testing.T) {
	tests := []struct {
		name          string
		threshold     int
		outcomes      []error
		wantAvailable bool
		wantFailures  int
	}{
		{
			name:          "below threshold",
			threshold:     3,
			outcomes:      []error{errModelDown, errModelDown},
			wantAvailable: true,
			wantFailures:  2,
		},
		{
			name:          "opens at threshold",
			threshold:     3,
			outcomes:      []error{errModelDown, errModelDown, errModelDown},
			wantAvailable: false,
			wantFailures:  3,
		},
		{
			name:          "success resets",
			threshold:     3,
			outcomes:      []error{errModelDown, errModelDown, nil, errModelDown, errModelDown},
			wantAvailable: true,
			wantFailures:  2,
		},
		{
			name:          "cancellation never trips",
			threshold:     3,
			outcomes:      []error{context.Canceled, context.Canceled, context.Canceled, context.Canceled},
			wantAvailable: true,
			wantFailures:  0,
		},
		{
			name:          "default threshold",
			threshold:     0,
			outcomes:      []error{errModelDown, errModelDown, errModelDown},
			wantAvailable: false,
			wantFailures:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestAvailability(tt.threshold, time.Minute)
			for _, outcome := range tt.outcomes {
				if got := fail(b, outcome); !errors.Is(got, outcome) {
					t.Fatalf("expected %v from the guarded call, got %v", outcome, got)
				}
			}

			state := b.State()
			if state.Available != tt.wantAvailable || b.IsAvailable() != tt.wantAvailable {
				t.Errorf("available = %v, want %v", state.Available, tt.wantAvailable)
			}
			if state.ConsecutiveFailures != tt.wantFailures {
				t.Errorf("consecutive failures = %d, want %d", state.ConsecutiveFailures, tt.wantFailures)
			}
		})
	}
}

func TestAvailabilityBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	b := newTestAvailability(3, time.Minute)
	for i := 0; i < 3; i++ {
		fail(b, errModelDown)
	}

	called := false
	_, err := b.Execute(func() (any, error) {
		called = true
		return nil, nil
	})
	if called {
		t.Error("open breaker ran the guarded call")
	}
	if !errors.Is(err, gobreaker.ErrOpenState) || !Rejected(err) {
		t.Errorf("expected open state rejection, got %v", err)
	}
	if got := b.State().ConsecutiveFailures; got != 3 {
		t.Errorf("a rejection must not count as a failure, got %d", got)
	}
}

func tripped(t *testing.T, cooldown time.Duration) *AvailabilityBreaker {
	t.Helper()
	b := newTestAvailability(3, cooldown)
	for i := 0; i < 3; i++ {
		fail(b, errModelDown)
	}
	if b.IsAvailable() {
		t.Fatal("expected open breaker before cooldown")
	}
	return b
}

func TestAvailabilityBreaker_SuccessfulTrialCloses(t *testing.T) {
	b := tripped(t, 30*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	if !b.IsAvailable() || !b.State().Available {
		t.Fatal("expected the breaker to report available once a trial is allowed")
	}

	if err := succeed(b); err != nil {
		t.Fatalf("trial call rejected: %v", err)
	}
	state := b.State()
	if !state.Available || state.ConsecutiveFailures != 0 {
		t.Errorf("successful trial should close the breaker, got %+v", state)
	}
}

func TestAvailabilityBreaker_FailedTrialReopens(t *testing.T) {
	b := tripped(t, 30*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	var concurrent error
	_, err := b.Execute(func() (any, error) {
		concurrent = succeed(b)
		return nil, errModelDown
	})
	if !errors.Is(err, errModelDown) {
		t.Fatalf("expected the trial to run, got %v", err)
	}
	if !errors.Is(concurrent, gobreaker.ErrTooManyRequests) {
		t.Errorf("expected a second call during the trial to be rejected, got %v", concurrent)
	}
	if b.IsAvailable() {
		t.Error("failed trial should re-open the breaker")
	}
	if got := b.State().ConsecutiveFailures; got != 4 {
		t.Errorf("expected 4 consecutive failures, got %d", got)
	}
}

func TestAvailabilityBreaker_ConcurrentUse(t *testing.T) {
	b := newTestAvailability(3, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				fail(b, errModelDown)
			} else {
				succeed(b)
			}
			b.State()
		}(i)
	}
	wg.Wait()
}
