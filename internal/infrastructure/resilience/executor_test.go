package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

func fastRetryConfig(attempts int) Config {
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(fastRetryConfig(3), nil)

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastRetryConfig(3), nil)

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}, nil)

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestClassifyHTTP(t *testing.T) {
	unavailable := &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}
	if c := ClassifyHTTP(unavailable); !c.Retryable || !c.RecordFailure {
		t.Fatalf("503 should be retryable: %+v", c)
	}
	badRequest := &HTTPStatusError{StatusCode: http.StatusBadRequest}
	if c := ClassifyHTTP(badRequest); c.Retryable || c.RecordFailure {
		t.Fatalf("400 should not be retried nor recorded: %+v", c)
	}
	if c := ClassifyHTTP(context.Canceled); c.Retryable || c.RecordFailure {
		t.Fatalf("cancellation should be ignored: %+v", c)
	}

	if err := WrapTemporary("extract", unavailable, ClassifyHTTP); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary wrap, got %v", err)
	}
	if err := WrapTemporary("extract", badRequest, ClassifyHTTP); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("400 must not be marked temporary")
	}
}

type observerFake struct {
	mu      sync.Mutex
	retries []string
	states  []string
}

func (o *observerFake) ObserveRetry(operation string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, operation)
}

func (o *observerFake) ObserveBreakerState(operation, state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, operation+":"+state)
}

func TestExecutorReportsRetriesAndBreakerStateToObserver(t *testing.T) {
	observer := &observerFake{}
	cfg := fastRetryConfig(2)
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 1
	cfg.BreakerFailureRatio = 1
	cfg.BreakerOpenTimeout = time.Minute
	exec := NewExecutor(cfg, nil).WithObserver(observer)

	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "export.export", func(context.Context) error {
		return errTemp
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected temporary error, got %v", err)
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.retries) != 1 || observer.retries[0] != "export.export" {
		t.Fatalf("expected one retry, got %v", observer.retries)
	}
	if len(observer.states) != 1 || observer.states[0] != "export.export:open" {
		t.Fatalf("expected breaker to open, got %v", observer.states)
	}
}

func TestWithoutRetryRunsOnce(t *testing.T) {
	exec := NewExecutor(fastRetryConfig(5).WithoutRetry(), nil)
	attempts := 0
	_ = exec.Execute(context.Background(), "intake_api.insert_documents", func(context.Context) error {
		attempts++
		return errors.New("down")
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}
