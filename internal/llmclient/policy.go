// File: internal/llmclient/policy.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// apiError carries the HTTP status of a failed backend call so the retry
// loop can tell transient conditions (429, 5xx) from permanent ones.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("model API error: status %d, body: %s", e.Status, e.Body)
}

// retryable reports whether the error is worth another attempt.
func retryable(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return true
		default:
			return false
		}
	}
	// Network-level failures (timeouts, resets) are transient.
	return true
}

// callPolicy is the shared resource policy for every model call in a run:
// a process-wide minimum inter-call delay and a bounded exponential backoff
// on transient failures. One policy instance lives inside the single client
// value shared by the planner, supervisor, and vision analyzer.
type callPolicy struct {
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
	logger      *zap.Logger

	// sleep is injectable so tests can observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error

	calls atomic.Int64
}

func newCallPolicy(minCallDelay time.Duration, maxRetries int, backoffBase time.Duration, logger *zap.Logger) *callPolicy {
	limit := rate.Inf
	if minCallDelay > 0 {
		limit = rate.Every(minCallDelay)
	}
	return &callPolicy{
		limiter:     rate.NewLimiter(limit, 1),
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// run executes op as an explicit bounded retry loop. Each attempt first waits
// on the shared limiter; a transient failure sleeps base*2^attempt before the
// next attempt. Exhausting the budget returns the last error so the caller
// can degrade to its fallback.
func (p *callPolicy) run(ctx context.Context, op func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", err
		}
		p.calls.Add(1)

		text, err := op(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !retryable(err) {
			return "", err
		}

		delay := p.backoffDelay(attempt)
		p.logger.Warn("Transient model backend failure, backing off",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.maxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("model call failed after %d attempts: %w", p.maxRetries, lastErr)
}

// backoffDelay computes base*2^attempt.
func (p *callPolicy) backoffDelay(attempt int) time.Duration {
	return p.backoffBase << uint(attempt)
}

// Calls returns the number of backend attempts made so far.
func (p *callPolicy) Calls() int64 { return p.calls.Load() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
