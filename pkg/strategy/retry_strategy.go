package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
)

// RetryStrategy retries transient failures with capped exponential backoff.
// Failures retry the same target first; rate limits and server unavailability
// that persist across MaxAttempts consecutive failures on one target reroute
// so the next attempt does not land on the target that keeps failing. A
// success on a target clears its streak.
type RetryStrategy struct {
	cfg config.RetryConfig

	mu      sync.Mutex
	streaks map[string]int
}

// NewRetryStrategy creates a retry strategy with the given settings.
func NewRetryStrategy(cfg config.RetryConfig) *RetryStrategy {
	return &RetryStrategy{cfg: cfg, streaks: make(map[string]int)}
}

// Name returns the strategy identifier.
func (s *RetryStrategy) Name() string { return "retry" }

// Priority places retry after the circuit breaker.
func (s *RetryStrategy) Priority() int { return 1 }

// ObserveFailure extends the target's consecutive-failure streak. Only
// transient kinds count; terminal failures never reach Handle here.
func (s *RetryStrategy) ObserveFailure(att *Attempt, err error) {
	if att.Target == "" || !providers.KindOf(err).IsTransient() {
		return
	}
	s.mu.Lock()
	s.streaks[att.Target]++
	s.mu.Unlock()
}

// ObserveSuccess clears the target's streak.
func (s *RetryStrategy) ObserveSuccess(att *Attempt, _ *providers.CompletionResponse) {
	s.mu.Lock()
	delete(s.streaks, att.Target)
	s.mu.Unlock()
}

// CanHandle claims transient failures with budget remaining. Rate limits and
// unavailability are claimed even at the attempt budget so the target can be
// rotated instead of giving up.
func (s *RetryStrategy) CanHandle(att *Attempt, err error) bool {
	kind := providers.KindOf(err)
	if !kind.IsTransient() {
		return false
	}
	if rotates(kind) {
		return true
	}
	return att.Number < s.cfg.MaxAttempts
}

// Handle computes the backoff delay and picks same-target or new-target. A
// failure kind that indicates target-specific trouble rotates once it has
// persisted across MaxAttempts consecutive failures on the target; until
// then the same target is retried with backoff. A provider-supplied
// Retry-After hint overrides a shorter computed delay.
func (s *RetryStrategy) Handle(_ context.Context, att *Attempt, err error) Decision {
	kind := providers.KindOf(err)
	streak := s.streak(att.Target)

	if rotates(kind) && streak >= s.cfg.MaxAttempts {
		s.reset(att.Target)
		return Decision{
			Action:   ActionRetryNewTarget,
			Strategy: s.Name(),
			Reason:   fmt.Sprintf("%s persisted across %d attempts on %s", kind, streak, att.Target),
		}
	}

	delay := s.backoff(streak)
	if hint := retryAfterHint(err); hint > delay {
		delay = hint
	}

	return Decision{
		Action:   ActionRetrySameTarget,
		Delay:    delay,
		Strategy: s.Name(),
		Reason:   fmt.Sprintf("attempt %d/%d failed with %s", att.Number, s.cfg.MaxAttempts, kind),
	}
}

// rotates reports whether the kind indicates the target itself is the
// problem, warranting rotation once retries on it are exhausted.
func rotates(kind providers.ErrorKind) bool {
	return kind == providers.KindRateLimited || kind == providers.KindProviderUnavailable
}

func (s *RetryStrategy) streak(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaks[target]
}

func (s *RetryStrategy) reset(target string) {
	s.mu.Lock()
	delete(s.streaks, target)
	s.mu.Unlock()
}

// backoff returns base * multiplier^(attempt-1), capped, with optional
// jitter in [0.5, 1.0] of the computed delay.
func (s *RetryStrategy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(s.cfg.BaseDelay) * math.Pow(s.cfg.Multiplier, float64(attempt-1)))
	if delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}
	if s.cfg.Jitter && delay > 0 {
		factor := 0.5 + rand.Float64()*0.5
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

func retryAfterHint(err error) time.Duration {
	var routerErr *providers.RouterError
	if errors.As(err, &routerErr) && routerErr.RetryAfter > 0 {
		return routerErr.RetryAfter
	}
	var rateErr *providers.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
		return rateErr.RetryAfter
	}
	return 0
}
