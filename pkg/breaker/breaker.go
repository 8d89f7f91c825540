package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
)

// State is the circuit state for one target.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// OpenError is returned when a request is rejected by an open circuit.
type OpenError struct {
	// Target is the rejected "provider/model" key.
	Target string

	// RetryAfter is how long until the circuit will probe again.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for target %q (retry in %s)", e.Target, e.RetryAfter)
}

// Kind implements providers.Kinder.
func (e *OpenError) Kind() providers.ErrorKind { return providers.KindCircuitOpen }

// Stats is a snapshot of one circuit's counters.
type Stats struct {
	State                State
	FailureCount         int
	SuccessCount         int
	RequestsInWindow     int
	HalfOpenAttempts     int
	LastFailureTime      time.Time
	LastStateChangeTime  time.Time
	ConsecutiveSuccesses int
}

// circuit is the per-target state machine. All transitions happen under mu,
// which serializes concurrent observers per the shared-resource policy.
type circuit struct {
	mu sync.Mutex

	state                State
	failureCount         int
	successCount         int
	requestsInWindow     int
	windowStart          time.Time
	halfOpenAttempts     int
	consecutiveSuccesses int
	lastFailureTime      time.Time
	lastStateChange      time.Time
}

// Registry manages per-target circuits, created lazily on first use.
type Registry struct {
	cfg    config.BreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	circuits map[string]*circuit
}

// NewRegistry creates a circuit registry with the given thresholds.
func NewRegistry(cfg config.BreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   slog.Default().With("component", "breaker"),
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// get returns the circuit for a target, creating it if needed.
func (r *Registry) get(target string) *circuit {
	r.mu.RLock()
	c, ok := r.circuits[target]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.circuits[target]; ok {
		return c
	}
	c = &circuit{
		state:           StateClosed,
		windowStart:     r.now(),
		lastStateChange: r.now(),
	}
	r.circuits[target] = c
	return c
}

// Allow reports whether a request may flow to the target.
// An OPEN circuit rejects with OpenError until the recovery timeout elapses,
// then transitions to HALF_OPEN and admits up to the configured probe budget.
func (r *Registry) Allow(target string) error {
	c := r.get(target)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := r.now()

	switch c.state {
	case StateClosed:
		c.rollWindow(now, r.cfg.Window)
		c.requestsInWindow++
		return nil

	case StateOpen:
		elapsed := now.Sub(c.lastStateChange)
		if elapsed < r.cfg.RecoveryTimeout {
			return &OpenError{
				Target:     target,
				RetryAfter: r.cfg.RecoveryTimeout - elapsed,
			}
		}
		// Recovery timeout elapsed: this caller becomes the first probe.
		c.transition(StateHalfOpen, now)
		c.halfOpenAttempts = 1
		c.consecutiveSuccesses = 0
		r.logger.Info("circuit half-open", "target", target)
		return nil

	case StateHalfOpen:
		if c.halfOpenAttempts >= r.cfg.HalfOpenAttempts {
			return &OpenError{Target: target, RetryAfter: r.cfg.RecoveryTimeout}
		}
		c.halfOpenAttempts++
		return nil

	default:
		return nil
	}
}

// RecordSuccess notifies the circuit of a successful call to the target.
// Delivered by the provider stage on every success so HALF_OPEN can advance.
func (r *Registry) RecordSuccess(target string) {
	c := r.get(target)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := r.now()
	c.successCount++

	switch c.state {
	case StateHalfOpen:
		c.consecutiveSuccesses++
		if c.consecutiveSuccesses >= r.cfg.SuccessThreshold {
			c.transition(StateClosed, now)
			c.failureCount = 0
			c.requestsInWindow = 0
			c.windowStart = now
			r.logger.Info("circuit closed", "target", target)
		}
	case StateClosed:
		// Successes do not decrement the failure count; the window roll does.
		c.rollWindow(now, r.cfg.Window)
	}
}

// RecordFailure notifies the circuit of a failed call to the target.
func (r *Registry) RecordFailure(target string) {
	c := r.get(target)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := r.now()
	c.lastFailureTime = now

	switch c.state {
	case StateClosed:
		c.rollWindow(now, r.cfg.Window)
		c.failureCount++
		if c.failureCount >= r.cfg.FailureThreshold && c.requestsInWindow >= r.cfg.VolumeThreshold {
			c.transition(StateOpen, now)
			r.logger.Warn("circuit opened",
				"target", target,
				"failures", c.failureCount,
				"window_requests", c.requestsInWindow,
			)
		}

	case StateHalfOpen:
		// Any probe failure re-opens and resets the recovery timer.
		c.transition(StateOpen, now)
		c.consecutiveSuccesses = 0
		r.logger.Warn("circuit re-opened by probe failure", "target", target)
	}
}

// State returns the current state for a target without mutating it.
func (r *Registry) State(target string) State {
	r.mu.RLock()
	c, ok := r.circuits[target]
	r.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the target's circuit currently rejects requests.
// Used by the router's reachability filter. A circuit past its recovery
// timeout is not considered open: the next Allow will admit a probe.
func (r *Registry) IsOpen(target string) bool {
	r.mu.RLock()
	c, ok := r.circuits[target]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return false
	}
	return r.now().Sub(c.lastStateChange) < r.cfg.RecoveryTimeout
}

// Snapshot returns a copy of the target's counters.
func (r *Registry) Snapshot(target string) Stats {
	c := r.get(target)
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		State:                c.state,
		FailureCount:         c.failureCount,
		SuccessCount:         c.successCount,
		RequestsInWindow:     c.requestsInWindow,
		HalfOpenAttempts:     c.halfOpenAttempts,
		LastFailureTime:      c.lastFailureTime,
		LastStateChangeTime:  c.lastStateChange,
		ConsecutiveSuccesses: c.consecutiveSuccesses,
	}
}

// Targets returns the keys of all circuits created so far.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]string, 0, len(r.circuits))
	for t := range r.circuits {
		targets = append(targets, t)
	}
	return targets
}

// transition changes state and stamps the change time. Caller holds c.mu.
func (c *circuit) transition(next State, now time.Time) {
	c.state = next
	c.lastStateChange = now
	if next == StateHalfOpen {
		c.halfOpenAttempts = 0
	}
}

// rollWindow resets window counters when the monitoring window has elapsed.
// Within a window the failure count is non-decreasing. Caller holds c.mu.
func (c *circuit) rollWindow(now time.Time, window time.Duration) {
	if now.Sub(c.windowStart) >= window {
		c.windowStart = now
		c.failureCount = 0
		c.requestsInWindow = 0
	}
}
