package scheduler

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/janus/pkg/breaker"
	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/monitoring"
	"mercator-hq/janus/pkg/pipeline"
	"mercator-hq/janus/pkg/protocol"
	"mercator-hq/janus/pkg/providers"
	"mercator-hq/janus/pkg/routing"
	"mercator-hq/janus/pkg/telemetry/metrics"
)

// streamFlushGrace bounds how long a cancelled stream's terminal chunk is
// held for a caller that may no longer be reading.
const streamFlushGrace = 100 * time.Millisecond

// Scheduler is the admission front door. It validates requests, bounds
// concurrency with a slot semaphore, applies the request timeout, and hands
// admitted requests to the pipeline executor. A slot is held until the
// request reaches a terminal outcome; for streams that is stream end or
// cancellation, not stream start.
type Scheduler struct {
	store    *config.Store
	executor *pipeline.Executor
	router   *routing.Router
	breakers *breaker.Registry
	monitor  *monitoring.Center
	metrics  *metrics.Collector
	registry *providers.Registry
	sem      chan struct{}
	logger   *slog.Logger
}

// New creates a scheduler with MaxConcurrency admission slots.
func New(store *config.Store, executor *pipeline.Executor, router *routing.Router, breakers *breaker.Registry, monitor *monitoring.Center, collector *metrics.Collector, registry *providers.Registry) *Scheduler {
	maxConcurrency := store.Current().Scheduler.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = config.DefaultMaxConcurrency
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		router:   router,
		breakers: breakers,
		monitor:  monitor,
		metrics:  collector,
		registry: registry,
		sem:      make(chan struct{}, maxConcurrency),
		logger:   slog.Default().With("component", "scheduler"),
	}
}

// Schedule admits and executes a complete (non-streaming) request.
func (s *Scheduler) Schedule(ctx context.Context, sessionID string, source protocol.Family, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	vm := req.Model
	if err := s.validate(ctx, req); err != nil {
		s.metrics.RecordRequest(vm, "rejected", 0)
		return nil, err
	}

	release, err := s.admit(ctx, vm)
	if err != nil {
		return nil, err
	}

	ec := pipeline.NewExecutionContext(sessionID, vm, source)
	execCtx, cancel := s.withRequestTimeout(ctx)
	start := time.Now()

	resp, err := s.executor.Execute(execCtx, ec, req)
	cancel()
	release()

	took := time.Since(start)
	if err != nil {
		s.metrics.RecordRequest(vm, "error", took)
		return nil, err
	}
	s.metrics.RecordRequest(vm, "success", took)
	s.metrics.RecordTokens(vm, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	s.logger.Info("request completed",
		"request_id", ec.RequestID,
		"virtual_model", vm,
		"target", ec.Target.Key(),
		"attempts", ec.Attempt,
		"duration_ms", took.Milliseconds(),
	)
	return resp, nil
}

// ScheduleStreaming admits and executes a streaming request. The admission
// slot is released when the returned channel closes.
func (s *Scheduler) ScheduleStreaming(ctx context.Context, sessionID string, source protocol.Family, req *providers.CompletionRequest) (<-chan providers.StreamChunk, error) {
	vm := req.Model
	if err := s.validate(ctx, req); err != nil {
		s.metrics.RecordRequest(vm, "rejected", 0)
		return nil, err
	}

	release, err := s.admit(ctx, vm)
	if err != nil {
		return nil, err
	}

	streamReq := req
	if !req.Stream {
		streamReq = req.Clone()
		streamReq.Stream = true
	}

	ec := pipeline.NewExecutionContext(sessionID, vm, source)
	execCtx, cancel := s.withRequestTimeout(ctx)
	start := time.Now()

	upstream, err := s.executor.ExecuteStream(execCtx, ec, streamReq)
	if err != nil {
		cancel()
		release()
		s.metrics.RecordRequest(vm, "error", time.Since(start))
		return nil, err
	}

	out := make(chan providers.StreamChunk)
	go func() {
		defer func() {
			cancel()
			release()
			s.metrics.RecordRequest(vm, "success", time.Since(start))
		}()
		defer close(out)
		for chunk := range upstream {
			select {
			case out <- chunk:
			case <-execCtx.Done():
				// The caller is gone or out of time. Give it a short grace
				// to take the terminal chunk, then stop delivering and
				// drain the upstream so the pipeline can wind down and the
				// admission slot frees.
				timer := time.NewTimer(streamFlushGrace)
				select {
				case out <- chunk:
					timer.Stop()
					continue
				case <-timer.C:
				}
				for range upstream {
				}
				return
			}
		}
	}()
	return out, nil
}

// validate rejects malformed requests before they consume a slot.
func (s *Scheduler) validate(ctx context.Context, req *providers.CompletionRequest) error {
	if err := ctx.Err(); err != nil {
		return &providers.RouterError{
			ErrKind: providers.KindCancelled,
			Message: "request deadline already elapsed",
			Cause:   err,
		}
	}
	if len(req.Messages) == 0 {
		return &providers.RouterError{
			ErrKind: providers.KindInvalidRequest,
			Message: "request has no messages",
		}
	}
	if s.store.Current().VirtualModel(req.Model) == nil {
		return &providers.RouterError{
			ErrKind: providers.KindUnknownModel,
			Message: "unknown virtual model " + req.Model,
		}
	}
	return nil
}

// admit acquires an admission slot, waiting at most the configured queue
// wait. The returned release function is idempotent.
func (s *Scheduler) admit(ctx context.Context, vm string) (func(), error) {
	queueWait := s.store.Current().Scheduler.QueueWait

	select {
	case s.sem <- struct{}{}:
	default:
		// Saturated: wait for a slot up to the queue wait budget.
		s.metrics.RecordQueueWait()
		timer := time.NewTimer(queueWait)
		defer timer.Stop()
		select {
		case s.sem <- struct{}{}:
		case <-timer.C:
			s.metrics.RecordBackpressure()
			s.metrics.RecordRequest(vm, "backpressure", queueWait)
			return nil, &providers.RouterError{
				ErrKind:    providers.KindBackpressure,
				Message:    "scheduler at capacity, no slot freed in time",
				RetryAfter: queueWait,
			}
		case <-ctx.Done():
			return nil, &providers.RouterError{
				ErrKind: providers.KindCancelled,
				Message: "cancelled while waiting for admission",
				Cause:   ctx.Err(),
			}
		}
	}

	s.metrics.AcquireSlot()
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-s.sem
		s.metrics.ReleaseSlot()
	}, nil
}

// withRequestTimeout bounds execution by the configured request timeout,
// keeping a caller deadline when it is sooner.
func (s *Scheduler) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.store.Current().Scheduler.RequestTimeout
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// InFlight returns the currently held slot count.
func (s *Scheduler) InFlight() int { return len(s.sem) }
