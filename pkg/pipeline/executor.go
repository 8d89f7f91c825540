package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/janus/pkg/monitoring"
	"mercator-hq/janus/pkg/providers"
	"mercator-hq/janus/pkg/routing"
	"mercator-hq/janus/pkg/strategy"
	"mercator-hq/janus/pkg/trace"
)

// Executor drives a request through the pipeline: target selection, the
// forward stage pass, the provider call, and the reverse stage pass. Failed
// attempts go through the strategy chain, which may retry the same target,
// reroute, resolve with a substitute response, or give up.
type Executor struct {
	router     *routing.Router
	registry   *providers.Registry
	stages     []Stage
	strategies *strategy.Manager
	monitor    *monitoring.Center
	tracker    *trace.Tracker
	logger     *slog.Logger
}

// NewExecutor assembles the executor. Stages run in the given order on the
// way out and in reverse on the way back.
func NewExecutor(router *routing.Router, registry *providers.Registry, stages []Stage, strategies *strategy.Manager, monitor *monitoring.Center, tracker *trace.Tracker) *Executor {
	return &Executor{
		router:     router,
		registry:   registry,
		stages:     stages,
		strategies: strategies,
		monitor:    monitor,
		tracker:    tracker,
		logger:     slog.Default().With("component", "pipeline.executor"),
	}
}

// Execute runs a complete (non-streaming) request to a terminal outcome.
func (e *Executor) Execute(ctx context.Context, ec *ExecutionContext, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, e.cancelled(ec, err)
		}

		if ec.Target == nil {
			target, err := e.router.Select(ec.VirtualModel, ec.Tried)
			if err != nil {
				resp, retry, finalErr := e.handleFailure(ctx, ec, req, err)
				if resp != nil {
					return resp, nil
				}
				if retry {
					continue
				}
				return nil, finalErr
			}
			ec.Target = target
		}

		resp, err := e.attempt(ctx, ec, req)
		if err == nil {
			e.strategies.ObserveSuccess(e.attemptInfo(ec, req), resp)
			e.monitor.RecordSuccess(ec.Target.Key(), ec.Attempt > 1)
			return resp, nil
		}

		resp, retry, finalErr := e.handleFailure(ctx, ec, req, err)
		if resp != nil {
			return resp, nil
		}
		if retry {
			continue
		}
		return nil, finalErr
	}
}

// attempt runs the forward stages, the provider call, and the reverse
// stages for the current target.
func (e *Executor) attempt(ctx context.Context, ec *ExecutionContext, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	targetKey := ec.Target.Key()
	stats := e.router.Stats()
	stats.Acquire(targetKey)
	failed := true
	defer func() { stats.Release(targetKey, failed) }()

	outbound, err := e.forward(ctx, ec, req)
	if err != nil {
		return nil, err
	}

	provider, ok := e.registry.Get(ec.Target.Provider)
	if !ok {
		return nil, &providers.RouterError{
			ErrKind: providers.KindInternal,
			Message: fmt.Sprintf("no adapter registered for provider %s", ec.Target.Provider),
		}
	}

	start := time.Now()
	resp, err := provider.SendCompletion(ctx, outbound)
	e.capture(ec, "provider", trace.DirectionRequest, outbound, time.Since(start))
	if err != nil {
		return nil, err
	}
	e.capture(ec, "provider", trace.DirectionResponse, resp, time.Since(start))

	final, err := e.reverse(ctx, ec, resp)
	if err != nil {
		return nil, err
	}
	failed = false
	return final, nil
}

// forward runs the stages toward the provider.
func (e *Executor) forward(ctx context.Context, ec *ExecutionContext, req *providers.CompletionRequest) (*providers.CompletionRequest, error) {
	current := req
	for _, stage := range e.stages {
		start := time.Now()
		next, err := stage.HandleRequest(ctx, ec, current)
		if err != nil {
			return nil, err
		}
		e.capture(ec, stage.Name(), trace.DirectionRequest, next, time.Since(start))
		current = next
	}
	return current, nil
}

// reverse runs the stages back toward the client, last stage first.
func (e *Executor) reverse(ctx context.Context, ec *ExecutionContext, resp *providers.CompletionResponse) (*providers.CompletionResponse, error) {
	current := resp
	for i := len(e.stages) - 1; i >= 0; i-- {
		stage := e.stages[i]
		start := time.Now()
		next, err := stage.HandleResponse(ctx, ec, current)
		if err != nil {
			return nil, err
		}
		e.capture(ec, stage.Name(), trace.DirectionResponse, next, time.Since(start))
		current = next
	}
	return current, nil
}

// handleFailure records the failure, consults the strategy chain, and
// translates the decision. Returns a substitute response, a retry signal,
// or the final error.
func (e *Executor) handleFailure(ctx context.Context, ec *ExecutionContext, req *providers.CompletionRequest, err error) (*providers.CompletionResponse, bool, error) {
	targetKey := ""
	if ec.Target != nil {
		targetKey = ec.Target.Key()
	}

	event := monitoring.NewErrorEvent("pipeline", targetKey, err)
	start := time.Now()
	decision := e.strategies.Resolve(ctx, e.attemptInfo(ec, req), err)
	event.HandlingTime = time.Since(start)
	event.RecoveryStrategy = decision.Strategy
	event.Recovered = decision.Action != strategy.ActionGiveUp
	e.monitor.Record(event)

	e.logger.Info("attempt failed",
		"request_id", ec.RequestID,
		"routing_id", ec.RoutingID,
		"virtual_model", ec.VirtualModel,
		"target", targetKey,
		"attempt", ec.Attempt,
		"error_kind", string(providers.KindOf(err)),
		"action", string(decision.Action),
	)

	switch decision.Action {
	case strategy.ActionRetrySameTarget:
		if !e.sleep(ctx, decision.Delay) {
			return nil, false, e.cancelled(ec, ctx.Err())
		}
		ec.Attempt++
		e.monitor.RecordRetryFailure(targetKey)
		return nil, true, nil

	case strategy.ActionRetryNewTarget:
		ec.MarkTried()
		ec.Target = nil
		ec.Attempt++
		e.monitor.RecordRetryFailure(targetKey)
		if !e.sleep(ctx, decision.Delay) {
			return nil, false, e.cancelled(ec, ctx.Err())
		}
		return nil, true, nil

	case strategy.ActionFallbackResult:
		e.monitor.RecordFallback(targetKey)
		return decision.Response, false, nil

	default:
		return nil, false, e.finalError(ec, err)
	}
}

func (e *Executor) attemptInfo(ec *ExecutionContext, req *providers.CompletionRequest) *strategy.Attempt {
	targetKey := ""
	if ec.Target != nil {
		targetKey = ec.Target.Key()
	}
	return &strategy.Attempt{
		VirtualModel: ec.VirtualModel,
		Target:       targetKey,
		Number:       ec.Attempt,
		Request:      req,
	}
}

// sleep waits the decision delay, returning false on cancellation.
func (e *Executor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Executor) cancelled(ec *ExecutionContext, cause error) error {
	return &providers.RouterError{
		ErrKind:          providers.KindCancelled,
		Message:          "request cancelled",
		AttemptedTargets: ec.TriedTargets(),
		Cause:            cause,
	}
}

// finalError wraps the terminal failure with the attempt history, unless it
// is already a RouterError carrying one.
func (e *Executor) finalError(ec *ExecutionContext, err error) error {
	var routerErr *providers.RouterError
	if errors.As(err, &routerErr) {
		if len(routerErr.AttemptedTargets) == 0 {
			routerErr.AttemptedTargets = ec.TriedTargets()
		}
		return routerErr
	}
	return &providers.RouterError{
		ErrKind:          providers.KindOf(err),
		Message:          err.Error(),
		AttemptedTargets: ec.TriedTargets(),
		Cause:            err,
	}
}

// capture records one stage boundary crossing in the tracker.
func (e *Executor) capture(ec *ExecutionContext, stage string, dir trace.Direction, payload interface{}, took time.Duration) {
	if e.tracker == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	provider, model := "", ""
	if ec.Target != nil {
		provider, model = ec.Target.Provider, ec.Target.Model
	}
	e.tracker.Capture(ec.SessionID, ec.RequestID, stage, dir, provider, model, raw, took)
}
