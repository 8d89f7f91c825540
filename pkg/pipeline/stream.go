package pipeline

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/janus/pkg/monitoring"
	"mercator-hq/janus/pkg/providers"
	"mercator-hq/janus/pkg/trace"
)

// ExecuteStream runs a streaming request. Retries and reroutes apply only
// before the first chunk reaches the client; once delivery has started a
// failure terminates the stream with an error chunk, and cancellation
// terminates it with a synthetic cancelled chunk.
func (e *Executor) ExecuteStream(ctx context.Context, ec *ExecutionContext, req *providers.CompletionRequest) (<-chan providers.StreamChunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, e.cancelled(ec, err)
		}

		if ec.Target == nil {
			target, err := e.router.Select(ec.VirtualModel, ec.Tried)
			if err != nil {
				resp, retry, finalErr := e.handleFailure(ctx, ec, req, err)
				if resp != nil {
					return e.replay(ctx, ec, resp), nil
				}
				if retry {
					continue
				}
				return nil, finalErr
			}
			ec.Target = target
		}

		outbound, err := e.forward(ctx, ec, req)
		if err == nil && ec.ReStreamRequired {
			// Target cannot stream: run the complete call and re-chunk.
			var resp *providers.CompletionResponse
			resp, err = e.completeForStream(ctx, ec, outbound)
			if err == nil {
				return e.replay(ctx, ec, resp), nil
			}
		} else if err == nil {
			var upstream <-chan providers.StreamChunk
			upstream, err = e.openStream(ctx, ec, outbound)
			if err == nil {
				return e.relay(ctx, ec, req, upstream), nil
			}
		}

		resp, retry, finalErr := e.handleFailure(ctx, ec, req, err)
		if resp != nil {
			return e.replay(ctx, ec, resp), nil
		}
		if retry {
			ec.ReStreamRequired = false
			continue
		}
		return nil, finalErr
	}
}

// completeForStream performs the non-streaming provider call and reverse
// pass for a downgraded streaming request.
func (e *Executor) completeForStream(ctx context.Context, ec *ExecutionContext, outbound *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	targetKey := ec.Target.Key()
	stats := e.router.Stats()
	stats.Acquire(targetKey)
	failed := true
	defer func() { stats.Release(targetKey, failed) }()

	provider, ok := e.registry.Get(ec.Target.Provider)
	if !ok {
		return nil, &providers.RouterError{
			ErrKind: providers.KindInternal,
			Message: fmt.Sprintf("no adapter registered for provider %s", ec.Target.Provider),
		}
	}

	start := time.Now()
	resp, err := provider.SendCompletion(ctx, outbound)
	if err != nil {
		return nil, err
	}
	e.capture(ec, "provider", trace.DirectionResponse, resp, time.Since(start))

	final, err := e.reverse(ctx, ec, resp)
	if err != nil {
		return nil, err
	}
	failed = false

	e.strategies.ObserveSuccess(e.attemptInfo(ec, outbound), final)
	e.monitor.RecordSuccess(targetKey, ec.Attempt > 1)
	return final, nil
}

// openStream opens the provider stream. Errors here happen before any chunk
// was delivered, so the caller may still retry.
func (e *Executor) openStream(ctx context.Context, ec *ExecutionContext, outbound *providers.CompletionRequest) (<-chan providers.StreamChunk, error) {
	provider, ok := e.registry.Get(ec.Target.Provider)
	if !ok {
		return nil, &providers.RouterError{
			ErrKind: providers.KindInternal,
			Message: fmt.Sprintf("no adapter registered for provider %s", ec.Target.Provider),
		}
	}
	return provider.StreamCompletion(ctx, outbound)
}

// relay copies upstream chunks to the client channel, handling mid-stream
// errors and cancellation. The target's in-flight slot is held until the
// stream terminates.
func (e *Executor) relay(ctx context.Context, ec *ExecutionContext, req *providers.CompletionRequest, upstream <-chan providers.StreamChunk) <-chan providers.StreamChunk {
	out := make(chan providers.StreamChunk)
	targetKey := ec.Target.Key()
	stats := e.router.Stats()
	stats.Acquire(targetKey)

	go func() {
		defer close(out)
		failed := false
		delivered := 0
		start := time.Now()

		defer func() {
			stats.Release(targetKey, failed)
			if !failed {
				e.monitor.RecordSuccess(targetKey, ec.Attempt > 1)
			}
			e.capture(ec, "provider", trace.DirectionChunk,
				map[string]interface{}{"chunks": delivered, "failed": failed},
				time.Since(start))
		}()

		for {
			select {
			case chunk, open := <-upstream:
				if !open {
					return
				}
				if chunk.Error != nil {
					failed = true
					e.monitor.Record(monitoring.NewErrorEvent("pipeline", targetKey, chunk.Error))
					e.strategies.Resolve(ctx, e.attemptInfo(ec, req), chunk.Error)
					e.emit(ctx, out, errorChunk(chunk, chunk.Error))
					return
				}
				delivered++
				if !e.emit(ctx, out, chunk) {
					failed = true
					return
				}
			case <-ctx.Done():
				e.emit(context.Background(), out, cancelledChunk(req))
				return
			}
		}
	}()
	return out
}

// replay emits a complete response as a simulated chunk stream.
func (e *Executor) replay(ctx context.Context, ec *ExecutionContext, resp *providers.CompletionResponse) <-chan providers.StreamChunk {
	chunks := SplitResponse(resp)
	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		for _, chunk := range chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				e.emit(context.Background(), out, cancelledChunk(nil))
				return
			}
		}
	}()
	return out
}

// emit sends a chunk unless the receiver or context went away.
func (e *Executor) emit(ctx context.Context, out chan<- providers.StreamChunk, chunk providers.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorChunk(last providers.StreamChunk, err error) providers.StreamChunk {
	return providers.StreamChunk{
		ID:           last.ID,
		Model:        last.Model,
		FinishReason: providers.FinishReasonError,
		Error:        err,
		Created:      time.Now().Unix(),
	}
}

func cancelledChunk(req *providers.CompletionRequest) providers.StreamChunk {
	model := ""
	if req != nil {
		model = req.Model
	}
	return providers.StreamChunk{
		Model:        model,
		FinishReason: providers.FinishReasonCancelled,
		Created:      time.Now().Unix(),
	}
}
