package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/monitoring"
	"mercator-hq/janus/pkg/protocol"
	"mercator-hq/janus/pkg/providers"
	"mercator-hq/janus/pkg/routing"
	"mercator-hq/janus/pkg/strategy"
)

// fakeProvider returns scripted results in order; the last one repeats.
type fakeProvider struct {
	name    string
	family  string
	mu      sync.Mutex
	calls   int
	results []fakeResult

	streamChunks []providers.StreamChunk
	streamErr    error
}

type fakeResult struct {
	resp *providers.CompletionResponse
	err  error
}

func (p *fakeProvider) SendCompletion(_ context.Context, _ *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	p.calls++
	r := p.results[idx]
	return r.resp, r.err
}

func (p *fakeProvider) StreamCompletion(_ context.Context, _ *providers.CompletionRequest) (<-chan providers.StreamChunk, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		for _, chunk := range p.streamChunks {
			out <- chunk
		}
	}()
	return out, nil
}

func (p *fakeProvider) HealthCheck(_ context.Context) providers.HealthCheckResult {
	return providers.HealthCheckResult{Healthy: true}
}

func (p *fakeProvider) GetName() string { return p.name }
func (p *fakeProvider) GetFamily() string { return p.family }
func (p *fakeProvider) GetConfig() providers.ProviderConfig {
	return providers.ProviderConfig{Name: p.name, Family: p.family}
}
func (p *fakeProvider) IsHealthy() bool { return true }
func (p *fakeProvider) GetHealth() providers.ProviderHealth {
	return providers.ProviderHealth{IsHealthy: true}
}
func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func okResponse(content string) *providers.CompletionResponse {
	return &providers.CompletionResponse{
		ID:           "resp-1",
		Model:        "m",
		Content:      content,
		FinishReason: providers.FinishReasonStop,
	}
}

func unavailable(provider string) error {
	return &providers.ProviderError{Provider: provider, StatusCode: 503, Message: "upstream down"}
}

type testHarness struct {
	executor *Executor
	router   *routing.Router
	monitor  *monitoring.Center
}

func newHarness(t *testing.T, vm *config.VirtualModel, fakes []*fakeProvider, stages []Stage, strategies ...strategy.Strategy) *testHarness {
	t.Helper()

	specs := make(map[string]*config.ProviderSpec, len(fakes))
	registry := providers.NewRegistry()
	for _, p := range fakes {
		specs[p.name] = &config.ProviderSpec{ID: p.name, Family: p.family, SupportsStreaming: true}
		registry.Register(p)
	}
	store := config.NewStore(&config.Snapshot{
		VirtualModels: map[string]*config.VirtualModel{vm.ID: vm},
		Providers:     specs,
		Scheduler:     config.SchedulerConfig{DefaultPolicy: "round-robin"},
	})

	router := routing.NewRouter(store, nil, routing.NewPolicySet(nil, 50), routing.NewStatsRegistry())
	monitor := monitoring.NewCenter(config.MonitoringConfig{QueueCapacity: 16, HealthWindow: time.Hour})
	t.Cleanup(monitor.Close)

	return &testHarness{
		executor: NewExecutor(router, registry, stages, strategy.NewManager(strategies...), monitor, nil),
		router:   router,
		monitor:  monitor,
	}
}

func priorityVM(targets ...config.Target) *config.VirtualModel {
	return &config.VirtualModel{ID: "vm", Policy: "priority", Targets: targets}
}

func target(provider string, priority int) config.Target {
	return config.Target{Provider: provider, Model: "m", Weight: 1, Priority: priority, Status: config.TargetActive}
}

func retryStrategy(maxAttempts int) strategy.Strategy {
	return strategy.NewRetryStrategy(config.RetryConfig{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
	})
}

func TestExecuteSuccess(t *testing.T) {
	p := &fakeProvider{name: "openai-main", family: "openai",
		results: []fakeResult{{resp: okResponse("hello")}}}
	h := newHarness(t, priorityVM(target("openai-main", 1)), []*fakeProvider{p}, nil)

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	resp, err := h.executor.Execute(context.Background(), ec, &providers.CompletionRequest{Model: "vm"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q", resp.Content)
	}
	if p.callCount() != 1 {
		t.Errorf("provider called %d times", p.callCount())
	}

	stats := h.router.Stats().Get("openai-main/m")
	if got := stats.ActiveConnections.Load(); got != 0 {
		t.Errorf("active connections after success = %d", got)
	}
	if got := stats.Failures.Load(); got != 0 {
		t.Errorf("failures after success = %d", got)
	}
}

func TestExecuteReroutesOnTransientFailure(t *testing.T) {
	bad := &fakeProvider{name: "openai-main", family: "openai",
		results: []fakeResult{{err: unavailable("openai-main")}}}
	good := &fakeProvider{name: "anthropic-main", family: "openai",
		results: []fakeResult{{resp: okResponse("recovered")}}}
	h := newHarness(t,
		priorityVM(target("openai-main", 1), target("anthropic-main", 2)),
		[]*fakeProvider{bad, good}, nil, retryStrategy(1))

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	resp, err := h.executor.Execute(context.Background(), ec, &providers.CompletionRequest{Model: "vm"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q", resp.Content)
	}
	if bad.callCount() != 1 || good.callCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", bad.callCount(), good.callCount())
	}
	if ec.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", ec.Attempt)
	}
	if !ec.Tried["openai-main/m"] {
		t.Error("failed target not marked tried")
	}
}

func TestExecuteGivesUpOnClientError(t *testing.T) {
	p := &fakeProvider{name: "openai-main", family: "openai",
		results: []fakeResult{{err: &providers.ProviderError{Provider: "openai-main", StatusCode: 400, Message: "bad request"}}}}
	h := newHarness(t, priorityVM(target("openai-main", 1)), []*fakeProvider{p}, nil, retryStrategy(3))

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	_, err := h.executor.Execute(context.Background(), ec, &providers.CompletionRequest{Model: "vm"})
	if providers.KindOf(err) != providers.KindInvalidRequest {
		t.Fatalf("err = %v, want invalid_request", err)
	}
	if p.callCount() != 1 {
		t.Errorf("client error retried: %d calls", p.callCount())
	}
}

func TestExecuteExhaustsTargets(t *testing.T) {
	p := &fakeProvider{name: "openai-main", family: "openai",
		results: []fakeResult{{err: unavailable("openai-main")}}}
	h := newHarness(t, priorityVM(target("openai-main", 1)), []*fakeProvider{p}, nil, retryStrategy(3))

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	_, err := h.executor.Execute(context.Background(), ec, &providers.CompletionRequest{Model: "vm"})
	if providers.KindOf(err) != providers.KindExhaustedTargets {
		t.Fatalf("err = %v, want exhausted_targets", err)
	}

	// The sole target gets its full retry budget before rotation exhausts
	// the pool; a persistent 503 must not skip the in-place retries.
	if p.callCount() != 3 {
		t.Errorf("provider called %d times, want 3", p.callCount())
	}
}

func TestExecuteDegradedFallback(t *testing.T) {
	p := &fakeProvider{name: "openai-main", family: "openai",
		results: []fakeResult{{err: unavailable("openai-main")}}}
	fallback := strategy.NewFallbackStrategy(config.FallbackConfig{EnableDegraded: true}, nil)
	h := newHarness(t, priorityVM(target("openai-main", 1)), []*fakeProvider{p}, nil,
		retryStrategy(3), fallback)

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	resp, err := h.executor.Execute(context.Background(), ec, &providers.CompletionRequest{Model: "vm"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Metadata["degraded"] != "true" {
		t.Errorf("Metadata = %v, want degraded marker", resp.Metadata)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	p := &fakeProvider{name: "openai-main", family: "openai",
		results: []fakeResult{{resp: okResponse("never")}}}
	h := newHarness(t, priorityVM(target("openai-main", 1)), []*fakeProvider{p}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	_, err := h.executor.Execute(ctx, ec, &providers.CompletionRequest{Model: "vm"})
	if providers.KindOf(err) != providers.KindCancelled {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if p.callCount() != 0 {
		t.Error("provider called despite cancelled context")
	}
}

// recordingStage appends its name to a shared log on each pass.
type recordingStage struct {
	name string
	log  *[]string
}

func (s *recordingStage) Name() string { return s.name }

func (s *recordingStage) HandleRequest(_ context.Context, _ *ExecutionContext, req *providers.CompletionRequest) (*providers.CompletionRequest, error) {
	*s.log = append(*s.log, s.name+":request")
	return req, nil
}

func (s *recordingStage) HandleResponse(_ context.Context, _ *ExecutionContext, resp *providers.CompletionResponse) (*providers.CompletionResponse, error) {
	*s.log = append(*s.log, s.name+":response")
	return resp, nil
}

func TestExecuteStageOrder(t *testing.T) {
	var log []string
	stages := []Stage{
		&recordingStage{name: "protocol", log: &log},
		&recordingStage{name: "compat", log: &log},
	}
	p := &fakeProvider{name: "openai-main", family: "openai",
		results: []fakeResult{{resp: okResponse("ok")}}}
	h := newHarness(t, priorityVM(target("openai-main", 1)), []*fakeProvider{p}, stages)

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	if _, err := h.executor.Execute(context.Background(), ec, &providers.CompletionRequest{Model: "vm"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []string{"protocol:request", "compat:request", "compat:response", "protocol:response"}
	if len(log) != len(want) {
		t.Fatalf("stage log = %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("stage log = %v, want %v", log, want)
		}
	}
}

func TestExecutionContextLifecycle(t *testing.T) {
	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	if ec.SessionID == "" || ec.RequestID == "" || ec.RoutingID == "" {
		t.Error("ids not generated")
	}
	if ec.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", ec.Attempt)
	}

	kept := NewExecutionContext("client-session", "vm", protocol.FamilyOpenAI)
	if kept.SessionID != "client-session" {
		t.Errorf("SessionID = %q, want client-session", kept.SessionID)
	}

	ec.Target = &config.Target{Provider: "p", Model: "m"}
	ec.MarkTried()
	if !ec.Tried["p/m"] {
		t.Error("MarkTried did not record the target")
	}
	if got := ec.TriedTargets(); len(got) != 1 || got[0] != "p/m" {
		t.Errorf("TriedTargets = %v", got)
	}

	ec.Warn("something odd")
	if len(ec.Warnings) != 1 {
		t.Errorf("Warnings = %v", ec.Warnings)
	}
}

func workflowContext(provider string) *ExecutionContext {
	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	ec.Target = &config.Target{Provider: provider, Model: "m"}
	return ec
}

func workflowStore(spec *config.ProviderSpec) *config.Store {
	return config.NewStore(&config.Snapshot{
		Providers: map[string]*config.ProviderSpec{spec.ID: spec},
	})
}

func TestWorkflowStageDowngradesStreaming(t *testing.T) {
	stage := NewWorkflowStage(workflowStore(&config.ProviderSpec{
		ID: "openai-main", Family: "openai", SupportsStreaming: false,
	}))
	ec := workflowContext("openai-main")
	req := &providers.CompletionRequest{Model: "vm", Stream: true}

	out, err := stage.HandleRequest(context.Background(), ec, req)
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if out.Stream {
		t.Error("request still marked streaming")
	}
	if !req.Stream {
		t.Error("admitted request mutated in place")
	}
	if !ec.ReStreamRequired {
		t.Error("re-stream flag not set")
	}
	if len(ec.Warnings) == 0 {
		t.Error("downgrade produced no warning")
	}
}

func TestWorkflowStageKeepsStreamingWhenSupported(t *testing.T) {
	stage := NewWorkflowStage(workflowStore(&config.ProviderSpec{
		ID: "openai-main", Family: "openai", SupportsStreaming: true,
	}))
	ec := workflowContext("openai-main")
	req := &providers.CompletionRequest{Model: "vm", Stream: true}

	out, err := stage.HandleRequest(context.Background(), ec, req)
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if out != req {
		t.Error("supported streaming request was copied")
	}
	if ec.ReStreamRequired {
		t.Error("re-stream flag set for a streaming target")
	}
}

func TestWorkflowStageCapsMaxTokens(t *testing.T) {
	stage := NewWorkflowStage(workflowStore(&config.ProviderSpec{
		ID: "openai-main", Family: "openai", SupportsStreaming: true, MaxTokensLimit: 1000,
	}))
	ec := workflowContext("openai-main")

	out, err := stage.HandleRequest(context.Background(), ec, &providers.CompletionRequest{Model: "vm", MaxTokens: 5000})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if out.MaxTokens != 1000 {
		t.Errorf("MaxTokens = %d, want capped to 1000", out.MaxTokens)
	}

	under, err := stage.HandleRequest(context.Background(), ec, &providers.CompletionRequest{Model: "vm", MaxTokens: 100})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if under.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d, want untouched", under.MaxTokens)
	}
}

func TestWorkflowStageUnknownProvider(t *testing.T) {
	stage := NewWorkflowStage(workflowStore(&config.ProviderSpec{ID: "other"}))
	ec := workflowContext("missing")

	_, err := stage.HandleRequest(context.Background(), ec, &providers.CompletionRequest{Model: "vm"})
	if providers.KindOf(err) != providers.KindInternal {
		t.Errorf("err = %v, want internal", err)
	}
}

func TestProtocolStageIdentity(t *testing.T) {
	store := workflowStore(&config.ProviderSpec{ID: "openai-main", Family: "openai"})
	stage := NewProtocolStage(store, protocol.NewRegistry())
	ec := workflowContext("openai-main")

	req := &providers.CompletionRequest{Model: "vm", Messages: []providers.Message{{Role: "user", Content: "hi"}}}
	out, err := stage.HandleRequest(context.Background(), ec, req)
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if out != req {
		t.Error("identity conversion copied the request")
	}
}

func TestProtocolStageFoldsSystemMessages(t *testing.T) {
	store := workflowStore(&config.ProviderSpec{ID: "anthropic-main", Family: "anthropic"})
	stage := NewProtocolStage(store, protocol.NewRegistry())
	ec := workflowContext("anthropic-main")

	req := &providers.CompletionRequest{
		Model: "vm",
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: "first rule"},
			{Role: providers.RoleSystem, Content: "second rule"},
			{Role: providers.RoleUser, Content: "hi"},
		},
	}
	out, err := stage.HandleRequest(context.Background(), ec, req)
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	systems := 0
	for _, m := range out.Messages {
		if m.Role == providers.RoleSystem {
			systems++
		}
	}
	if systems != 1 {
		t.Errorf("system messages after fold = %d, want 1", systems)
	}
	if len(ec.Warnings) == 0 {
		t.Error("multi-system fold produced no warning")
	}
}

func TestCompatStageAppliesMappings(t *testing.T) {
	store := config.NewStore(&config.Snapshot{
		Providers: map[string]*config.ProviderSpec{"openai-main": {ID: "openai-main", Family: "openai"}},
		Mappings: map[string]*config.MappingTable{
			"openai-main": {
				Provider:              "openai-main",
				PreserveUnknownFields: true,
				Request: []config.FieldMapping{
					{Source: "model", Target: "model", Transform: &config.TransformSpec{
						Name: "string_transform", Op: "prefix", Value: "prod-",
					}},
				},
			},
		},
	})
	stage := NewCompatStage(store)
	ec := workflowContext("openai-main")

	out, err := stage.HandleRequest(context.Background(), ec, &providers.CompletionRequest{
		Model:    "gpt-4",
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if out.Model != "prod-gpt-4" {
		t.Errorf("Model = %q, want prod-gpt-4", out.Model)
	}
	if len(out.Messages) != 1 {
		t.Errorf("unmapped fields dropped: %+v", out)
	}
}

func TestCompatStageDropsStaleMappersOnReload(t *testing.T) {
	snapshotWith := func(prefix string) *config.Snapshot {
		return &config.Snapshot{
			VirtualModels: map[string]*config.VirtualModel{
				"vm": priorityVM(target("openai-main", 1)),
			},
			Providers: map[string]*config.ProviderSpec{
				"openai-main": {
					ID: "openai-main", Family: "openai", BaseURL: "http://example.test",
					Auth: config.AuthDescriptor{Scheme: "none"},
				},
			},
			Scheduler: config.SchedulerConfig{DefaultPolicy: "round-robin"},
			Mappings: map[string]*config.MappingTable{
				"openai-main": {
					Provider:              "openai-main",
					PreserveUnknownFields: true,
					Request: []config.FieldMapping{
						{Source: "model", Target: "model", Transform: &config.TransformSpec{
							Name: "string_transform", Op: "prefix", Value: prefix,
						}},
					},
				},
			},
		}
	}

	store := config.NewStore(snapshotWith("v0-"))
	stage := NewCompatStage(store)
	ec := workflowContext("openai-main")

	for i := 1; i <= 5; i++ {
		prefix := fmt.Sprintf("v%d-", i)
		if err := store.Swap(snapshotWith(prefix)); err != nil {
			t.Fatalf("Swap #%d: %v", i, err)
		}
		out, err := stage.HandleRequest(context.Background(), ec, &providers.CompletionRequest{
			Model:    "gpt-4",
			Messages: []providers.Message{{Role: "user", Content: "hi"}},
		})
		if err != nil {
			t.Fatalf("HandleRequest after swap #%d: %v", i, err)
		}
		if out.Model != prefix+"gpt-4" {
			t.Errorf("Model = %q, want %s applied", out.Model, prefix)
		}
	}

	stage.mu.Lock()
	cached := len(stage.mappers)
	stage.mu.Unlock()
	if cached != 1 {
		t.Errorf("mapper cache holds %d tables after reloads, want 1", cached)
	}
}

func TestCompatStageNoTablePassesThrough(t *testing.T) {
	store := config.NewStore(&config.Snapshot{
		Providers: map[string]*config.ProviderSpec{"openai-main": {ID: "openai-main", Family: "openai"}},
	})
	stage := NewCompatStage(store)
	ec := workflowContext("openai-main")

	req := &providers.CompletionRequest{Model: "gpt-4"}
	out, err := stage.HandleRequest(context.Background(), ec, req)
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if out.Model != "gpt-4" {
		t.Errorf("Model = %q", out.Model)
	}
}

func collectChunks(t *testing.T, stream <-chan providers.StreamChunk) []providers.StreamChunk {
	t.Helper()
	var out []providers.StreamChunk
	deadline := time.After(2 * time.Second)
	for {
		select {
		case chunk, open := <-stream:
			if !open {
				return out
			}
			out = append(out, chunk)
		case <-deadline:
			t.Fatalf("stream did not close; got %d chunks", len(out))
		}
	}
}

func TestExecuteStreamRelaysChunks(t *testing.T) {
	p := &fakeProvider{name: "openai-main", family: "openai",
		streamChunks: []providers.StreamChunk{
			{ID: "r1", Delta: "Hel"},
			{ID: "r1", Delta: "lo", FinishReason: providers.FinishReasonStop},
		}}
	h := newHarness(t, priorityVM(target("openai-main", 1)), []*fakeProvider{p}, nil)

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	stream, err := h.executor.ExecuteStream(context.Background(), ec, &providers.CompletionRequest{Model: "vm", Stream: true})
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}

	chunks := collectChunks(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Delta+chunks[1].Delta != "Hello" {
		t.Errorf("content = %q", chunks[0].Delta+chunks[1].Delta)
	}
	if chunks[1].FinishReason != providers.FinishReasonStop {
		t.Errorf("final FinishReason = %q", chunks[1].FinishReason)
	}

	// The target's in-flight slot is released when the stream ends.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.router.Stats().Get("openai-main/m").ActiveConnections.Load() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("stream slot never released")
}

func TestExecuteStreamMidStreamError(t *testing.T) {
	p := &fakeProvider{name: "openai-main", family: "openai",
		streamChunks: []providers.StreamChunk{
			{ID: "r1", Delta: "partial"},
			{ID: "r1", Error: unavailable("openai-main")},
		}}
	h := newHarness(t, priorityVM(target("openai-main", 1)), []*fakeProvider{p}, nil)

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	stream, err := h.executor.ExecuteStream(context.Background(), ec, &providers.CompletionRequest{Model: "vm", Stream: true})
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}

	chunks := collectChunks(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want delivered chunk plus error chunk", len(chunks))
	}
	last := chunks[len(chunks)-1]
	if last.FinishReason != providers.FinishReasonError || last.Error == nil {
		t.Errorf("terminal chunk = %+v", last)
	}
}

func TestExecuteStreamReroutesBeforeFirstChunk(t *testing.T) {
	bad := &fakeProvider{name: "openai-main", family: "openai",
		streamErr: unavailable("openai-main")}
	good := &fakeProvider{name: "anthropic-main", family: "openai",
		streamChunks: []providers.StreamChunk{
			{ID: "r1", Delta: "ok", FinishReason: providers.FinishReasonStop},
		}}
	h := newHarness(t,
		priorityVM(target("openai-main", 1), target("anthropic-main", 2)),
		[]*fakeProvider{bad, good}, nil, retryStrategy(1))

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	stream, err := h.executor.ExecuteStream(context.Background(), ec, &providers.CompletionRequest{Model: "vm", Stream: true})
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}

	chunks := collectChunks(t, stream)
	if len(chunks) != 1 || chunks[0].Delta != "ok" {
		t.Errorf("chunks = %+v", chunks)
	}
	if bad.callCount() != 1 {
		t.Errorf("failing provider called %d times", bad.callCount())
	}
}

func TestExecuteStreamRechunksNonStreamingTarget(t *testing.T) {
	content := strings.Repeat("word after word ", 40)
	p := &fakeProvider{name: "openai-main", family: "openai",
		results: []fakeResult{{resp: okResponse(content)}}}

	registry := providers.NewRegistry()
	registry.Register(p)
	store := config.NewStore(&config.Snapshot{
		VirtualModels: map[string]*config.VirtualModel{"vm": priorityVM(target("openai-main", 1))},
		Providers: map[string]*config.ProviderSpec{
			"openai-main": {ID: "openai-main", Family: "openai", SupportsStreaming: false},
		},
		Scheduler: config.SchedulerConfig{DefaultPolicy: "round-robin"},
	})
	router := routing.NewRouter(store, nil, routing.NewPolicySet(nil, 50), routing.NewStatsRegistry())
	monitor := monitoring.NewCenter(config.MonitoringConfig{QueueCapacity: 16, HealthWindow: time.Hour})
	t.Cleanup(monitor.Close)
	executor := NewExecutor(router, registry, []Stage{NewWorkflowStage(store)}, strategy.NewManager(), monitor, nil)

	ec := NewExecutionContext("", "vm", protocol.FamilyOpenAI)
	stream, err := executor.ExecuteStream(context.Background(), ec, &providers.CompletionRequest{Model: "vm", Stream: true})
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}

	chunks := collectChunks(t, stream)
	if len(chunks) < 2 {
		t.Fatalf("re-chunked stream produced %d chunks", len(chunks))
	}
	if got := JoinChunks(chunks).Content; got != content {
		t.Error("re-chunked stream does not reassemble the response")
	}
	if chunks[len(chunks)-1].FinishReason == "" {
		t.Error("final chunk missing finish reason")
	}
}

func TestSplitResponseSingleChunk(t *testing.T) {
	resp := &providers.CompletionResponse{
		ID:           "r1",
		Model:        "m",
		Content:      "short answer",
		FinishReason: providers.FinishReasonStop,
		Usage:        providers.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		ToolCalls:    []providers.ToolCall{{ID: "t1", Type: "function"}},
	}

	chunks := SplitResponse(resp)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	final := chunks[0]
	if final.Delta != "short answer" || final.FinishReason != providers.FinishReasonStop {
		t.Errorf("final chunk = %+v", final)
	}
	if final.Usage == nil || final.Usage.TotalTokens != 5 {
		t.Errorf("Usage = %+v", final.Usage)
	}
	if len(final.ToolCalls) != 1 {
		t.Errorf("ToolCalls = %+v", final.ToolCalls)
	}
}

func TestSplitResponseChunksLongContent(t *testing.T) {
	resp := &providers.CompletionResponse{
		ID:           "r1",
		Model:        "m",
		Content:      strings.Repeat("lorem ipsum dolor sit amet ", 40),
		FinishReason: providers.FinishReasonStop,
	}

	chunks := SplitResponse(resp)
	if len(chunks) < 2 {
		t.Fatalf("long content produced %d chunks", len(chunks))
	}
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		rebuilt.WriteString(chunk.Delta)
		last := i == len(chunks)-1
		if last && chunk.FinishReason == "" {
			t.Error("final chunk missing finish reason")
		}
		if !last {
			if chunk.FinishReason != "" || chunk.Usage != nil {
				t.Errorf("chunk %d carries terminal fields", i)
			}
			// Soft bound: a chunk may run slightly past the target to end
			// on a word boundary.
			if len(chunk.Delta) > 2*chunkSize {
				t.Errorf("chunk %d size = %d", i, len(chunk.Delta))
			}
		}
	}
	if rebuilt.String() != resp.Content {
		t.Error("chunks do not reassemble to the original content")
	}
}

func TestSplitResponseKeepsRuneBoundaries(t *testing.T) {
	// Long unspaced multi-byte content forces size-based cuts; every delta
	// must still be valid UTF-8.
	resp := &providers.CompletionResponse{
		ID:           "r1",
		Model:        "m",
		Content:      "a" + strings.Repeat("世界", 200),
		FinishReason: providers.FinishReasonStop,
	}

	chunks := SplitResponse(resp)
	if len(chunks) < 2 {
		t.Fatalf("content produced %d chunks", len(chunks))
	}
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk.Delta) {
			t.Errorf("chunk %d delta is not valid UTF-8", i)
		}
		rebuilt.WriteString(chunk.Delta)
	}
	if rebuilt.String() != resp.Content {
		t.Error("chunks do not reassemble to the original content")
	}
}

func TestJoinChunks(t *testing.T) {
	usage := providers.TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	chunks := []providers.StreamChunk{
		{ID: "r1", Model: "m", Delta: "Hello, ", Created: 42},
		{ID: "r1", Model: "m", Delta: "world."},
		{ID: "r1", Model: "m", FinishReason: providers.FinishReasonStop, Usage: &usage,
			ToolCalls: []providers.ToolCall{{ID: "t1"}}},
	}

	resp := JoinChunks(chunks)
	if resp.Content != "Hello, world." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.ID != "r1" || resp.Model != "m" || resp.Created != 42 {
		t.Errorf("identity fields = %+v", resp)
	}
	if resp.FinishReason != providers.FinishReasonStop {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage != usage {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if len(resp.ToolCalls) != 1 {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
}

func TestSplitJoinRoundTrip(t *testing.T) {
	resp := &providers.CompletionResponse{
		ID:           "r1",
		Model:        "m",
		Content:      strings.Repeat("alpha beta gamma delta ", 30),
		FinishReason: providers.FinishReasonStop,
		Usage:        providers.TokenUsage{TotalTokens: 9},
	}

	got := JoinChunks(SplitResponse(resp))
	if got.Content != resp.Content {
		t.Error("content changed through split/join")
	}
	if got.FinishReason != resp.FinishReason || got.Usage != resp.Usage {
		t.Errorf("terminal fields = %+v", got)
	}
}
