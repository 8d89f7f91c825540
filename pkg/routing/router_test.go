package routing

import (
	"errors"
	"testing"
	"time"

	"mercator-hq/janus/pkg/breaker"
	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
)

func testStore(vm *config.VirtualModel) *config.Store {
	return config.NewStore(&config.Snapshot{
		VirtualModels: map[string]*config.VirtualModel{vm.ID: vm},
		Providers: map[string]*config.ProviderSpec{
			"openai-main":    {ID: "openai-main", Family: "openai"},
			"anthropic-main": {ID: "anthropic-main", Family: "anthropic"},
		},
		Scheduler: config.SchedulerConfig{DefaultPolicy: "round-robin"},
	})
}

func testVM(policy string, targets ...config.Target) *config.VirtualModel {
	return &config.VirtualModel{ID: "vm", Policy: policy, Targets: targets}
}

func activeTarget(provider, model string) config.Target {
	return config.Target{Provider: provider, Model: model, Weight: 1, Status: config.TargetActive}
}

func newTestRouter(vm *config.VirtualModel, breakers *breaker.Registry) *Router {
	return NewRouter(testStore(vm), breakers, NewPolicySet(nil, 50), NewStatsRegistry())
}

func TestSelectUnknownModel(t *testing.T) {
	r := newTestRouter(testVM("", activeTarget("openai-main", "gpt-4")), nil)

	_, err := r.Select("missing", nil)
	if providers.KindOf(err) != providers.KindUnknownModel {
		t.Fatalf("err = %v, want unknown_model", err)
	}
}

func TestSelectSkipsInactiveTargets(t *testing.T) {
	vm := testVM("",
		activeTarget("openai-main", "gpt-4"),
		config.Target{Provider: "anthropic-main", Model: "claude", Weight: 1, Status: config.TargetDisabled},
		config.Target{Provider: "anthropic-main", Model: "claude-2", Weight: 1, Status: config.TargetBlacklisted},
	)
	r := newTestRouter(vm, nil)

	for i := 0; i < 5; i++ {
		target, err := r.Select("vm", nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if target.Key() != "openai-main/gpt-4" {
			t.Fatalf("selected inactive target %q", target.Key())
		}
	}
}

func TestSelectExcludesTried(t *testing.T) {
	vm := testVM("",
		activeTarget("openai-main", "gpt-4"),
		activeTarget("anthropic-main", "claude"),
	)
	r := newTestRouter(vm, nil)

	tried := map[string]bool{"openai-main/gpt-4": true}
	target, err := r.Select("vm", tried)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if target.Key() != "anthropic-main/claude" {
		t.Errorf("selected %q, want the untried target", target.Key())
	}
}

func TestSelectExhaustedTargets(t *testing.T) {
	vm := testVM("",
		activeTarget("openai-main", "gpt-4"),
		activeTarget("anthropic-main", "claude"),
	)
	r := newTestRouter(vm, nil)

	tried := map[string]bool{
		"openai-main/gpt-4":     true,
		"anthropic-main/claude": true,
	}
	_, err := r.Select("vm", tried)

	var rerr *providers.RouterError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *RouterError", err)
	}
	if rerr.ErrKind != providers.KindExhaustedTargets {
		t.Errorf("kind = %s, want exhausted_targets", rerr.ErrKind)
	}
	if len(rerr.AttemptedTargets) != 2 {
		t.Errorf("AttemptedTargets = %v", rerr.AttemptedTargets)
	}
}

func TestSelectNoHealthyTarget(t *testing.T) {
	vm := testVM("",
		config.Target{Provider: "openai-main", Model: "gpt-4", Weight: 1, Status: config.TargetDisabled},
	)
	r := newTestRouter(vm, nil)

	_, err := r.Select("vm", nil)
	if providers.KindOf(err) != providers.KindNoHealthyTarget {
		t.Fatalf("err = %v, want no_healthy_target", err)
	}
}

func TestSelectSkipsOpenCircuit(t *testing.T) {
	vm := testVM("",
		activeTarget("openai-main", "gpt-4"),
		activeTarget("anthropic-main", "claude"),
	)
	breakers := breaker.NewRegistry(config.BreakerConfig{
		FailureThreshold: 1,
		VolumeThreshold:  1,
		Window:           time.Minute,
		RecoveryTimeout:  time.Hour,
		SuccessThreshold: 1,
		HalfOpenAttempts: 1,
	})
	r := newTestRouter(vm, breakers)

	breakers.Allow("openai-main/gpt-4")
	breakers.RecordFailure("openai-main/gpt-4")

	for i := 0; i < 5; i++ {
		target, err := r.Select("vm", nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if target.Key() == "openai-main/gpt-4" {
			t.Fatal("selected a target with an open circuit")
		}
	}
}

func TestSelectAllCircuitsOpenIsNoHealthyTarget(t *testing.T) {
	vm := testVM("", activeTarget("openai-main", "gpt-4"))
	breakers := breaker.NewRegistry(config.BreakerConfig{
		FailureThreshold: 1,
		VolumeThreshold:  1,
		Window:           time.Minute,
		RecoveryTimeout:  time.Hour,
		SuccessThreshold: 1,
		HalfOpenAttempts: 1,
	})
	r := newTestRouter(vm, breakers)

	breakers.Allow("openai-main/gpt-4")
	breakers.RecordFailure("openai-main/gpt-4")

	_, err := r.Select("vm", nil)
	if providers.KindOf(err) != providers.KindNoHealthyTarget {
		t.Fatalf("err = %v, want no_healthy_target", err)
	}
}

func TestSelectUsesVirtualModelPolicy(t *testing.T) {
	vm := testVM("priority",
		config.Target{Provider: "openai-main", Model: "backup", Weight: 1, Priority: 5, Status: config.TargetActive},
		config.Target{Provider: "anthropic-main", Model: "primary", Weight: 1, Priority: 1, Status: config.TargetActive},
	)
	r := newTestRouter(vm, nil)

	for i := 0; i < 3; i++ {
		target, err := r.Select("vm", nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if target.Model != "primary" {
			t.Errorf("priority policy selected %q", target.Model)
		}
	}
}

func TestSelectFallsBackToDefaultPolicy(t *testing.T) {
	vm := testVM("",
		activeTarget("openai-main", "gpt-4"),
		activeTarget("anthropic-main", "claude"),
	)
	r := newTestRouter(vm, nil)

	// Default is round-robin: two selections must differ.
	first, err := r.Select("vm", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	second, err := r.Select("vm", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if first.Key() == second.Key() {
		t.Errorf("round-robin returned %q twice", first.Key())
	}
}
