package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
)

// TokenRefresher forces a credential refresh for a provider. The auth
// center implements it.
type TokenRefresher interface {
	ForceRefresh(ctx context.Context, provider string) error
}

// FallbackStrategy is the last resort in the chain. It tries, in order:
// a token refresh and same-target retry for auth failures, rerouting to an
// alternative target, serving a cached response for an identical earlier
// request, and finally a canned degraded-service response.
type FallbackStrategy struct {
	cfg       config.FallbackConfig
	refresher TokenRefresher
	cache     *responseCache
}

// NewFallbackStrategy creates a fallback strategy. refresher may be nil when
// no provider uses refreshable credentials.
func NewFallbackStrategy(cfg config.FallbackConfig, refresher TokenRefresher) *FallbackStrategy {
	var cache *responseCache
	if cfg.EnableCache {
		cache = newResponseCache(cfg.CacheSize)
	}
	return &FallbackStrategy{cfg: cfg, refresher: refresher, cache: cache}
}

// Name returns the strategy identifier.
func (s *FallbackStrategy) Name() string { return "fallback" }

// Priority places fallback last in the chain.
func (s *FallbackStrategy) Priority() int { return 2 }

// ObserveSuccess stores successful responses for the cached-response action.
func (s *FallbackStrategy) ObserveSuccess(att *Attempt, resp *providers.CompletionResponse) {
	if s.cache == nil || resp == nil || att.Request == nil {
		return
	}
	s.cache.Put(Fingerprint(att.VirtualModel, att.Request), resp)
}

// CanHandle claims every failure except client-side ones that no substitute
// can fix.
func (s *FallbackStrategy) CanHandle(_ *Attempt, err error) bool {
	switch providers.KindOf(err) {
	case providers.KindInvalidRequest, providers.KindUnknownModel, providers.KindCancelled:
		return false
	}
	return true
}

// Handle walks the fallback ladder.
func (s *FallbackStrategy) Handle(ctx context.Context, att *Attempt, err error) Decision {
	kind := providers.KindOf(err)

	// Auth failures get one refresh-and-retry against the same target.
	if kind == providers.KindAuthFailed && s.refresher != nil && att.Target != "" {
		provider, _, _ := splitTargetKey(att.Target)
		if refreshErr := s.refresher.ForceRefresh(ctx, provider); refreshErr == nil {
			return Decision{
				Action:   ActionRetrySameTarget,
				Strategy: s.Name(),
				Reason:   fmt.Sprintf("refreshed credentials for %s", provider),
			}
		}
	}

	// Exhausted targets cannot reroute; everything else gets one more
	// chance elsewhere.
	if kind != providers.KindExhaustedTargets && kind != providers.KindNoHealthyTarget {
		return Decision{
			Action:   ActionRetryNewTarget,
			Strategy: s.Name(),
			Reason:   fmt.Sprintf("rerouting after %s", kind),
		}
	}

	if s.cache != nil && att.Request != nil {
		if resp, ok := s.cache.Get(Fingerprint(att.VirtualModel, att.Request)); ok {
			return Decision{
				Action:   ActionFallbackResult,
				Response: resp,
				Strategy: s.Name(),
				Reason:   "served cached response",
			}
		}
	}

	if s.cfg.EnableDegraded {
		return Decision{
			Action:   ActionFallbackResult,
			Response: degradedResponse(att),
			Strategy: s.Name(),
			Reason:   "served degraded response",
		}
	}

	return giveUp(s.Name(), fmt.Sprintf("no fallback available for %s", kind))
}

// degradedResponse is the canned response served when every target failed
// and nothing cached matches.
func degradedResponse(att *Attempt) *providers.CompletionResponse {
	model := ""
	if att.Request != nil {
		model = att.Request.Model
	}
	return &providers.CompletionResponse{
		ID:           uuid.New().String(),
		Model:        model,
		Content:      "The service is temporarily degraded and could not complete this request. Please retry shortly.",
		FinishReason: providers.FinishReasonError,
		Created:      time.Now().Unix(),
		Metadata:     map[string]string{"degraded": "true"},
	}
}

func splitTargetKey(key string) (provider, model string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return key, "", false
}
