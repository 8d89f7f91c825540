package pipeline

import (
	"context"
	"sync"

	"mercator-hq/janus/pkg/compat"
	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
)

// CompatStage applies the target provider's field mapping table: renames,
// defaults, required checks and transforms on the way out, and the reverse
// table on the way back. Providers without a table pass through untouched.
type CompatStage struct {
	store *config.Store

	mu       sync.Mutex
	snapshot *config.Snapshot
	mappers  map[*config.MappingTable]*compat.Mapper
}

// NewCompatStage creates the compatibility mapping stage.
func NewCompatStage(store *config.Store) *CompatStage {
	return &CompatStage{
		store:   store,
		mappers: make(map[*config.MappingTable]*compat.Mapper),
	}
}

// Name returns the stage identifier.
func (s *CompatStage) Name() string { return "compat" }

// HandleRequest applies the provider's request mappings.
func (s *CompatStage) HandleRequest(_ context.Context, ec *ExecutionContext, req *providers.CompletionRequest) (*providers.CompletionRequest, error) {
	return s.mapper(ec).MapRequest(req)
}

// HandleResponse applies the provider's response mappings.
func (s *CompatStage) HandleResponse(_ context.Context, ec *ExecutionContext, resp *providers.CompletionResponse) (*providers.CompletionResponse, error) {
	return s.mapper(ec).MapResponse(resp)
}

// mapper returns the cached mapper for the target's table. Mappers are
// keyed by table identity; a config reload drops the whole cache so stale
// tables do not accumulate across swaps.
func (s *CompatStage) mapper(ec *ExecutionContext) *compat.Mapper {
	snapshot := s.store.Current()
	table := snapshot.Mapping(ec.Target.Provider)

	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot != s.snapshot {
		s.snapshot = snapshot
		s.mappers = make(map[*config.MappingTable]*compat.Mapper)
	}
	m, ok := s.mappers[table]
	if !ok {
		m = compat.NewMapper(table)
		s.mappers[table] = m
	}
	return m
}
