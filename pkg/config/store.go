package config

import (
	"log/slog"
	"sync/atomic"
)

// Store holds the current configuration snapshot.
// Swaps are atomic pointer replacements; in-flight requests keep the snapshot
// they were admitted with, new requests observe the replacement.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store seeded with an initial validated snapshot.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Current returns the snapshot new requests should use.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Swap validates and installs a replacement snapshot.
// On validation failure the previous snapshot stays installed.
func (s *Store) Swap(next *Snapshot) error {
	if err := Validate(next); err != nil {
		return err
	}
	s.current.Store(next)
	slog.Info("configuration snapshot swapped",
		"virtual_models", len(next.VirtualModels),
		"providers", len(next.Providers),
	)
	return nil
}
