// Package config defines the configuration snapshot consumed by the core:
// virtual models with their targets, provider descriptors, field mapping
// tables, and policy thresholds for scheduling, recovery strategies and
// monitoring.
//
// The core treats a Snapshot as immutable. The Store holds the current
// snapshot behind an atomic pointer; swaps are observed by new requests
// only. Load and Watcher are hosting-program conveniences for building
// snapshots from YAML files and hot-swapping them on change.
package config
