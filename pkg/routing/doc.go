// Package routing resolves virtual models to concrete provider targets.
//
// Selection is a two-step process: the router filters the model's targets
// down to reachable candidates (active status, circuit closed, not yet
// tried in this request), then the model's load-balancing policy picks one.
// Six policies are built in: round-robin, weighted, priority,
// least-connections, health-based and random. Candidates are sorted by
// target key before selection so equal-scoring picks are deterministic.
package routing
