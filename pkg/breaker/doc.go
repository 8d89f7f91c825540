// Package breaker implements per-target circuit breakers.
//
// Each target ("provider/model" key) gets a lazily created state machine
// cycling CLOSED → OPEN → HALF_OPEN → CLOSED. Transitions are serialized
// under a per-target mutex: concurrent observers of an OPEN circuit all
// reject, and the first caller after the recovery timeout becomes the first
// HALF_OPEN probe.
package breaker
