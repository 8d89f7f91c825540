// Package strategy resolves failed pipeline attempts into recovery
// decisions. Strategies are consulted in priority order: the circuit
// breaker first, exponential-backoff retry second, fallback last. The first
// strategy that claims a failure decides whether the pipeline retries the
// same target, reroutes, resolves with a substitute response, or gives up.
package strategy
