// Package providers defines the normalized core request/response model and
// the Provider interface implemented by upstream adapters.
//
// The normalized forms (CompletionRequest, CompletionResponse, StreamChunk)
// are the currency of the whole pipeline: the protocol switch converts caller
// wire shapes into them, the compatibility mapper rewrites their fields for a
// specific provider, and adapters translate them to and from upstream APIs.
//
// Error classification also lives here. Every failure anywhere in the
// pipeline resolves to an ErrorKind via KindOf, which the strategy manager
// uses to pick a recovery path and the scheduler uses to shape the
// caller-visible RouterError.
//
// Adapters embed HTTPProvider for connection pooling, single-attempt request
// execution, taxonomy classification and health tracking. Deliberately absent
// from this package: retry loops, backoff, and circuit state. Those belong to
// the strategy manager so that recovery policy is applied uniformly across
// providers.
package providers
