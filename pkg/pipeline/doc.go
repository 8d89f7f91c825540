// Package pipeline executes admitted requests through the four-segment
// pipeline: protocol switch, streaming workflow, compatibility mapping, and
// the provider call. Responses traverse the same stages in reverse. Failed
// attempts are resolved by the strategy chain, which can retry the same
// target, reroute to an untried one, substitute a fallback response, or
// give up with the attempt history attached.
package pipeline
