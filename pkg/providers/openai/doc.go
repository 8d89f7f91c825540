// Package openai adapts OpenAI-compatible chat completion endpoints:
// request rendering, response parsing, and SSE streaming with [DONE]
// termination.
package openai
