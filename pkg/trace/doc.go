// Package trace captures request and response payloads at pipeline stage
// boundaries. Capture is asynchronous: records carry a SHA-256 digest, size,
// timing and a truncated excerpt, with full payloads retained only in debug
// mode. Records land in a bounded in-memory store or a SQLite database and
// can be exported as JSON or CSV.
package trace
