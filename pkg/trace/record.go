package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Direction of a traced payload relative to the pipeline.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
	DirectionChunk    Direction = "chunk"
)

// Record is one captured I/O event at a pipeline stage boundary.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id"`
	Stage     string    `json:"stage"`
	Direction Direction `json:"direction"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Size      int       `json:"size"`
	Duration  int64     `json:"duration_us"`
	Hash      string    `json:"hash"`
	Excerpt   string    `json:"excerpt,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HashPayload returns the hex SHA-256 digest of a payload. Full payloads are
// only retained in debug mode; the digest makes records comparable without
// storing the body.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Excerpt truncates a payload for storage, marking the cut.
func Excerpt(payload []byte, max int) string {
	if max <= 0 || len(payload) <= max {
		return string(payload)
	}
	return string(payload[:max]) + "...[truncated]"
}
