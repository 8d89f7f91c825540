package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/janus/pkg/config"
)

// Tracker captures I/O records asynchronously. Callers enqueue and return
// immediately; a background worker drains the channel into the store. When
// the channel is full the record is dropped and counted rather than
// blocking the request path.
type Tracker struct {
	cfg    config.TraceConfig
	store  Store
	ch     chan *Record
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	dropped int64
}

// NewTracker starts a tracker draining into the given store.
func NewTracker(cfg config.TraceConfig, store Store) *Tracker {
	t := &Tracker{
		cfg:    cfg,
		store:  store,
		ch:     make(chan *Record, cfg.Buffer),
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "trace.tracker"),
	}
	t.wg.Add(1)
	go t.worker()
	return t
}

// Capture builds and enqueues a record for one stage boundary crossing.
// Payloads are hashed and truncated; the full body is kept only in debug
// mode. Disabled trackers are a no-op.
func (t *Tracker) Capture(sessionID, requestID, stage string, dir Direction, provider, model string, payload []byte, duration time.Duration) {
	if !t.cfg.Enabled {
		return
	}

	rec := &Record{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		RequestID: requestID,
		Stage:     stage,
		Direction: dir,
		Provider:  provider,
		Model:     model,
		Size:      len(payload),
		Duration:  duration.Microseconds(),
		Hash:      HashPayload(payload),
		Excerpt:   Excerpt(payload, t.cfg.MaxExcerpt),
		Timestamp: time.Now(),
	}
	if t.cfg.Debug {
		rec.Payload = string(payload)
	}

	select {
	case t.ch <- rec:
	default:
		t.mu.Lock()
		t.dropped++
		dropped := t.dropped
		t.mu.Unlock()
		t.logger.Warn("trace buffer full, dropping record",
			"request_id", requestID,
			"stage", stage,
			"dropped_total", dropped,
		)
	}
}

// Dropped returns how many records were discarded due to a full buffer.
func (t *Tracker) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Query returns records matching the filter from the underlying store.
func (t *Tracker) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	return t.store.Query(ctx, filter)
}

// Close drains pending records and stops the worker.
func (t *Tracker) Close() error {
	close(t.done)
	t.wg.Wait()
	return t.store.Close()
}

func (t *Tracker) worker() {
	defer t.wg.Done()
	for {
		select {
		case rec := <-t.ch:
			t.write(rec)
		case <-t.done:
			for {
				select {
				case rec := <-t.ch:
					t.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) write(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Store(ctx, rec); err != nil {
		t.logger.Error("failed to store trace record",
			"record_id", rec.ID,
			"request_id", rec.RequestID,
			"error", err,
		)
	}
}
