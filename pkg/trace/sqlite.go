package trace

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists trace records to a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const traceSchema = `
CREATE TABLE IF NOT EXISTS trace_records (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	request_id  TEXT NOT NULL,
	stage       TEXT NOT NULL,
	direction   TEXT NOT NULL,
	provider    TEXT,
	model       TEXT,
	size        INTEGER NOT NULL,
	duration_us INTEGER NOT NULL,
	hash        TEXT NOT NULL,
	excerpt     TEXT,
	payload     TEXT,
	timestamp   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trace_request ON trace_records(request_id);
CREATE INDEX IF NOT EXISTS idx_trace_session ON trace_records(session_id);
CREATE INDEX IF NOT EXISTS idx_trace_timestamp ON trace_records(timestamp);
`

// NewSQLiteStore opens (creating if needed) the trace database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening trace database: %w", err)
	}
	if _, err := db.Exec(traceSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing trace schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Store(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_records
			(id, session_id, request_id, stage, direction, provider, model,
			 size, duration_us, hash, excerpt, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.RequestID, rec.Stage, string(rec.Direction),
		rec.Provider, rec.Model, rec.Size, rec.Duration, rec.Hash,
		rec.Excerpt, rec.Payload, rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("storing trace record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	query := `SELECT id, session_id, request_id, stage, direction, provider, model,
		size, duration_us, hash, excerpt, payload, timestamp
		FROM trace_records WHERE 1=1`
	var args []interface{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.RequestID != "" {
		query += " AND request_id = ?"
		args = append(args, filter.RequestID)
	}
	if filter.Stage != "" {
		query += " AND stage = ?"
		args = append(args, filter.Stage)
	}
	if filter.Provider != "" {
		query += " AND provider = ?"
		args = append(args, filter.Provider)
	}
	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trace records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var direction string
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.RequestID, &rec.Stage,
			&direction, &rec.Provider, &rec.Model, &rec.Size, &rec.Duration,
			&rec.Hash, &rec.Excerpt, &rec.Payload, &ts); err != nil {
			return nil, fmt.Errorf("scanning trace record: %w", err)
		}
		rec.Direction = Direction(direction)
		rec.Timestamp = time.Unix(0, ts)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
