// Telemetry - per-request events persisted to a local sqlite database.
//
// DESIGN: one row per request through the gateway. Inserts are best effort;
// a telemetry failure never fails the request it describes.
package monitoring

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver
)

// RequestEvent describes one request through the gateway.
type RequestEvent struct {
	RequestID        string
	Timestamp        time.Time
	Method           string
	Path             string
	Route            string // "embeddings", "chat", "passthrough"
	Model            string
	StatusCode       int
	DurationMs       int64
	PromptTokens     int
	CompletionTokens int
	Chunks           int
	Error            string
}

// Tracker records request events. A nil or disabled tracker drops events.
type Tracker struct {
	db *sql.DB
	mu sync.Mutex
}

const requestsSchema = `
CREATE TABLE IF NOT EXISTS requests (
	request_id        TEXT NOT NULL,
	ts                INTEGER NOT NULL,
	method            TEXT NOT NULL,
	path              TEXT NOT NULL,
	route             TEXT NOT NULL,
	model             TEXT,
	status_code       INTEGER NOT NULL,
	duration_ms       INTEGER NOT NULL,
	prompt_tokens     INTEGER,
	completion_tokens INTEGER,
	chunks            INTEGER,
	error             TEXT
);
CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts);
`

// NewTracker opens (or creates) the telemetry database.
// Returns a disabled tracker when cfg.Enabled is false.
func NewTracker(enabled bool, dbPath string) (*Tracker, error) {
	if !enabled {
		return &Tracker{}, nil
	}
	if dbPath == "" {
		return nil, fmt.Errorf("telemetry enabled but db path is empty")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(requestsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init telemetry schema: %w", err)
	}
	return &Tracker{db: db}, nil
}

// Enabled reports whether events are being persisted.
func (t *Tracker) Enabled() bool {
	return t != nil && t.db != nil
}

// RecordRequest persists one request event.
func (t *Tracker) RecordRequest(ev *RequestEvent) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.Exec(
		`INSERT INTO requests
		 (request_id, ts, method, path, route, model, status_code, duration_ms,
		  prompt_tokens, completion_tokens, chunks, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RequestID, ev.Timestamp.UnixMilli(), ev.Method, ev.Path, ev.Route,
		ev.Model, ev.StatusCode, ev.DurationMs,
		ev.PromptTokens, ev.CompletionTokens, ev.Chunks, ev.Error,
	)
	if err != nil {
		log.Warn().Err(err).Str("request_id", ev.RequestID).Msg("telemetry insert failed")
	}
}

// Close closes the underlying database.
func (t *Tracker) Close() {
	if t == nil || t.db == nil {
		return
	}
	if err := t.db.Close(); err != nil {
		log.Warn().Err(err).Msg("telemetry close failed")
	}
}
