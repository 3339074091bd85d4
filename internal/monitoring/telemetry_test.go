package monitoring_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/arosboro/ollama-proxy/internal/monitoring"
)

func TestTrackerDisabled(t *testing.T) {
	tracker, err := monitoring.NewTracker(false, "")
	require.NoError(t, err)

	assert.False(t, tracker.Enabled())
	// Recording on a disabled tracker is a no-op, not a panic.
	tracker.RecordRequest(&monitoring.RequestEvent{RequestID: "r1"})
	tracker.Close()
}

func TestTrackerEnabledRequiresPath(t *testing.T) {
	_, err := monitoring.NewTracker(true, "")
	assert.Error(t, err)
}

func TestTrackerPersistsEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	tracker, err := monitoring.NewTracker(true, dbPath)
	require.NoError(t, err)
	defer tracker.Close()

	require.True(t, tracker.Enabled())
	tracker.RecordRequest(&monitoring.RequestEvent{
		RequestID:    "req-1",
		Timestamp:    time.Now(),
		Method:       "POST",
		Path:         "/v1/embeddings",
		Route:        "embeddings",
		Model:        "nomic",
		StatusCode:   200,
		DurationMs:   42,
		PromptTokens: 30,
		Chunks:       3,
	})

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var model string
	var chunks int
	err = db.QueryRow(`SELECT model, chunks FROM requests WHERE request_id = ?`, "req-1").
		Scan(&model, &chunks)
	require.NoError(t, err)
	assert.Equal(t, "nomic", model)
	assert.Equal(t, 3, chunks)
}
