package capturedb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthcam/internal/depth"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_AppliesPragmasAndMigrations(t *testing.T) {
	db := openTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op migration.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())

	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'capture_frames'").Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	started := time.Unix(1700000000, 0)

	id, err := db.StartSession(ctx, "sim", map[string]int{"width": 64}, started)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "session IDs are UUIDs")

	rec, err := db.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "sim", rec.Source)
	assert.JSONEq(t, `{"width":64}`, rec.ConfigJSON)
	assert.True(t, rec.StartedAt.Equal(started))
	assert.Nil(t, rec.EndedAt)

	stats := depth.SessionStats{Bundles: 10, Frames: 20, Delivered: 18, Evicted: 2, Timeouts: 1, FrameErrors: 1}
	ended := started.Add(time.Minute)
	require.NoError(t, db.EndSession(ctx, id, ended, stats))

	rec, err = db.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.EndedAt)
	assert.True(t, rec.EndedAt.Equal(ended))
	assert.Equal(t, stats, rec.Stats)
}

func TestUnknownSession(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	err = db.EndSession(ctx, "missing", time.Now(), depth.SessionStats{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecordAndRecentFrames(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id, err := db.StartSession(ctx, "sim", nil, time.Unix(1700000000, 0))
	require.NoError(t, err)

	arrived := time.Unix(1700000001, 500)
	meta := depth.FrameMetadata{
		Width: 4, Height: 2, Stride: 8, BitsPerPixel: 16, DataSize: 16,
		Format: depth.FormatZ16, Stream: depth.StreamDepth,
		FrameNumber: 41, Timestamp: 1234.5, TimestampDomain: depth.DomainSystemTime,
		ArrivedAt: arrived,
	}
	stats := &depth.DepthStats{Pixels: 8, Valid: 6, Min: 0.5, Max: 2.5, Mean: 1.25, StdDev: 0.4}

	_, err = db.RecordFrame(ctx, NewFrameRecord(id, meta, stats))
	require.NoError(t, err)

	colorMeta := meta
	colorMeta.Format = depth.FormatRGB8
	colorMeta.Stream = depth.StreamColor
	colorMeta.FrameNumber = 42
	_, err = db.RecordFrame(ctx, NewFrameRecord(id, colorMeta, nil))
	require.NoError(t, err)

	frames, err := db.RecentFrames(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, uint64(42), frames[0].FrameNumber, "newest first")
	assert.Equal(t, depth.FormatRGB8, frames[0].Format)
	assert.Nil(t, frames[0].Stats)

	got := frames[1]
	assert.Equal(t, depth.StreamDepth, got.Stream)
	assert.Equal(t, "System Time", got.TimestampDomain)
	assert.True(t, got.ArrivedAt.Equal(arrived))
	if diff := cmp.Diff(stats, got.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	limited, err := db.RecentFrames(ctx, id, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := db.RecentFrames(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordFrameRequiresSession(t *testing.T) {
	db := openTestDB(t)
	_, err := db.RecordFrame(context.Background(), FrameRecord{
		SessionID: "missing", Stream: depth.StreamDepth, Format: depth.FormatZ16, ArrivedAt: time.Now(),
	})
	assert.Error(t, err, "foreign key must reject frames of unknown sessions")
}

func TestAttachAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/tailsql/", "/debug/backup"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		// tsweb may refuse non-local callers; the route must still exist.
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
	}
}
