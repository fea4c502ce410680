package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthcam/internal/capturedb"
	"github.com/banshee-data/depthcam/internal/depth"
	"github.com/banshee-data/depthcam/internal/testutil"
)

func newTestServer(t *testing.T, db *capturedb.DB, sessionID string) (*WebServer, *FrameStore) {
	t.Helper()
	store := NewFrameStore(testutil.Intrinsics(16, 12), 0.001)
	ws := NewWebServer(WebServerConfig{Address: "127.0.0.1:0", Store: store, DB: db, SessionID: sessionID})
	return ws, store
}

func serve(ws *WebServer, method, path string) *httptest.ResponseRecorder {
	w := testutil.NewTestRecorder()
	ws.Handler().ServeHTTP(w, testutil.NewTestRequest(method, path))
	return w
}

func rampDepth(x, y int) uint16 {
	if x == 0 {
		return 0
	}
	return uint16(1000 + 50*x + 20*y)
}

func TestHandleHealth(t *testing.T) {
	ws, store := newTestServer(t, nil, "abc")
	store.Publish(testutil.FlatDepthFrame(t, 1, 16, 12, 1000))

	w := serve(ws, http.MethodGet, "/health")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "abc", body["session_id"])
	assert.Equal(t, float64(1), body["published"])
}

func TestHandleLatestFrame(t *testing.T) {
	ws, store := newTestServer(t, nil, "")

	w := serve(ws, http.MethodGet, "/api/frames/latest")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	store.Publish(testutil.DepthFrame(t, 42, 16, 12, 4, rampDepth))
	store.Publish(testutil.ColorFrame(t, 7, 16, 12, func(int, int) (uint8, uint8, uint8) { return 9, 9, 9 }))

	w = serve(ws, http.MethodGet, "/api/frames/latest")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var got frameJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "depth", got.Stream)
	assert.Equal(t, "Z16", got.Format)
	assert.Equal(t, uint64(42), got.FrameNumber)
	assert.Equal(t, 36, got.Stride)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 16*12-12, got.Stats.Valid)

	w = serve(ws, http.MethodGet, "/api/frames/latest?stream=color")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, uint64(7), got.FrameNumber)
	assert.Nil(t, got.Stats)

	w = serve(ws, http.MethodGet, "/api/frames/latest?stream=sonar")
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)

	w = serve(ws, http.MethodPost, "/api/frames/latest")
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestHandleRecentFrames(t *testing.T) {
	ws, _ := newTestServer(t, nil, "")
	w := serve(ws, http.MethodGet, "/api/frames/recent")
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)

	db, err := capturedb.Open(filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	id, err := db.StartSession(ctx, "test", nil, time.Now())
	require.NoError(t, err)
	for n := uint64(1); n <= 3; n++ {
		data := testutil.FlatDepthFrame(t, n, 4, 4, 1200)
		_, err := db.RecordFrame(ctx, capturedb.NewFrameRecord(id, data.Meta, nil))
		require.NoError(t, err)
	}

	ws, _ = newTestServer(t, db, id)
	w = serve(ws, http.MethodGet, "/api/frames/recent?limit=2")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got []frameJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].FrameNumber)
	assert.Equal(t, uint64(2), got[1].FrameNumber)
}

func TestHandleSessionStats(t *testing.T) {
	ws, store := newTestServer(t, nil, "")
	store.SetSessionStats(func() depth.SessionStats { return depth.SessionStats{Frames: 12, Evicted: 4} })

	w := serve(ws, http.MethodGet, "/api/session/stats")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got depth.SessionStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, uint64(12), got.Frames)
	assert.Equal(t, uint64(4), got.Evicted)
}

func TestDebugCharts(t *testing.T) {
	ws, store := newTestServer(t, nil, "")

	w := serve(ws, http.MethodGet, "/debug/depth/points")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	w = serve(ws, http.MethodGet, "/debug/depth/histogram.png")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	// Session counters render without any frames.
	w = serve(ws, http.MethodGet, "/debug/depth/stats")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "Capture Session")
	assert.NotContains(t, w.Body.String(), "Depth Frame")

	store.Publish(testutil.DepthFrame(t, 3, 16, 12, 0, rampDepth))

	w = serve(ws, http.MethodGet, "/debug/depth/points?max_points=150")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, w.Body.String(), "Depth Point Cloud")
	assert.Contains(t, w.Body.String(), "stride=2")

	w = serve(ws, http.MethodGet, "/debug/depth/stats")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "Depth Frame")

	w = serve(ws, http.MethodGet, "/debug/depth/histogram.png")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestDebugPoints_AllDropouts(t *testing.T) {
	ws, store := newTestServer(t, nil, "")
	store.Publish(testutil.FlatDepthFrame(t, 1, 16, 12, 0))

	w := serve(ws, http.MethodGet, "/debug/depth/points")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	w = serve(ws, http.MethodGet, "/debug/depth/histogram.png")
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)
}

func TestAdminRoutesMountedWithDB(t *testing.T) {
	db, err := capturedb.Open(filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ws, _ := newTestServer(t, db, "")
	w := serve(ws, http.MethodGet, "/debug/")
	assert.NotEqual(t, http.StatusNotFound, w.Code)
}

func TestWebServer_StartStopsOnCancel(t *testing.T) {
	ws, _ := newTestServer(t, nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
