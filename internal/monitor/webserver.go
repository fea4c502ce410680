// Package monitor serves live capture state over HTTP: JSON endpoints for
// the latest frames and session counters, go-echarts debug charts and a
// gonum depth histogram.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/depthcam/internal/capturedb"
	"github.com/banshee-data/depthcam/internal/depth"
	"github.com/banshee-data/depthcam/internal/version"
)

// WebServer handles the HTTP interface for capture monitoring.
type WebServer struct {
	address   string
	server    *http.Server
	store     *FrameStore
	db        *capturedb.DB
	sessionID string
	plotter   *DepthHistogramPlotter
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address   string
	Store     *FrameStore
	DB        *capturedb.DB // optional; enables /api/frames/recent and admin routes
	SessionID string
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   config.Address,
		store:     config.Store,
		db:        config.DB,
		sessionID: config.SessionID,
		plotter:   NewDepthHistogramPlotter(),
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Handler returns the route multiplexer, for tests and embedding.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("monitor: failed to encode response: %v", err)
	}
}

// Start serves HTTP until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/frames/latest", ws.handleLatestFrame)
	mux.HandleFunc("/api/frames/recent", ws.handleRecentFrames)
	mux.HandleFunc("/api/session/stats", ws.handleSessionStats)
	mux.HandleFunc("/debug/depth/points", ws.handleDepthPoints)
	mux.HandleFunc("/debug/depth/stats", ws.handleDepthStatsChart)
	mux.HandleFunc("/debug/depth/histogram.png", ws.handleDepthHistogram)

	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			log.Printf("monitor: admin routes unavailable: %v", err)
		}
	}
	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]any{
		"status":     "ok",
		"service":    "depthcam",
		"version":    version.Version,
		"session_id": ws.sessionID,
		"published":  ws.store.Published(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// frameJSON is the API view of one frame.
type frameJSON struct {
	Stream          string            `json:"stream"`
	Format          string            `json:"format"`
	FrameNumber     uint64            `json:"frame_number"`
	Width           int               `json:"width"`
	Height          int               `json:"height"`
	Stride          int               `json:"stride"`
	BitsPerPixel    int               `json:"bits_per_pixel"`
	Timestamp       float64           `json:"timestamp_ms"`
	TimestampDomain string            `json:"timestamp_domain"`
	ArrivedAt       string            `json:"arrived_at"`
	Stats           *depth.DepthStats `json:"depth_stats,omitempty"`
}

func newFrameJSON(m depth.FrameMetadata, stats *depth.DepthStats) frameJSON {
	return frameJSON{
		Stream:          m.Stream.String(),
		Format:          m.Format.String(),
		FrameNumber:     m.FrameNumber,
		Width:           m.Width,
		Height:          m.Height,
		Stride:          m.Stride,
		BitsPerPixel:    m.BitsPerPixel,
		Timestamp:       m.Timestamp,
		TimestampDomain: m.TimestampDomain.String(),
		ArrivedAt:       m.ArrivedAt.UTC().Format(time.RFC3339Nano),
		Stats:           stats,
	}
}

// handleLatestFrame returns the latest frame of a stream.
// Query params:
//
//	stream (optional, default "depth")
func (ws *WebServer) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	stream := depth.StreamDepth
	if s := r.URL.Query().Get("stream"); s != "" {
		k, err := depth.ParseStreamKind(s)
		if err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		stream = k
	}
	snap := ws.store.Latest(stream)
	if snap == nil {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no %s frame yet", stream))
		return
	}
	ws.writeJSON(w, newFrameJSON(snap.Meta, snap.Stats))
}

// handleRecentFrames lists recorded frames of the current session.
// Query params:
//
//	limit (optional, default 20, max 500)
func (ws *WebServer) handleRecentFrames(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil || ws.sessionID == "" {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no capture database configured")
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	records, err := ws.db.RecentFrames(r.Context(), ws.sessionID, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("recent frames: %v", err))
		return
	}
	out := make([]frameJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, frameJSON{
			Stream:          rec.Stream.String(),
			Format:          rec.Format.String(),
			FrameNumber:     rec.FrameNumber,
			Width:           rec.Width,
			Height:          rec.Height,
			Stride:          rec.Stride,
			BitsPerPixel:    rec.BitsPerPixel,
			Timestamp:       rec.TimestampMs,
			TimestampDomain: rec.TimestampDomain,
			ArrivedAt:       rec.ArrivedAt.UTC().Format(time.RFC3339Nano),
			Stats:           rec.Stats,
		})
	}
	ws.writeJSON(w, out)
}

func (ws *WebServer) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, ws.store.SessionStats())
}

// handleDepthHistogram renders the latest depth frame as a PNG histogram.
func (ws *WebServer) handleDepthHistogram(w http.ResponseWriter, r *http.Request) {
	img, snap, ok := ws.store.LatestDepth()
	if !ok {
		ws.writeJSONError(w, http.StatusNotFound, "no depth frame yet")
		return
	}
	_, scale := ws.store.Projection()
	values := depth.DepthValues(img, scale)

	var buf bytes.Buffer
	title := fmt.Sprintf("Depth distribution, frame %d", snap.Meta.FrameNumber)
	if err := ws.plotter.Render(&buf, values, title); err != nil {
		ws.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
