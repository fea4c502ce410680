// Package capturedb persists capture sessions and per-frame summaries in
// sqlite.
package capturedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/depthcam/internal/depth"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("capture session not found")

type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path, applies the
// connection pragmas and migrates the schema to the latest version.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection also keeps
	// ":memory:" databases shared across calls.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, path: path}
	if err := db.applyPragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) applyPragmas() error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// Path is the database file path.
func (db *DB) Path() string {
	return db.path
}

// SessionRecord is one row of capture_sessions.
type SessionRecord struct {
	ID         string             `json:"id"`
	Source     string             `json:"source"`
	ConfigJSON string             `json:"config_json"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    *time.Time         `json:"ended_at,omitempty"`
	Stats      depth.SessionStats `json:"stats"`
}

// FrameRecord is one row of capture_frames. Stats is nil for frames that
// are not depth frames.
type FrameRecord struct {
	ID              int64
	SessionID       string
	FrameNumber     uint64
	Stream          depth.StreamKind
	Format          depth.PixelFormat
	Width           int
	Height          int
	Stride          int
	BitsPerPixel    int
	TimestampMs     float64
	TimestampDomain string
	ArrivedAt       time.Time
	Stats           *depth.DepthStats
}

// NewFrameRecord fills a record from frame metadata.
func NewFrameRecord(sessionID string, m depth.FrameMetadata, stats *depth.DepthStats) FrameRecord {
	return FrameRecord{
		SessionID:       sessionID,
		FrameNumber:     m.FrameNumber,
		Stream:          m.Stream,
		Format:          m.Format,
		Width:           m.Width,
		Height:          m.Height,
		Stride:          m.Stride,
		BitsPerPixel:    m.BitsPerPixel,
		TimestampMs:     m.Timestamp,
		TimestampDomain: m.TimestampDomain.String(),
		ArrivedAt:       m.ArrivedAt,
		Stats:           stats,
	}
}

// StartSession inserts a new session and returns its generated ID. config
// is stored as JSON for later inspection.
func (db *DB) StartSession(ctx context.Context, source string, config any, started time.Time) (string, error) {
	cfgJSON := []byte("{}")
	if config != nil {
		b, err := json.Marshal(config)
		if err != nil {
			return "", fmt.Errorf("marshal session config: %w", err)
		}
		cfgJSON = b
	}
	id := uuid.New().String()
	_, err := db.ExecContext(ctx, `
		INSERT INTO capture_sessions (session_id, source, config_json, started_unix_nanos)
		VALUES (?, ?, ?, ?)`,
		id, source, string(cfgJSON), started.UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert capture session: %w", err)
	}
	log.Printf("[capturedb] started session %s (%s)", id, source)
	return id, nil
}

// EndSession stamps the end time and final counters of a session.
func (db *DB) EndSession(ctx context.Context, id string, ended time.Time, stats depth.SessionStats) error {
	res, err := db.ExecContext(ctx, `
		UPDATE capture_sessions
		SET ended_unix_nanos = ?, bundles = ?, frames = ?, delivered = ?,
		    evicted = ?, timeouts = ?, frame_errors = ?
		WHERE session_id = ?`,
		ended.UnixNano(), int64(stats.Bundles), int64(stats.Frames), int64(stats.Delivered),
		int64(stats.Evicted), int64(stats.Timeouts), int64(stats.FrameErrors), id)
	if err != nil {
		return fmt.Errorf("update capture session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("end session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// GetSession loads one session.
func (db *DB) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var (
		rec     SessionRecord
		started int64
		ended   sql.NullInt64
		s       [6]int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT session_id, source, config_json, started_unix_nanos, ended_unix_nanos,
		       bundles, frames, delivered, evicted, timeouts, frame_errors
		FROM capture_sessions WHERE session_id = ?`, id).
		Scan(&rec.ID, &rec.Source, &rec.ConfigJSON, &started, &ended,
			&s[0], &s[1], &s[2], &s[3], &s[4], &s[5])
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("get session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return SessionRecord{}, err
	}
	rec.StartedAt = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		rec.EndedAt = &t
	}
	rec.Stats = depth.SessionStats{
		Bundles:     uint64(s[0]),
		Frames:      uint64(s[1]),
		Delivered:   uint64(s[2]),
		Evicted:     uint64(s[3]),
		Timeouts:    uint64(s[4]),
		FrameErrors: uint64(s[5]),
	}
	return rec, nil
}

// RecordFrame inserts one frame summary and returns its row ID.
func (db *DB) RecordFrame(ctx context.Context, r FrameRecord) (int64, error) {
	var valid sql.NullInt64
	var dmin, dmax, dmean, dstd sql.NullFloat64
	if r.Stats != nil {
		valid = sql.NullInt64{Int64: int64(r.Stats.Valid), Valid: true}
		dmin = sql.NullFloat64{Float64: r.Stats.Min, Valid: true}
		dmax = sql.NullFloat64{Float64: r.Stats.Max, Valid: true}
		dmean = sql.NullFloat64{Float64: r.Stats.Mean, Valid: true}
		dstd = sql.NullFloat64{Float64: r.Stats.StdDev, Valid: true}
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO capture_frames (
			session_id, frame_number, stream, format, width, height, stride, bits_per_pixel,
			timestamp_ms, timestamp_domain, arrived_unix_nanos,
			valid_pixels, depth_min, depth_max, depth_mean, depth_stddev
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, int64(r.FrameNumber), r.Stream.String(), r.Format.String(),
		r.Width, r.Height, r.Stride, r.BitsPerPixel,
		r.TimestampMs, r.TimestampDomain, r.ArrivedAt.UnixNano(),
		valid, dmin, dmax, dmean, dstd)
	if err != nil {
		return 0, fmt.Errorf("insert capture frame: %w", err)
	}
	return res.LastInsertId()
}

// RecentFrames returns up to limit frames of a session, newest first.
func (db *DB) RecentFrames(ctx context.Context, sessionID string, limit int) ([]FrameRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT frame_id, session_id, frame_number, stream, format, width, height, stride,
		       bits_per_pixel, timestamp_ms, timestamp_domain, arrived_unix_nanos,
		       valid_pixels, depth_min, depth_max, depth_mean, depth_stddev
		FROM capture_frames
		WHERE session_id = ?
		ORDER BY frame_id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var (
			r                      FrameRecord
			number, arrived        int64
			stream, format         string
			valid                  sql.NullInt64
			dmin, dmax, dmean, dsd sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &number, &stream, &format,
			&r.Width, &r.Height, &r.Stride, &r.BitsPerPixel,
			&r.TimestampMs, &r.TimestampDomain, &arrived,
			&valid, &dmin, &dmax, &dmean, &dsd); err != nil {
			return nil, err
		}
		r.FrameNumber = uint64(number)
		r.ArrivedAt = time.Unix(0, arrived)
		if r.Stream, err = depth.ParseStreamKind(stream); err != nil {
			return nil, err
		}
		if r.Format, err = depth.ParsePixelFormat(format); err != nil {
			return nil, err
		}
		if valid.Valid {
			r.Stats = &depth.DepthStats{
				Pixels: r.Width * r.Height,
				Valid:  int(valid.Int64),
				Min:    dmin.Float64,
				Max:    dmax.Float64,
				Mean:   dmean.Float64,
				StdDev: dsd.Float64,
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
