package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/image/tiff"

	"github.com/banshee-data/depthcam/internal/capturedb"
	"github.com/banshee-data/depthcam/internal/config"
	"github.com/banshee-data/depthcam/internal/depth"
	"github.com/banshee-data/depthcam/internal/monitor"
	"github.com/banshee-data/depthcam/internal/security"
	"github.com/banshee-data/depthcam/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to a capture config JSON file (default: built-in defaults)")
	useSim     = flag.Bool("sim", false, "Capture from the synthetic device instead of hardware")
	frames     = flag.Int("frames", 0, "Stop after delivering this many frames (0: run until interrupted)")
	dbFile     = flag.String("db", "", "Path to the SQLite capture database (overrides config; \"-\" disables)")
	listen     = flag.String("listen", "", "HTTP monitor listen address (overrides config; \"-\" disables)")
	grpcAddr   = flag.String("grpc", "", "gRPC health listen address (overrides config)")
	exportASC  = flag.Bool("export-asc", false, "Export the last depth frame as an ASC point cloud on exit")
	saveFormat = flag.String("save", "", "Save the last frame of each stream on exit: png or tiff")
	logDiag    = flag.Bool("log-diag", false, "Enable per-frame diagnostic logging")
	logTrace   = flag.Bool("log-trace", false, "Enable frame buffer trace logging")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

// source is an opened capture device with its calibration.
type source struct {
	dev        depth.Device
	name       string
	intrinsics depth.Intrinsics
	depthScale float64
	close      func() error
}

func loadConfig() (*config.CaptureConfig, error) {
	var cfg *config.CaptureConfig
	if *configFile != "" {
		c, err := config.LoadCaptureConfig(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.EmptyCaptureConfig()
	}
	override := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	override(&cfg.DBPath, *dbFile)
	override(&cfg.ListenAddr, *listen)
	override(&cfg.GRPCAddr, *grpcAddr)
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}
	if *saveFormat != "" && *saveFormat != "png" && *saveFormat != "tiff" {
		log.Fatalf("-save must be png or tiff, got %q", *saveFormat)
	}

	var diag, trace io.Writer
	if *logDiag {
		diag = os.Stderr
	}
	if *logTrace {
		trace = os.Stderr
	}
	depth.SetLogWriters(depth.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})

	if err := run(); err != nil {
		log.Printf("capture failed: %v", err)
		os.Exit(1)
	}
}

// run captures until interrupted, the frame limit is reached or the session
// fails. Every resource it opens is closed before it returns.
func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	src, err := openSource(cfg, *useSim)
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	defer func() {
		if err := src.close(); err != nil {
			log.Printf("device close error: %v", err)
		}
	}()
	log.Printf("starting %s", version.String())
	intrinsics := cfg.ResolveIntrinsics(src.intrinsics)
	log.Printf("opened %s device: %dx%d fx=%.1f fy=%.1f depth_scale=%g",
		src.name, intrinsics.Width, intrinsics.Height, intrinsics.Fx, intrinsics.Fy, src.depthScale)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *capturedb.DB
	var sessionID string
	if path := cfg.GetDBPath(); path != "-" {
		db, err = capturedb.Open(path)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		sessionID, err = db.StartSession(ctx, src.name, cfg, time.Now())
		if err != nil {
			return fmt.Errorf("failed to start capture session: %w", err)
		}
		log.Printf("capture session %s recorded in %s", sessionID, path)
	}

	session := depth.NewSession(src.dev, cfg.SessionConfig())
	store := monitor.NewFrameStore(intrinsics, src.depthScale)
	store.SetSessionStats(session.Stats)

	var health *monitor.HealthServer
	if addr := cfg.GetGRPCAddr(); addr != "" {
		health = monitor.NewHealthServer()
		if _, err := health.Start(addr); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer health.Stop()
	}

	var wg sync.WaitGroup
	webCtx, stopWeb := context.WithCancel(ctx)
	if addr := cfg.GetListenAddr(); addr != "-" {
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address:   addr,
			Store:     store,
			DB:        db,
			SessionID: sessionID,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(webCtx); err != nil {
				log.Printf("monitor server error: %v", err)
			}
		}()
	}

	if health != nil {
		health.SetServing(true)
	}
	rec := &recorder{db: db, sessionID: sessionID, store: store, limit: *frames}
	runErr := session.Run(ctx, rec.handle)
	if health != nil {
		health.SetServing(false)
	}
	if err := session.Close(); err != nil {
		log.Printf("session close error: %v", err)
	}

	stats := session.Stats()
	if db != nil {
		if err := db.EndSession(context.Background(), sessionID, time.Now(), stats); err != nil {
			log.Printf("failed to end capture session: %v", err)
		}
	}

	exportDir := cfg.GetExportDir()
	if *exportASC {
		if last, ok := rec.last[depth.StreamDepth]; ok {
			name := fmt.Sprintf("depth_%d.asc", last.Meta.FrameNumber)
			path, err := depth.ExportDepthASC(last, intrinsics, src.depthScale, exportDir, name)
			if err != nil {
				log.Printf("ASC export failed: %v", err)
			} else {
				log.Printf("exported point cloud to %s", path)
			}
		} else {
			log.Printf("no depth frame captured; nothing to export")
		}
	}
	if *saveFormat != "" {
		for _, data := range rec.last {
			path, err := saveImage(data, exportDir, *saveFormat)
			if err != nil {
				log.Printf("failed to save %s frame: %v", data.Meta.Stream, err)
				continue
			}
			log.Printf("saved %s frame %d to %s", data.Meta.Stream, data.Meta.FrameNumber, path)
		}
	}

	stopWeb()
	wg.Wait()
	if runErr != nil {
		return runErr
	}
	log.Printf("Graceful shutdown complete: %d bundles, %d frames delivered, %d evicted",
		stats.Bundles, stats.Delivered, stats.Evicted)
	return nil
}

// recorder publishes each delivered frame to the monitor and database and
// keeps the last frame per stream for export.
type recorder struct {
	db        *capturedb.DB
	sessionID string
	store     *monitor.FrameStore
	limit     int
	count     int
	last      map[depth.StreamKind]depth.ImageData
}

func (r *recorder) handle(data depth.ImageData) error {
	if r.last == nil {
		r.last = make(map[depth.StreamKind]depth.ImageData)
	}
	r.last[data.Meta.Stream] = data
	stats := r.store.Publish(data)
	if r.db != nil {
		if _, err := r.db.RecordFrame(context.Background(), capturedb.NewFrameRecord(r.sessionID, data.Meta, stats)); err != nil {
			log.Printf("failed to record frame %d: %v", data.Meta.FrameNumber, err)
		}
	}
	r.count++
	if r.limit > 0 && r.count >= r.limit {
		return depth.ErrStop
	}
	return nil
}

// saveImage writes data into dir as PNG or TIFF. Depth and Y16 frames keep
// their full 16 bits.
func saveImage(data depth.ImageData, dir, format string) (string, error) {
	if format != "png" && format != "tiff" {
		return "", errors.New("unsupported image format " + format)
	}
	img, err := data.Decode()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%d.%s", strings.ToLower(data.Meta.Stream.String()), data.Meta.FrameNumber, format)
	path, err := security.ResolveExportPath(dir, name)
	if err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := encodeImage(f, img, format); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func encodeImage(w io.Writer, img image.Image, format string) error {
	switch format {
	case "png":
		return png.Encode(w, img)
	case "tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return errors.New("unsupported image format " + format)
	}
}
