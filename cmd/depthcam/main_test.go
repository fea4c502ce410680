package main

import (
	"encoding/binary"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/banshee-data/depthcam/internal/config"
	"github.com/banshee-data/depthcam/internal/depth"
	"github.com/banshee-data/depthcam/internal/monitor"
	"github.com/banshee-data/depthcam/internal/testutil"
)

func TestFlagDefaults(t *testing.T) {
	if *frames != 0 {
		t.Errorf("frames default = %d, want 0", *frames)
	}
	if *useSim {
		t.Error("sim should default to false")
	}
	if *saveFormat != "" {
		t.Errorf("save default = %q, want empty", *saveFormat)
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	*dbFile, *listen = "-", "127.0.0.1:0"
	t.Cleanup(func() { *dbFile, *listen = "", "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "-", cfg.GetDBPath())
	assert.Equal(t, "127.0.0.1:0", cfg.GetListenAddr())
	assert.Equal(t, "", cfg.GetGRPCAddr())
}

func TestRecorder_StopsAtLimit(t *testing.T) {
	store := monitor.NewFrameStore(testutil.Intrinsics(4, 4), 0.001)
	rec := &recorder{store: store, limit: 2}

	require.NoError(t, rec.handle(testutil.FlatDepthFrame(t, 1, 4, 4, 900)))
	err := rec.handle(testutil.ColorFrame(t, 1, 4, 4, func(int, int) (uint8, uint8, uint8) { return 1, 2, 3 }))
	assert.True(t, errors.Is(err, depth.ErrStop))

	assert.Len(t, rec.last, 2)
	assert.Equal(t, uint64(2), store.Published())
}

func TestSaveImage_DepthKeepsSixteenBits(t *testing.T) {
	dir := t.TempDir()
	data := testutil.DepthFrame(t, 5, 6, 4, 2, func(x, y int) uint16 { return uint16(1000*y + x) })

	path, err := saveImage(data, dir, "tiff")
	require.NoError(t, err)
	assert.Equal(t, "depth_5.tiff", filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := tiff.Decode(f)
	require.NoError(t, err)
	g, ok := img.(*image.Gray16)
	require.True(t, ok, "got %T", img)
	assert.Equal(t, uint16(3005), g.Gray16At(5, 3).Y)
}

func TestSaveImage_DepthUsesFrameByteOrder(t *testing.T) {
	dir := t.TempDir()
	data := testutil.DepthFrame(t, 6, 2, 1, 0, func(x, y int) uint16 { return 0x0102 })
	data.ByteOrder = binary.BigEndian

	path, err := saveImage(data, dir, "tiff")
	require.NoError(t, err)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := tiff.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0201), img.(*image.Gray16).Gray16At(0, 0).Y)
}

func TestSaveImage_ColorPNG(t *testing.T) {
	dir := t.TempDir()
	data := testutil.ColorFrame(t, 2, 3, 3, func(x, y int) (uint8, uint8, uint8) { return 200, uint8(x), uint8(y) })

	path, err := saveImage(data, dir, "png")
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	_, err = saveImage(data, dir, "bmp")
	assert.Error(t, err)
}

func TestOpenSim_UsesConfig(t *testing.T) {
	cfg := config.EmptyCaptureConfig()
	w, h, fps := 32, 24, 0
	cfg.Width, cfg.Height, cfg.FrameRate = &w, &h, &fps

	src, err := openSim(cfg)
	require.NoError(t, err)
	assert.Equal(t, 32, src.intrinsics.Width)
	assert.InDelta(t, 0.001, src.depthScale, 1e-12)
	assert.NoError(t, src.close())
}

func TestRun_ReturnsErrorsInsteadOfExiting(t *testing.T) {
	*useSim, *dbFile, *listen = true, filepath.Join(t.TempDir(), "missing", "dir", "capture.db"), "-"
	t.Cleanup(func() { *useSim, *dbFile, *listen = false, "", "" })

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to database")
}

func TestRun_SimCapturesFrameLimit(t *testing.T) {
	*useSim, *dbFile, *listen, *frames = true, filepath.Join(t.TempDir(), "capture.db"), "-", 3
	t.Cleanup(func() { *useSim, *dbFile, *listen, *frames = false, "", "", 0 })

	require.NoError(t, run())
}
