package config

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/depthcam/internal/depth"
)

// DefaultConfigPath is the path to the canonical capture defaults file.
const DefaultConfigPath = "config/capture.defaults.json"

// IntrinsicsOverride replaces the device-reported calibration. Width and
// height always come from the stream.
type IntrinsicsOverride struct {
	Ppx float64 `json:"ppx"`
	Ppy float64 `json:"ppy"`
	Fx  float64 `json:"fx"`
	Fy  float64 `json:"fy"`
}

// CaptureConfig is the root configuration for a capture run. Every field
// is optional; the Get* methods supply defaults for omitted values.
type CaptureConfig struct {
	// Stream selection
	Stream      *string `json:"stream,omitempty"` // "depth", "color", "infrared"
	Format      *string `json:"format,omitempty"` // "Z16", "RGB8", ...
	StreamIndex *int    `json:"stream_index,omitempty"`
	Width       *int    `json:"width,omitempty"`
	Height      *int    `json:"height,omitempty"`
	FrameRate   *int    `json:"frame_rate,omitempty"`

	// Session
	WaitTimeout    *string `json:"wait_timeout,omitempty"` // duration string like "15s"
	BufferCapacity *int    `json:"buffer_capacity,omitempty"`

	// Decoding and projection
	DepthScale *float64            `json:"depth_scale,omitempty"` // metres per Z16 unit
	ByteOrder  *string             `json:"byte_order,omitempty"`  // "little" or "big"
	Intrinsics *IntrinsicsOverride `json:"intrinsics,omitempty"`

	// Outputs
	DBPath     *string `json:"db_path,omitempty"`
	ExportDir  *string `json:"export_dir,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty"`
	GRPCAddr   *string `json:"grpc_addr,omitempty"`

	// Simulator
	SimRowPadding *int `json:"sim_row_padding,omitempty"`
}

// EmptyCaptureConfig returns a CaptureConfig with all fields nil.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// LoadCaptureConfig loads a CaptureConfig from a .json file of at most 1MB.
// Omitted fields keep their defaults, so partial configs are safe.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCaptureConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *CaptureConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/device/sim/
	}
	for _, path := range candidates {
		if cfg, err := LoadCaptureConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set field.
func (c *CaptureConfig) Validate() error {
	if c.Stream != nil {
		if _, err := depth.ParseStreamKind(*c.Stream); err != nil {
			return err
		}
	}
	if c.Format != nil {
		f, err := depth.ParsePixelFormat(*c.Format)
		if err != nil {
			return err
		}
		if !f.Decodable() {
			return fmt.Errorf("format %s cannot be decoded", f)
		}
	}
	for name, v := range map[string]*int{"width": c.Width, "height": c.Height, "frame_rate": c.FrameRate} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}
	if c.StreamIndex != nil && *c.StreamIndex < 0 {
		return fmt.Errorf("stream_index must be non-negative, got %d", *c.StreamIndex)
	}
	if c.WaitTimeout != nil && *c.WaitTimeout != "" {
		d, err := time.ParseDuration(*c.WaitTimeout)
		if err != nil {
			return fmt.Errorf("invalid wait_timeout '%s': %w", *c.WaitTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("wait_timeout must be positive, got %s", d)
		}
	}
	if c.BufferCapacity != nil && *c.BufferCapacity < 1 {
		return fmt.Errorf("buffer_capacity must be at least 1, got %d", *c.BufferCapacity)
	}
	if c.DepthScale != nil && *c.DepthScale <= 0 {
		return fmt.Errorf("depth_scale must be positive, got %g", *c.DepthScale)
	}
	if c.ByteOrder != nil {
		switch strings.ToLower(*c.ByteOrder) {
		case "little", "big":
		default:
			return fmt.Errorf("byte_order must be \"little\" or \"big\", got %q", *c.ByteOrder)
		}
	}
	if in := c.Intrinsics; in != nil && (in.Fx == 0 || in.Fy == 0) {
		return fmt.Errorf("intrinsics override needs non-zero fx and fy")
	}
	if c.SimRowPadding != nil && *c.SimRowPadding < 0 {
		return fmt.Errorf("sim_row_padding must be non-negative, got %d", *c.SimRowPadding)
	}
	return nil
}

// GetStream returns the selected stream kind (default depth).
func (c *CaptureConfig) GetStream() depth.StreamKind {
	if c.Stream == nil {
		return depth.StreamDepth
	}
	k, err := depth.ParseStreamKind(*c.Stream)
	if err != nil {
		return depth.StreamDepth
	}
	return k
}

// GetFormat returns the selected pixel format (default Z16).
func (c *CaptureConfig) GetFormat() depth.PixelFormat {
	if c.Format == nil {
		return depth.FormatZ16
	}
	f, err := depth.ParsePixelFormat(*c.Format)
	if err != nil {
		return depth.FormatZ16
	}
	return f
}

func (c *CaptureConfig) GetStreamIndex() int {
	if c.StreamIndex == nil {
		return 0
	}
	return *c.StreamIndex
}

func (c *CaptureConfig) GetWidth() int {
	if c.Width == nil || *c.Width == 0 {
		return 640
	}
	return *c.Width
}

func (c *CaptureConfig) GetHeight() int {
	if c.Height == nil || *c.Height == 0 {
		return 480
	}
	return *c.Height
}

func (c *CaptureConfig) GetFrameRate() int {
	if c.FrameRate == nil {
		return 30
	}
	return *c.FrameRate
}

// GetWaitTimeout parses WaitTimeout, defaulting to depth.DefaultWaitTimeout.
func (c *CaptureConfig) GetWaitTimeout() time.Duration {
	if c.WaitTimeout == nil || *c.WaitTimeout == "" {
		return depth.DefaultWaitTimeout
	}
	d, err := time.ParseDuration(*c.WaitTimeout)
	if err != nil || d <= 0 {
		return depth.DefaultWaitTimeout
	}
	return d
}

func (c *CaptureConfig) GetBufferCapacity() int {
	if c.BufferCapacity == nil {
		return depth.DefaultBufferCapacity
	}
	return *c.BufferCapacity
}

// GetDepthScale returns metres per depth unit (default 1 mm).
func (c *CaptureConfig) GetDepthScale() float64 {
	if c.DepthScale == nil {
		return 0.001
	}
	return *c.DepthScale
}

// GetByteOrder returns the 16-bit sample byte order (default little endian).
func (c *CaptureConfig) GetByteOrder() binary.ByteOrder {
	if c.ByteOrder != nil && strings.EqualFold(*c.ByteOrder, "big") {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ResolveIntrinsics applies the override, if any, to the device calibration.
func (c *CaptureConfig) ResolveIntrinsics(device depth.Intrinsics) depth.Intrinsics {
	if c.Intrinsics == nil {
		return device
	}
	device.Ppx = c.Intrinsics.Ppx
	device.Ppy = c.Intrinsics.Ppy
	device.Fx = c.Intrinsics.Fx
	device.Fy = c.Intrinsics.Fy
	return device
}

func (c *CaptureConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "depthcam.db"
	}
	return *c.DBPath
}

// GetExportDir returns the export directory; empty means the temp dir.
func (c *CaptureConfig) GetExportDir() string {
	if c.ExportDir == nil {
		return ""
	}
	return *c.ExportDir
}

func (c *CaptureConfig) GetListenAddr() string {
	if c.ListenAddr == nil {
		return ":8090"
	}
	return *c.ListenAddr
}

// GetGRPCAddr returns the health service address; empty disables it.
func (c *CaptureConfig) GetGRPCAddr() string {
	if c.GRPCAddr == nil {
		return ""
	}
	return *c.GRPCAddr
}

func (c *CaptureConfig) GetSimRowPadding() int {
	if c.SimRowPadding == nil {
		return 0
	}
	return *c.SimRowPadding
}

// SessionConfig maps the session fields onto depth.SessionConfig.
func (c *CaptureConfig) SessionConfig() depth.SessionConfig {
	return depth.SessionConfig{
		BufferCapacity: c.GetBufferCapacity(),
		WaitTimeout:    c.GetWaitTimeout(),
		ByteOrder:      c.GetByteOrder(),
	}
}
