//go:build realsense

package main

import (
	"github.com/banshee-data/depthcam/internal/config"
	"github.com/banshee-data/depthcam/internal/device/rs2"
)

func openSource(cfg *config.CaptureConfig, useSim bool) (*source, error) {
	if useSim {
		return openSim(cfg)
	}
	dev, err := rs2.Open(rs2.Config{
		Stream:      cfg.GetStream(),
		Format:      cfg.GetFormat(),
		StreamIndex: cfg.GetStreamIndex(),
		Width:       cfg.GetWidth(),
		Height:      cfg.GetHeight(),
		FrameRate:   cfg.GetFrameRate(),
	})
	if err != nil {
		return nil, err
	}
	in, err := dev.Intrinsics()
	if err != nil {
		dev.Close()
		return nil, err
	}
	// Depth scale is an explicit input: the config value wins over the
	// sensor's reported unit only when set.
	scale := cfg.GetDepthScale()
	if cfg.DepthScale == nil {
		if s, err := dev.DepthScale(); err == nil {
			scale = s
		}
	}
	return &source{dev: dev, name: "realsense", intrinsics: in, depthScale: scale, close: dev.Close}, nil
}
