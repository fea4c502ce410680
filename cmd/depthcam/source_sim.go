package main

import (
	"github.com/banshee-data/depthcam/internal/config"
	"github.com/banshee-data/depthcam/internal/depth"
	"github.com/banshee-data/depthcam/internal/device/sim"
)

func openSim(cfg *config.CaptureConfig) (*source, error) {
	simCfg := sim.DefaultConfig()
	simCfg.Width = cfg.GetWidth()
	simCfg.Height = cfg.GetHeight()
	simCfg.FrameRate = cfg.GetFrameRate()
	simCfg.RowPadding = cfg.GetSimRowPadding()
	simCfg.DepthScale = cfg.GetDepthScale()
	if cfg.Stream != nil {
		kind := cfg.GetStream()
		simCfg.Streams = []sim.Stream{{Kind: kind, Format: cfg.GetFormat(), Index: cfg.GetStreamIndex()}}
	}
	dev, err := sim.New(simCfg)
	if err != nil {
		return nil, err
	}
	return &source{
		dev:        dev,
		name:       "sim",
		intrinsics: dev.Intrinsics(),
		depthScale: dev.DepthScale(),
		close: func() error {
			if frames, bundles := dev.Outstanding(); frames+bundles > 0 {
				depth.Opsf("sim: %d frames and %d bundles never released", frames, bundles)
			}
			return nil
		},
	}, nil
}
