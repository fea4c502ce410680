//go:build !realsense

package main

import (
	"log"

	"github.com/banshee-data/depthcam/internal/config"
)

// openSource always uses the synthetic device; hardware capture needs the
// realsense build tag.
func openSource(cfg *config.CaptureConfig, useSim bool) (*source, error) {
	if !useSim {
		log.Printf("built without realsense support; using the synthetic device")
	}
	return openSim(cfg)
}
