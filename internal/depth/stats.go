package depth

import (
	"image"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DepthStats summarises the valid (non-zero) samples of a depth frame in
// depth-scale units.
type DepthStats struct {
	Pixels int     `json:"pixels"`
	Valid  int     `json:"valid"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// ValidRatio is the fraction of pixels carrying a depth sample.
func (s DepthStats) ValidRatio() float64 {
	if s.Pixels == 0 {
		return 0
	}
	return float64(s.Valid) / float64(s.Pixels)
}

// ComputeDepthStats scales every non-zero sample and summarises them.
func ComputeDepthStats(img *image.Gray16, depthScale float64) DepthStats {
	if img == nil {
		return DepthStats{}
	}
	b := img.Bounds()
	s := DepthStats{Pixels: b.Dx() * b.Dy()}
	values := DepthValues(img, depthScale)
	s.Valid = len(values)
	if s.Valid == 0 {
		return s
	}
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	if s.Valid == 1 {
		s.Mean = values[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	return s
}

// DepthValues returns the scaled non-zero samples, e.g. for histograms.
func DepthValues(img *image.Gray16, depthScale float64) []float64 {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	values := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if d := img.Gray16At(x, y).Y; d != 0 {
				values = append(values, float64(d)*depthScale)
			}
		}
	}
	return values
}
