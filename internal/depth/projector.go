package depth

import (
	"errors"
	"fmt"
	"image"

	"gonum.org/v1/gonum/spatial/r3"
)

// DistortionModel is the lens model tag reported with the intrinsics
// (rs2_distortion). Projection uses the pinhole model and ignores it.
type DistortionModel int32

const (
	DistortionNone DistortionModel = iota
	DistortionModifiedBrownConrady
	DistortionInverseBrownConrady
	DistortionFTheta
	DistortionBrownConrady
	DistortionKannalaBrandt4
)

// Intrinsics are the per-stream calibration parameters.
type Intrinsics struct {
	Width  int
	Height int
	Ppx    float64 // principal point, pixels from the left edge
	Ppy    float64 // principal point, pixels from the top edge
	Fx     float64 // focal length in multiples of pixel width
	Fy     float64 // focal length in multiples of pixel height
	Model  DistortionModel
	Coeffs [5]float64
}

// Validate rejects intrinsics that would divide by zero.
func (in Intrinsics) Validate() error {
	if in.Fx == 0 || in.Fy == 0 {
		return fmt.Errorf("invalid intrinsics: focal length fx=%g fy=%g", in.Fx, in.Fy)
	}
	return nil
}

// Point is one reconstructed sample in camera coordinates (X right, Y down,
// Z forward) in the units selected by the depth scale.
type Point struct {
	Pos       r3.Vec
	Intensity uint16 // raw depth sample
}

// Project back-projects every pixel of a depth image:
//
//	z = d * depthScale
//	x = (u - ppx) * z / fx
//	y = (v - ppy) * z / fy
//
// It returns exactly one point per pixel in row-major order, so point i is
// pixel (i % width, i / width). Zero-depth pixels are kept; FilterValid is
// the caller's choice.
func Project(img *image.Gray16, in Intrinsics, depthScale float64) ([]Point, error) {
	if img == nil {
		return nil, errors.New("project: nil depth image")
	}
	if depthScale <= 0 {
		return nil, fmt.Errorf("project: depth scale must be positive, got %g", depthScale)
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}

	b := img.Bounds()
	points := make([]Point, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		v := float64(y - b.Min.Y)
		for x := b.Min.X; x < b.Max.X; x++ {
			u := float64(x - b.Min.X)
			d := img.Gray16At(x, y).Y
			z := float64(d) * depthScale
			points = append(points, Point{
				Pos: r3.Vec{
					X: (u - in.Ppx) * z / in.Fx,
					Y: (v - in.Ppy) * z / in.Fy,
					Z: z,
				},
				Intensity: d,
			})
		}
	}
	return points, nil
}

// ProjectImageData decodes a Z16 frame and projects it.
func ProjectImageData(d ImageData, in Intrinsics, depthScale float64) ([]Point, error) {
	if d.Meta.Format != FormatZ16 {
		return nil, fmt.Errorf("project: %w: %s is not a depth format", ErrUnsupportedFormat, d.Meta.Format)
	}
	img, err := d.Decode()
	if err != nil {
		return nil, err
	}
	return Project(img.(*image.Gray16), in, depthScale)
}

// FilterValid returns the points with non-zero depth, preserving order.
func FilterValid(points []Point) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Intensity != 0 {
			out = append(out, p)
		}
	}
	return out
}
