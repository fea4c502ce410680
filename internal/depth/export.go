package depth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/depthcam/internal/security"
)

// WriteASC writes points as a CloudCompare-compatible ASCII cloud:
// one "X Y Z Intensity" line per point, in metres.
func WriteASC(w io.Writer, points []Point) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Exported depth points\n")
	fmt.Fprintf(bw, "# Format: X Y Z Intensity\n")
	for _, p := range points {
		fmt.Fprintf(bw, "%.6f %.6f %.6f %d\n", p.Pos.X, p.Pos.Y, p.Pos.Z, p.Intensity)
	}
	return bw.Flush()
}

// ExportPointsToASC writes points to name under dir and returns the path
// written. Only the final component of name is used.
func ExportPointsToASC(points []Point, dir, name string) (string, error) {
	if len(points) == 0 {
		return "", errors.New("no points to export")
	}
	path, err := security.ResolveExportPath(dir, name)
	if err != nil {
		Opsf("rejected export path %q: %v", name, err)
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteASC(f, points); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	Diagf("exported %d points to %s", len(points), path)
	return path, nil
}

// ExportDepthASC projects a Z16 frame and exports its valid points.
func ExportDepthASC(data ImageData, in Intrinsics, depthScale float64, dir, name string) (string, error) {
	points, err := ProjectImageData(data, in, depthScale)
	if err != nil {
		return "", err
	}
	return ExportPointsToASC(FilterValid(points), dir, name)
}
