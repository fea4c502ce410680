package testutil

import (
	"errors"
	"image"
	"net/http"
	"testing"

	"github.com/banshee-data/depthcam/internal/depth"
)

func TestAssertHelpers_PassingPaths(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	AssertNoError(fakeT, nil)
	AssertError(fakeT, errors.New("something wrong"))
	if fakeT.Failed() {
		t.Error("expected no failure from passing assertions")
	}
}

func TestNewTestRequest_MethodAndPath(t *testing.T) {
	req := NewTestRequest(http.MethodPost, "/api/test")
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if req.URL.Path != "/api/test" {
		t.Errorf("path = %s, want /api/test", req.URL.Path)
	}
	if w := NewTestRecorder(); w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("recorder not clean: code=%d len=%d", w.Code, w.Body.Len())
	}
}

func TestDepthFrame_RoundTripsSamples(t *testing.T) {
	data := DepthFrame(t, 4, 5, 3, 6, func(x, y int) uint16 { return uint16(100*y + x) })
	if data.Meta.Stride != 16 {
		t.Fatalf("stride = %d, want 16", data.Meta.Stride)
	}
	img, err := data.Decode()
	AssertNoError(t, err)
	g := img.(*image.Gray16)
	if got := g.Gray16At(4, 2).Y; got != 204 {
		t.Errorf("sample (4,2) = %d, want 204", got)
	}
	if data.Meta.Stream != depth.StreamDepth {
		t.Errorf("stream = %v, want depth", data.Meta.Stream)
	}
}

func TestColorFrame_PixelAt(t *testing.T) {
	data := ColorFrame(t, 1, 2, 2, func(x, y int) (uint8, uint8, uint8) { return uint8(x), uint8(y), 7 })
	px, err := data.PixelAt(1, 1)
	AssertNoError(t, err)
	if px.R != 1 || px.G != 1 || px.B != 7 {
		t.Errorf("pixel = %+v, want {1 1 7}", px)
	}
}
