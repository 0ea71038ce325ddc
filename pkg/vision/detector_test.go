package vision

import (
	"errors"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/idcard/pkg/types"
)

// createTestImage creates a flat test image of the given size
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 64, 255})
		}
	}
	return img
}

// fakeNetwork returns canned detections
type fakeNetwork struct {
	detections []types.Detection
	err        error
	calls      int
}

func (f *fakeNetwork) Detect(img image.Image) ([]types.Detection, error) {
	f.calls++
	return f.detections, f.err
}

func det(conf, x, y, w, h float64) types.Detection {
	return types.Detection{Confidence: conf, Box: types.Box{X: x, Y: y, W: w, H: h}}
}

func TestNew(t *testing.T) {
	locator := New(&fakeNetwork{})
	if locator == nil {
		t.Fatal("New() returned nil")
	}
	if locator.config.ConfidenceThreshold != 0.5 {
		t.Errorf("Expected threshold 0.5, got %f", locator.config.ConfidenceThreshold)
	}
	if !locator.Ready() {
		t.Error("Expected locator with network to be ready")
	}
}

func TestLocateNoNetwork(t *testing.T) {
	locator := New(nil)
	if locator.Ready() {
		t.Error("Expected locator without network not to be ready")
	}

	if _, ok := locator.Locate(createTestImage(100, 100)); ok {
		t.Error("Expected no face without a network")
	}
	if _, err := locator.LocateDetailed(createTestImage(100, 100)); !errors.Is(err, ErrNoNetwork) {
		t.Errorf("Expected ErrNoNetwork, got %v", err)
	}
}

func TestLocateZeroDetections(t *testing.T) {
	locator := New(&fakeNetwork{})
	if _, ok := locator.Locate(createTestImage(200, 200)); ok {
		t.Error("Expected no face for zero detections")
	}
}

func TestLocateNetworkError(t *testing.T) {
	locator := New(&fakeNetwork{err: errors.New("forward failed")})

	if _, ok := locator.Locate(createTestImage(200, 200)); ok {
		t.Error("Expected network failure to yield no face")
	}
	if _, err := locator.LocateDetailed(createTestImage(200, 200)); err == nil || errors.Is(err, ErrNoFace) {
		t.Errorf("Expected wrapped network error, got %v", err)
	}
}

func TestLocateSingleFace(t *testing.T) {
	net := &fakeNetwork{detections: []types.Detection{det(0.98, 0.375, 0.1875, 0.25, 0.1875)}}
	locator := New(net)

	face, ok := locator.Locate(createTestImage(1200, 1600))
	if !ok {
		t.Fatal("Expected a face")
	}

	expected := types.Rect{X: 450, Y: 300, W: 300, H: 300}
	if face != expected {
		t.Errorf("Expected %+v, got %+v", expected, face)
	}
	if net.calls != 1 {
		t.Errorf("Expected one network call, got %d", net.calls)
	}
}

func TestLocateRejectsHugeBox(t *testing.T) {
	// 0.95 of the image area, above the 0.9 ceiling
	net := &fakeNetwork{detections: []types.Detection{det(0.9, 0, 0, 0.95, 1.0)}}
	locator := New(net)

	res, err := locator.LocateDetailed(createTestImage(1000, 1000))
	if !errors.Is(err, ErrNoFace) {
		t.Fatalf("Expected ErrNoFace, got %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Rejected != RejectArea {
		t.Errorf("Expected one area rejection, got %+v", res.Candidates)
	}
}

func TestLocateRejectsTinyBox(t *testing.T) {
	net := &fakeNetwork{detections: []types.Detection{det(0.99, 0.5, 0.5, 0.02, 0.02)}}
	if _, ok := New(net).Locate(createTestImage(1000, 1000)); ok {
		t.Error("Expected tiny box to be rejected")
	}
}

func TestLocateRejectsAspect(t *testing.T) {
	net := &fakeNetwork{detections: []types.Detection{
		det(0.95, 0.1, 0.1, 0.6, 0.2), // 3.0 wide
		det(0.95, 0.1, 0.1, 0.05, 0.5), // 0.1 tall
	}}

	res, err := New(net).LocateDetailed(createTestImage(1000, 1000))
	if !errors.Is(err, ErrNoFace) {
		t.Fatalf("Expected ErrNoFace, got %v", err)
	}
	for i, c := range res.Candidates {
		if c.Rejected != RejectAspect {
			t.Errorf("Candidate %d: expected aspect rejection, got %q", i, c.Rejected)
		}
	}
}

func TestLocateRejectsLowConfidence(t *testing.T) {
	net := &fakeNetwork{detections: []types.Detection{det(0.49, 0.3, 0.3, 0.3, 0.3)}}
	res, err := New(net).LocateDetailed(createTestImage(500, 500))
	if !errors.Is(err, ErrNoFace) {
		t.Fatalf("Expected ErrNoFace, got %v", err)
	}
	if res.Candidates[0].Rejected != RejectLowConfidence {
		t.Errorf("Expected low confidence rejection, got %q", res.Candidates[0].Rejected)
	}
}

func TestLocatePicksHighestConfidence(t *testing.T) {
	net := &fakeNetwork{detections: []types.Detection{
		det(0.7, 0.1, 0.1, 0.2, 0.2),
		det(0.95, 0.5, 0.5, 0.2, 0.2),
		det(0.99, 0.0, 0.0, 1.0, 1.0), // rejected by area
		det(0.8, 0.3, 0.3, 0.2, 0.2),
	}}

	res, err := New(net).LocateDetailed(createTestImage(1000, 1000))
	if err != nil {
		t.Fatalf("LocateDetailed failed: %v", err)
	}
	if res.Face.X != 500 || res.Face.Y != 500 {
		t.Errorf("Expected face at 500,500, got %+v", res.Face)
	}
	if res.Confidence != 0.95 {
		t.Errorf("Expected confidence 0.95, got %f", res.Confidence)
	}
	if len(res.Candidates) != 4 {
		t.Errorf("Expected all candidates reported, got %d", len(res.Candidates))
	}
}

func TestLocateTieKeepsFirst(t *testing.T) {
	net := &fakeNetwork{detections: []types.Detection{
		det(0.9, 0.1, 0.1, 0.2, 0.2),
		det(0.9, 0.6, 0.6, 0.2, 0.2),
	}}

	face, ok := New(net).Locate(createTestImage(1000, 1000))
	if !ok {
		t.Fatal("Expected a face")
	}
	if face.X != 100 {
		t.Errorf("Expected first detection on tie, got %+v", face)
	}
}

func TestToPixelsClamps(t *testing.T) {
	tests := []struct {
		name     string
		box      types.Box
		expected types.Rect
	}{
		{"inside", types.Box{X: 0.1, Y: 0.2, W: 0.3, H: 0.4}, types.Rect{X: 10, Y: 20, W: 30, H: 40}},
		{"negative origin", types.Box{X: -0.2, Y: -0.1, W: 0.5, H: 0.5}, types.Rect{X: 0, Y: 0, W: 30, H: 40}},
		{"past edge", types.Box{X: 0.8, Y: 0.8, W: 0.5, H: 0.5}, types.Rect{X: 80, Y: 80, W: 19, H: 19}},
		{"degenerate", types.Box{X: 1.2, Y: 1.2, W: 0.1, H: 0.1}, types.Rect{X: 99, Y: 99, W: 1, H: 1}},
	}

	for _, tt := range tests {
		got := ToPixels(tt.box, 100, 100)
		if got != tt.expected {
			t.Errorf("%s: expected %+v, got %+v", tt.name, tt.expected, got)
		}
		if !got.Within(100, 100) {
			t.Errorf("%s: %+v is outside the image", tt.name, got)
		}
	}
}

func TestNewWithConfig(t *testing.T) {
	cfg := DefaultLocatorConfig()
	cfg.ConfidenceThreshold = 0.95

	net := &fakeNetwork{detections: []types.Detection{det(0.9, 0.3, 0.3, 0.3, 0.3)}}
	if _, ok := NewWithConfig(net, cfg).Locate(createTestImage(300, 300)); ok {
		t.Error("Expected custom threshold to reject 0.9 detection")
	}
}

func BenchmarkLocate(b *testing.B) {
	dets := make([]types.Detection, 0, 200)
	for i := 0; i < 200; i++ {
		dets = append(dets, det(float64(i%100)/100, 0.1, 0.1, 0.2, 0.25))
	}
	locator := New(&fakeNetwork{detections: dets})
	img := createTestImage(640, 480)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		locator.Locate(img)
	}
}

func TestDefaultLoggerIsSilent(t *testing.T) {
	l := NewWithConfig(nil, DefaultLocatorConfig())
	logger, ok := l.log.(*logrus.Logger)
	if !ok {
		t.Fatalf("Expected *logrus.Logger, got %T", l.log)
	}
	if logger.Out != io.Discard {
		t.Errorf("Expected default logger to write nowhere, got %T", logger.Out)
	}
}
