// Package dnn runs the res10 300x300 SSD Caffe face detector through OpenCV.
package dnn

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/menta2k/idcard/pkg/types"
)

// ErrModelNotFound is returned when the model or its prototxt is missing
var ErrModelNotFound = errors.New("face detection model not found")

const (
	inputSize = 300
	// values per detection row: image id, class, confidence, x1, y1, x2, y2
	rowLen = 7
)

// SSD is a face detection network. Detect may be called from several
// goroutines; calls are serialized.
type SSD struct {
	mu  sync.Mutex
	net gocv.Net
}

// NewSSD loads the Caffe model and its deploy prototxt
func NewSSD(modelPath, prototxtPath string) (*SSD, error) {
	for _, p := range []string{modelPath, prototxtPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, p)
		}
	}

	net := gocv.ReadNet(modelPath, prototxtPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to read network from %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &SSD{net: net}, nil
}

// Detect returns every row of the network output with its box normalized to
// the input image
func (s *SSD) Detect(img image.Image) ([]types.Detection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	// BGR input, mean subtraction, no channel swap
	blob := gocv.BlobFromImage(mat, 1.0, image.Pt(inputSize, inputSize),
		gocv.NewScalar(104, 177, 123, 0), false, false)
	defer blob.Close()

	s.mu.Lock()
	s.net.SetInput(blob, "")
	prob := s.net.Forward("")
	s.mu.Unlock()
	defer prob.Close()

	if prob.Empty() {
		return nil, errors.New("network returned no output")
	}

	total := prob.Total()
	detections := make([]types.Detection, 0, total/rowLen)
	for i := 0; i+rowLen <= total; i += rowLen {
		confidence := prob.GetFloatAt(0, i+2)
		x1 := float64(prob.GetFloatAt(0, i+3))
		y1 := float64(prob.GetFloatAt(0, i+4))
		x2 := float64(prob.GetFloatAt(0, i+5))
		y2 := float64(prob.GetFloatAt(0, i+6))

		detections = append(detections, types.Detection{
			Confidence: float64(confidence),
			Box:        types.Box{X: x1, Y: y1, W: x2 - x1, H: y2 - y1},
		})
	}

	return detections, nil
}

// Close releases the network
func (s *SSD) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}
