package vision

import (
	"errors"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"

	ilog "github.com/menta2k/idcard/internal/log"
	"github.com/menta2k/idcard/pkg/types"
)

var (
	// ErrNoFace is returned when no candidate survives filtering
	ErrNoFace = errors.New("no face detected")
	// ErrNoNetwork is returned when the locator has no usable detection backend
	ErrNoNetwork = errors.New("face detection network not loaded")
)

// Rejection reasons recorded on filtered candidates
const (
	RejectLowConfidence = "low_confidence"
	RejectArea          = "area_out_of_range"
	RejectAspect        = "aspect_out_of_range"
)

// Network runs a face detector over an image and returns raw candidates with
// boxes normalized to the image size.
type Network interface {
	Detect(img image.Image) ([]types.Detection, error)
}

// LocatorConfig holds the candidate filtering thresholds
type LocatorConfig struct {
	ConfidenceThreshold float64
	MinAreaRatio        float64
	MaxAreaRatio        float64
	MinAspectRatio      float64
	MaxAspectRatio      float64
}

// DefaultLocatorConfig returns the standard filtering thresholds
func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{
		ConfidenceThreshold: 0.5,
		MinAreaRatio:        0.005,
		MaxAreaRatio:        0.9,
		MinAspectRatio:      0.3,
		MaxAspectRatio:      2.5,
	}
}

// FaceLocator picks the single most plausible face in an image
type FaceLocator struct {
	net    Network
	config LocatorConfig
	log    logrus.FieldLogger
}

// New creates a FaceLocator with default thresholds
func New(net Network) *FaceLocator {
	return NewWithConfig(net, DefaultLocatorConfig())
}

// NewWithConfig creates a FaceLocator with custom thresholds
func NewWithConfig(net Network, config LocatorConfig) *FaceLocator {
	return &FaceLocator{net: net, config: config, log: ilog.Discard()}
}

// SetLogger sets the logger used for detector failures
func (l *FaceLocator) SetLogger(logger logrus.FieldLogger) {
	if logger != nil {
		l.log = logger
	}
}

// Ready reports whether a detection backend is available
func (l *FaceLocator) Ready() bool {
	return l != nil && l.net != nil
}

// Candidate is a detection mapped to pixels, with the reason it was rejected
// if it did not pass filtering
type Candidate struct {
	Detection types.Detection `json:"detection"`
	Rect      types.Rect      `json:"rect"`
	AreaRatio float64         `json:"area_ratio"`
	Aspect    float64         `json:"aspect"`
	Rejected  string          `json:"rejected,omitempty"`
}

// Result is the outcome of a detailed locate call
type Result struct {
	Face       types.Rect  `json:"face"`
	Confidence float64     `json:"confidence"`
	Candidates []Candidate `json:"candidates"`
}

// Locate returns the best face box, or false when there is none. Detector
// failures are treated the same as an empty result.
func (l *FaceLocator) Locate(img image.Image) (types.Rect, bool) {
	res, err := l.LocateDetailed(img)
	if err != nil {
		return types.Rect{}, false
	}
	return res.Face, true
}

// LocateDetailed runs the network and returns the selected face together with
// every candidate considered. It returns ErrNoFace when nothing survives.
func (l *FaceLocator) LocateDetailed(img image.Image) (Result, error) {
	if !l.Ready() {
		return Result{}, ErrNoNetwork
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return Result{}, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}

	detections, err := l.net.Detect(img)
	if err != nil {
		l.log.WithError(err).Warn("face detection failed")
		return Result{}, fmt.Errorf("face detection failed: %w", err)
	}

	candidates := l.Filter(detections, width, height)
	best := SelectBest(candidates)
	if best < 0 {
		return Result{Candidates: candidates}, ErrNoFace
	}

	return Result{
		Face:       candidates[best].Rect,
		Confidence: candidates[best].Detection.Confidence,
		Candidates: candidates,
	}, nil
}

// Filter maps detections onto a width x height image and marks those that
// fail the confidence, area or aspect checks. Order is preserved.
func (l *FaceLocator) Filter(detections []types.Detection, width, height int) []Candidate {
	candidates := make([]Candidate, 0, len(detections))
	imageArea := float64(width * height)

	for _, det := range detections {
		c := Candidate{Detection: det}
		if det.Confidence < l.config.ConfidenceThreshold {
			c.Rejected = RejectLowConfidence
			candidates = append(candidates, c)
			continue
		}

		c.Rect = ToPixels(det.Box, width, height)
		c.AreaRatio = float64(c.Rect.Area()) / imageArea
		c.Aspect = float64(c.Rect.W) / float64(c.Rect.H)

		switch {
		case c.AreaRatio < l.config.MinAreaRatio || c.AreaRatio > l.config.MaxAreaRatio:
			c.Rejected = RejectArea
		case c.Aspect < l.config.MinAspectRatio || c.Aspect > l.config.MaxAspectRatio:
			c.Rejected = RejectAspect
		}
		candidates = append(candidates, c)
	}

	return candidates
}

// SelectBest returns the index of the accepted candidate with the highest
// confidence, the earliest one on ties, or -1 if none was accepted.
func SelectBest(candidates []Candidate) int {
	best := -1
	for i, c := range candidates {
		if c.Rejected != "" {
			continue
		}
		if best < 0 || c.Detection.Confidence > candidates[best].Detection.Confidence {
			best = i
		}
	}
	return best
}

// ToPixels converts a normalized box to pixel coordinates clamped to the image
func ToPixels(box types.Box, width, height int) types.Rect {
	fw, fh := float64(width), float64(height)
	x1 := int(clamp(box.X*fw, 0, fw-1))
	y1 := int(clamp(box.Y*fh, 0, fh-1))
	x2 := int(clamp((box.X+box.W)*fw, 0, fw-1))
	y2 := int(clamp((box.Y+box.H)*fh, 0, fh-1))

	w := x2 - x1
	if w < 1 {
		w = 1
	}
	h := y2 - y1
	if h < 1 {
		h = 1
	}
	return types.Rect{X: x1, Y: y1, W: w, H: h}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
