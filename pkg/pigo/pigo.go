// Package pigo adapts the pure Go pigo cascade face detector.
package pigo

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"

	"github.com/menta2k/idcard/pkg/types"
)

// ErrCascadeNotFound is returned when the cascade file is missing
var ErrCascadeNotFound = errors.New("face cascade not found")

// Config tunes the cascade scan
type Config struct {
	// MinSize is the smallest face side in pixels of the scanned image
	MinSize int
	// MaxSizeRatio caps the face side at this share of the shorter image side
	MaxSizeRatio float64
	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64
	// QualityScale maps the cascade score to a [0,1] confidence: Q/QualityScale
	QualityScale float64
	// MaxDimension downscales larger images before scanning
	MaxDimension int
}

// DefaultConfig returns scan parameters suitable for portraits
func DefaultConfig() Config {
	return Config{
		MinSize:      40,
		MaxSizeRatio: 0.8,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		QualityScale: 10,
		MaxDimension: 1200,
	}
}

// Detector runs a pigo cascade. The unpacked classifier is read-only, so
// Detect is safe for concurrent use.
type Detector struct {
	classifier *pigo.Pigo
	config     Config
}

// New loads a cascade file such as "facefinder"
func New(cascadePath string) (*Detector, error) {
	return NewWithConfig(cascadePath, DefaultConfig())
}

// NewWithConfig loads a cascade file with custom scan parameters
func NewWithConfig(cascadePath string, config Config) (*Detector, error) {
	data, err := os.ReadFile(cascadePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCascadeNotFound, cascadePath)
		}
		return nil, fmt.Errorf("error reading cascade file: %w", err)
	}

	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("error unpacking cascade file: %w", err)
	}

	return &Detector{classifier: classifier, config: config}, nil
}

// Detect scans img and returns clustered detections normalized to its size
func (d *Detector) Detect(img image.Image) ([]types.Detection, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.New("empty image")
	}

	scanned := img
	if limit := d.config.MaxDimension; limit > 0 && (bounds.Dx() > limit || bounds.Dy() > limit) {
		scanned = imaging.Fit(img, limit, limit, imaging.Linear)
	}

	sb := scanned.Bounds()
	cols, rows := sb.Dx(), sb.Dy()

	params := pigo.CascadeParams{
		MinSize:     d.config.MinSize,
		MaxSize:     int(math.Min(float64(cols), float64(rows)) * d.config.MaxSizeRatio),
		ShiftFactor: d.config.ShiftFactor,
		ScaleFactor: d.config.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(scanned),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	faces := d.classifier.RunCascade(params, 0.0)
	faces = d.classifier.ClusterDetections(faces, d.config.IoUThreshold)

	fw, fh := float64(cols), float64(rows)
	detections := make([]types.Detection, 0, len(faces))
	for _, f := range faces {
		side := float64(f.Scale)
		detections = append(detections, types.Detection{
			Confidence: d.confidence(f.Q),
			Box: types.Box{
				X: (float64(f.Col) - side/2) / fw,
				Y: (float64(f.Row) - side/2) / fh,
				W: side / fw,
				H: side / fh,
			},
		})
	}

	return detections, nil
}

func (d *Detector) confidence(q float32) float64 {
	if d.config.QualityScale <= 0 {
		return 1
	}
	return math.Max(0, math.Min(1, float64(q)/d.config.QualityScale))
}
