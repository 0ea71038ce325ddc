// Package analyzer screens input photos before they reach the face detector.
package analyzer

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedFormat is returned for decodable images of a format the
	// pipeline does not accept
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooSmall is returned for images below the minimum size
	ErrTooSmall = errors.New("image too small")
)

// Analyzer checks that photos are usable portrait sources
type Analyzer struct {
	config Config
}

// Config holds the acceptance rules
type Config struct {
	// SupportedFormats are decoder names as reported by image.DecodeConfig
	SupportedFormats []string
	// MinImageSize is the minimum width and height in pixels
	MinImageSize int
}

// DefaultConfig returns the standard acceptance rules
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"jpeg", "png", "bmp", "webp"},
		MinImageSize:     64,
	}
}

// New creates a new Analyzer with default configuration
func New() *Analyzer {
	return &Analyzer{config: DefaultConfig()}
}

// NewWithConfig creates a new Analyzer with custom configuration
func NewWithConfig(config Config) *Analyzer {
	return &Analyzer{config: config}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Area        int     `json:"area"`
	Format      string  `json:"format,omitempty"`
}

// Inspect reads only the image header of the file at path and checks it
// against the acceptance rules
func (a *Analyzer) Inspect(path string) (ImageInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to open image file: %w", err)
	}
	defer file.Close()

	return a.InspectReader(file)
}

// InspectReader is Inspect for an already opened image
func (a *Analyzer) InspectReader(r io.Reader) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to decode image header: %w", err)
	}

	if !a.isFormatSupported(format) {
		return ImageInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	info := newInfo(cfg.Width, cfg.Height)
	info.Format = format
	return info, a.checkSize(info.Width, info.Height)
}

// GetImageInfo returns basic information about an image
func (a *Analyzer) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	return newInfo(bounds.Dx(), bounds.Dy())
}

// ValidateImage checks if an image meets minimum requirements
func (a *Analyzer) ValidateImage(img image.Image) error {
	if img == nil {
		return errors.New("nil image")
	}
	bounds := img.Bounds()
	return a.checkSize(bounds.Dx(), bounds.Dy())
}

func (a *Analyzer) checkSize(w, h int) error {
	if w < a.config.MinImageSize || h < a.config.MinImageSize {
		return fmt.Errorf("%w: %dx%d (minimum: %d)", ErrTooSmall, w, h, a.config.MinImageSize)
	}
	return nil
}

func (a *Analyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

func newInfo(w, h int) ImageInfo {
	info := ImageInfo{Width: w, Height: h, Area: w * h}
	if h > 0 {
		info.AspectRatio = float64(w) / float64(h)
	}
	return info
}
