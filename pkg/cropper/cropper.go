package cropper

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/idcard/pkg/types"
)

// HairPolicy estimates how far above the face box the hairline sits, as a
// fraction of the face height
type HairPolicy struct {
	Base                     float64
	Min                      float64
	Max                      float64
	SmallFaceMultiplier      float64
	LargeFaceMultiplier      float64
	TopPositionMultiplier    float64
	BottomPositionMultiplier float64
}

// CropConfig holds the portrait framing proportions
type CropConfig struct {
	// TargetHeadRatio is the share of the crop height taken by hairline to chin
	TargetHeadRatio float64
	// TargetTopMargin is the space above the hairline, as a share of the crop height
	TargetTopMargin float64
	// ChinExtraRatio extends the face box below the chin, as a share of the face height
	ChinExtraRatio float64
	Hair           HairPolicy
}

// Face size and position thresholds used to pick a hair multiplier
const (
	smallFaceRatio    = 0.3
	largeFaceRatio    = 0.6
	topPositionRatio  = 0.4
	lowPositionRatio  = 0.7
	conservativeHair  = 0.2
	conservativeScale = 0.6
)

// DefaultCropConfig returns the standard portrait proportions
func DefaultCropConfig() CropConfig {
	return CropConfig{
		TargetHeadRatio: 0.75,
		TargetTopMargin: 0.08,
		ChinExtraRatio:  0.12,
		Hair: HairPolicy{
			Base:                     0.25,
			Min:                      0.15,
			Max:                      0.35,
			SmallFaceMultiplier:      1.1,
			LargeFaceMultiplier:      0.6,
			TopPositionMultiplier:    0.6,
			BottomPositionMultiplier: 1.0,
		},
	}
}

// GeometryEngine computes portrait crop rectangles around a detected face
type GeometryEngine struct {
	config CropConfig
}

// New creates a GeometryEngine with default proportions
func New() *GeometryEngine {
	return &GeometryEngine{config: DefaultCropConfig()}
}

// NewWithConfig creates a GeometryEngine with custom proportions
func NewWithConfig(config CropConfig) *GeometryEngine {
	return &GeometryEngine{config: config}
}

// Config returns the engine's proportions
func (e *GeometryEngine) Config() CropConfig {
	return e.config
}

// HairRatio picks the hair ratio for a face in an image of height imageH
func (e *GeometryEngine) HairRatio(face types.Rect, imageH int) float64 {
	p := e.config.Hair
	_, cy := face.Center()
	sizeRatio := float64(face.H) / float64(imageH)
	positionRatio := float64(cy) / float64(imageH)

	ratio := p.Base
	switch {
	case sizeRatio < smallFaceRatio:
		ratio = p.Base * p.SmallFaceMultiplier
	case sizeRatio > largeFaceRatio:
		ratio = p.Base * p.LargeFaceMultiplier
	case positionRatio < topPositionRatio:
		ratio = p.Base * p.TopPositionMultiplier
	case positionRatio > lowPositionRatio:
		ratio = p.Base * p.BottomPositionMultiplier
	}

	return math.Max(p.Min, math.Min(p.Max, ratio))
}

// EstimateHeadTop returns the y coordinate of the estimated hairline. The
// result is never negative.
func (e *GeometryEngine) EstimateHeadTop(face types.Rect, imageH int) float64 {
	if imageH <= 0 {
		return 0
	}

	headTop := float64(face.Y) - e.HairRatio(face, imageH)*float64(face.H)
	if headTop < 0 {
		// face close to the top edge, fall back to a smaller allowance
		conservative := math.Min(conservativeHair, float64(face.H)/float64(imageH)*conservativeScale)
		headTop = math.Max(0, float64(face.Y)-conservative*float64(face.H))
	}
	return headTop
}

// Guides are the horizontal reference lines derived from a face box
type Guides struct {
	HeadTop float64
	Chin    float64
}

// Guides returns the estimated hairline and extended chin line for a face
func (e *GeometryEngine) Guides(face types.Rect, imageH int) Guides {
	chin := float64(face.Y+face.H) + e.config.ChinExtraRatio*float64(face.H)
	return Guides{
		HeadTop: e.EstimateHeadTop(face, imageH),
		Chin:    math.Min(float64(imageH-1), chin),
	}
}

// ComputeCropRect returns a crop rectangle of the given width/height aspect
// that frames the head of face and lies fully inside an imageW x imageH image.
// The face box must be valid; a zero Rect is returned for degenerate input.
func (e *GeometryEngine) ComputeCropRect(imageW, imageH int, face types.Rect, targetAspect float64) types.Rect {
	if imageW <= 0 || imageH <= 0 || targetAspect <= 0 || e.config.TargetHeadRatio <= 0 {
		return types.Rect{}
	}

	W, H := float64(imageW), float64(imageH)
	g := e.Guides(face, imageH)
	cx, _ := face.Center()
	faceCX := float64(cx)

	headHeight := math.Max(1, g.Chin-g.HeadTop)
	cropH := headHeight / e.config.TargetHeadRatio
	cropW := cropH * targetAspect

	cropY := math.RoundToEven(g.HeadTop - e.config.TargetTopMargin*cropH)
	cropX := math.RoundToEven(faceCX - cropW/2)

	// Width first, then height. When both trigger the height pass decides x.
	if cropX < 0 {
		cropX = 0
	}
	if cropX+cropW > W {
		cropW = W
		cropH = cropW / targetAspect
		cropX = 0
	}
	if cropY < 0 {
		cropY = 0
	}
	if cropY+cropH > H {
		cropH = H
		cropW = cropH * targetAspect
		cropY = 0
		cropX = math.Max(0, math.Min(math.RoundToEven(faceCX-cropW/2), W-cropW))
	}

	// A full-height crop of a narrow image can still be wider than the image
	if cropW > W {
		cropW = W
		cropH = cropW / targetAspect
		cropX = 0
		cropY = math.Max(0, math.Min(cropY, H-cropH))
	}

	return types.Rect{
		X: int(cropX),
		Y: int(cropY),
		W: int(cropW),
		H: int(cropH),
	}
}

// CropAndResize cuts rect out of img and resizes it to exactly width x height
func CropAndResize(img image.Image, rect types.Rect, width, height int) (*image.NRGBA, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle %+v", rect)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d", width, height)
	}

	bounds := img.Bounds()
	region := rect.Image().Add(bounds.Min)
	if !region.In(bounds) {
		return nil, fmt.Errorf("crop rectangle %+v outside image %dx%d", rect, bounds.Dx(), bounds.Dy())
	}

	cropped := imaging.Crop(img, region)
	return imaging.Resize(cropped, width, height, imaging.Lanczos), nil
}

// Portrait is a framed and resized crop together with the geometry that
// produced it
type Portrait struct {
	Image  *image.NRGBA
	Face   types.Rect
	Crop   types.Rect
	Guides Guides
}

// Frame crops img around face at the aspect of width x height and resizes
// the result to exactly that size
func (e *GeometryEngine) Frame(img image.Image, face types.Rect, width, height int) (*Portrait, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d", width, height)
	}

	bounds := img.Bounds()
	aspect := float64(width) / float64(height)
	rect := e.ComputeCropRect(bounds.Dx(), bounds.Dy(), face, aspect)

	out, err := CropAndResize(img, rect, width, height)
	if err != nil {
		return nil, err
	}

	return &Portrait{
		Image:  out,
		Face:   face,
		Crop:   rect,
		Guides: e.Guides(face, bounds.Dy()),
	}, nil
}
