package processing

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/idcard/pkg/types"
)

// Overlay is what the debug image shows on top of the source photo
type Overlay struct {
	Face    types.Rect
	Crop    types.Rect
	HeadTop float64
	Chin    float64
}

var (
	faceColor    = color.NRGBA{0, 255, 0, 255}   // detected face
	cropColor    = color.NRGBA{255, 204, 0, 255} // crop rectangle
	centerColor  = color.NRGBA{255, 0, 0, 255}   // face center
	headTopColor = color.NRGBA{0, 170, 255, 255} // estimated hairline
	chinColor    = color.NRGBA{255, 0, 255, 255} // extended chin
)

// CreateDebugOverlay returns a copy of img with the face box, crop box,
// hairline and chin guides and face center drawn on it
func (p *Processor) CreateDebugOverlay(img image.Image, o Overlay) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	stroke := int(math.Max(2, 0.004*float64(minInt(w, h)))) // ~0.4% of min side
	cross := int(math.Max(4, 0.01*float64(minInt(w, h))))   // ~1% of min side

	if !o.Face.Empty() {
		drawRect(nrgba, o.Face, faceColor, stroke)

		// guides span the face width
		x0, x1 := o.Face.X, o.Face.X+o.Face.W
		for s := 0; s < stroke; s++ {
			drawHLine(nrgba, int(o.HeadTop)+s, x0, x1, headTopColor)
			drawHLine(nrgba, int(o.Chin)-s, x0, x1, chinColor)
		}

		cx, cy := o.Face.Center()
		drawHLine(nrgba, cy, cx-cross, cx+cross, centerColor)
		drawVLine(nrgba, cx, cy-cross, cy+cross, centerColor)
	}

	if !o.Crop.Empty() {
		drawRect(nrgba, o.Crop, cropColor, stroke)
	}

	return nrgba
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawRect(img *image.NRGBA, r types.Rect, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := r.X, r.Y, r.X+r.W, r.Y+r.H
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
