package compositor

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"

	ilog "github.com/menta2k/idcard/internal/log"
)

// Compositor places a portrait and a name label onto a template canvas
type Compositor struct {
	face *Face
	log  logrus.FieldLogger
}

// New creates a Compositor that renders labels with face
func New(face *Face) *Compositor {
	return &Compositor{face: face, log: ilog.Discard()}
}

// SetLogger sets the logger
func (c *Compositor) SetLogger(logger logrus.FieldLogger) {
	if logger != nil {
		c.log = logger
	}
}

// Face returns the label face
func (c *Compositor) Face() *Face {
	return c.face
}

// WrapText wraps text to maxWidth using the compositor's face
func (c *Compositor) WrapText(text string, maxWidth int) []string {
	return WrapText(text, maxWidth, c.face)
}

// Compose returns a copy of the template canvas with photo resized into the
// photo slot and name drawn at the text anchor. The template is not modified.
func (c *Compositor) Compose(tpl *Template, photo image.Image, name string) (*image.NRGBA, error) {
	if tpl == nil || tpl.Canvas == nil {
		return nil, errors.New("template not loaded")
	}
	if photo == nil {
		return nil, errors.New("no photo to compose")
	}
	if c.face == nil {
		return nil, errors.New("font not loaded")
	}

	slot := tpl.Slot
	if slot.Width <= 0 || slot.Height <= 0 {
		return nil, errors.New("photo slot has no area")
	}

	canvas := imaging.Clone(tpl.Canvas)

	// Exact slot size; the portrait may be stretched
	resized := imaging.Resize(photo, slot.Width, slot.Height, imaging.Lanczos)
	canvas = imaging.Paste(canvas, resized, image.Pt(slot.X, slot.Y))

	anchor := tpl.Anchor
	lines := c.WrapText(name, anchor.MaxWidth)
	if len(lines) > 1 {
		c.log.WithField("lines", len(lines)).Debug("name wrapped")
	}

	drawer := &font.Drawer{
		Dst: canvas,
		Src: image.NewUniform(anchor.Color),
	}
	y := anchor.Y
	for _, line := range lines {
		c.face.draw(drawer, anchor.X, y, line)
		y += anchor.FontSize + anchor.LineSpacing
	}

	return canvas, nil
}
