// Package idcard turns raw photographs into passport style portraits and
// composes them onto ID card templates.
//
// Basic usage:
//
//	package main
//
//	import (
//		"log"
//
//		"github.com/menta2k/idcard"
//		"github.com/menta2k/idcard/internal/config"
//		"github.com/menta2k/idcard/pkg/processing"
//	)
//
//	func main() {
//		gen, err := idcard.New(config.Default())
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer gen.Close()
//
//		proc := processing.NewProcessor()
//		img, err := proc.LoadImage("张小明.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		card, err := gen.Process(img, "Student", gen.DisplayName("张小明"))
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		if err := proc.SaveImage(card, "Student_Xiaoming Zhang.jpg", "jpg", 95, false); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// A Generator bundles the three stages:
//
// 1. FaceLocator (pkg/vision): runs a detection backend and picks one face
// 2. GeometryEngine (pkg/cropper): frames the head at a fixed ratio and margin
// 3. Compositor (pkg/compositor): pastes the portrait and writes the name
//
// Detection backends are selected by photo_cropping.face_detection.method:
// "dnn" (OpenCV SSD), "pigo" (pure Go cascade), "ollama" and "llamacpp"
// (vision language models).
package idcard

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/idcard/internal/config"
	ilog "github.com/menta2k/idcard/internal/log"
	"github.com/menta2k/idcard/pkg/compositor"
	"github.com/menta2k/idcard/pkg/cropper"
	"github.com/menta2k/idcard/pkg/detection"
	"github.com/menta2k/idcard/pkg/dnn"
	"github.com/menta2k/idcard/pkg/llamacpp"
	"github.com/menta2k/idcard/pkg/ollama"
	"github.com/menta2k/idcard/pkg/pigo"
	"github.com/menta2k/idcard/pkg/transliterate"
	"github.com/menta2k/idcard/pkg/vision"
)

// Version of the idcard library
const Version = "1.0.0"

// ErrModelLoad is returned by New when the face detection backend cannot be
// created
var ErrModelLoad = errors.New("failed to load face detector")

// Generator crops portraits and composes ID cards. It is safe for
// concurrent use.
type Generator struct {
	cfg     *config.Config
	net     vision.Network
	locator *vision.FaceLocator
	engine  *cropper.GeometryEngine
	comp    *compositor.Compositor
	names   transliterate.Options
	log     logrus.FieldLogger

	noNet bool

	mu        sync.Mutex
	templates map[string]*compositor.Template
}

// Option customizes a Generator
type Option func(*Generator)

// WithNetwork uses net instead of the backend named in the configuration
func WithNetwork(net vision.Network) Option {
	return func(g *Generator) {
		g.net = net
	}
}

// WithoutDetector skips loading a detection backend. CropPortrait then
// fails with vision.ErrNoNetwork; composing still works.
func WithoutDetector() Option {
	return func(g *Generator) {
		g.noNet = true
	}
}

// WithLogger sets the logger for the generator and its components
func WithLogger(logger logrus.FieldLogger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.log = logger
		}
	}
}

// New creates a Generator from cfg. The detection backend and the label font
// are loaded here so that missing resources fail before any photo is read.
func New(cfg *config.Config, opts ...Option) (*Generator, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	g := &Generator{
		cfg:       cfg,
		log:       ilog.Discard(),
		templates: make(map[string]*compositor.Template),
	}
	for _, opt := range opts {
		opt(g)
	}

	names, err := NameOptions(cfg.NameConversion)
	if err != nil {
		return nil, err
	}
	g.names = names

	owned := false
	if g.net == nil && !g.noNet {
		net, err := NewNetwork(cfg.PhotoCropping.FaceDetection)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
		}
		g.net = net
		owned = true
	}

	text := cfg.IDCard.TextPosition
	face, err := compositor.LoadFace(cfg.IDCard.Font.Path, text.FontSize, cfg.IDCard.Font.Required)
	if err != nil {
		if owned {
			g.Close()
		}
		return nil, err
	}
	if face.Degraded() {
		g.log.WithFields(logrus.Fields{
			"font":   cfg.IDCard.Font.Path,
			"reason": face.Reason(),
		}).Warn("Font not available, using built-in bitmap font")
	}

	g.locator = vision.NewWithConfig(g.net, locatorConfig(cfg.PhotoCropping.FaceDetection))
	g.locator.SetLogger(g.log)
	g.engine = cropper.NewWithConfig(cropConfig(cfg.PhotoCropping.CroppingParameters))
	g.comp = compositor.New(face)
	g.comp.SetLogger(g.log)

	return g, nil
}

// NewNetwork creates the detection backend named by fd.Method
func NewNetwork(fd config.FaceDetectionConfig) (vision.Network, error) {
	switch strings.ToLower(fd.Method) {
	case "", "dnn":
		return dnn.NewSSD(fd.ModelPath, fd.PrototxtPath)
	case "pigo":
		return pigo.New(fd.CascadePath)
	case "ollama":
		client, err := ollama.NewClient(fd.VisionURL)
		if err != nil {
			return nil, err
		}
		return detection.NewDetector(client, fd.VisionModel, 0), nil
	case "llamacpp":
		client, err := llamacpp.NewClient(fd.VisionURL)
		if err != nil {
			return nil, err
		}
		return detection.NewDetector(client, fd.VisionModel, 0), nil
	default:
		return nil, fmt.Errorf("unknown face detection method %q", fd.Method)
	}
}

// Close releases the detection backend
func (g *Generator) Close() error {
	if c, ok := g.net.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Ready reports whether the face detector is loaded
func (g *Generator) Ready() bool {
	return g.locator.Ready()
}

// Config returns the configuration the generator was built from
func (g *Generator) Config() *config.Config {
	return g.cfg
}

// FontDegraded reports whether labels are drawn with the fallback font
func (g *Generator) FontDegraded() bool {
	return g.comp.Face().Degraded()
}

// DisplayName returns the Latin form of a name. Names without Han characters
// are returned as is, and so are names that cannot be converted.
func (g *Generator) DisplayName(name string) string {
	if !transliterate.ContainsHan(name) {
		return name
	}
	latin := transliterate.Transliterate(name, g.names)
	if latin == "" {
		g.log.WithField("name", name).Warn("Could not convert name")
		return name
	}
	return latin
}

// Network returns the detection backend, or nil when none is loaded
func (g *Generator) Network() vision.Network {
	return g.net
}

// Locate runs face detection and returns every candidate with the selected
// face. Candidates are returned with vision.ErrNoFace too.
func (g *Generator) Locate(img image.Image) (vision.Result, error) {
	return g.locator.LocateDetailed(img)
}

// CropPortrait locates the face in img and returns the framed portrait at
// the configured output size. It returns vision.ErrNoFace when no face is
// found.
func (g *Generator) CropPortrait(img image.Image) (*cropper.Portrait, error) {
	res, err := g.Locate(img)
	if err != nil {
		return nil, err
	}

	g.log.WithFields(logrus.Fields{
		"face":       res.Face,
		"confidence": res.Confidence,
		"candidates": len(res.Candidates),
	}).Debug("Face located")

	dims := g.cfg.PhotoCropping.OutputDimensions
	return g.engine.Frame(img, res.Face, dims.Width, dims.Height)
}

// Template returns the named template, loading it on first use
func (g *Generator) Template(name string) (*compositor.Template, error) {
	key := strings.ToLower(name)

	g.mu.Lock()
	defer g.mu.Unlock()

	if tpl, ok := g.templates[key]; ok {
		return tpl, nil
	}

	tpl, err := compositor.LoadTemplate(g.cfg.IDCard.TemplateDirectory, name, g.cfg.IDCard.Templates, layout(g.cfg.IDCard))
	if err != nil {
		return nil, err
	}
	g.templates[key] = tpl
	return tpl, nil
}

// ComposeCard places photo and name on tpl
func (g *Generator) ComposeCard(tpl *compositor.Template, photo image.Image, name string) (*image.NRGBA, error) {
	return g.comp.Compose(tpl, photo, name)
}

// Process crops img and composes it onto the named template
func (g *Generator) Process(img image.Image, templateName, name string) (*image.NRGBA, error) {
	tpl, err := g.Template(templateName)
	if err != nil {
		return nil, err
	}

	portrait, err := g.CropPortrait(img)
	if err != nil {
		return nil, err
	}

	return g.ComposeCard(tpl, portrait.Image, name)
}

// NameOptions converts the name_conversion section to transliteration options
func NameOptions(c config.NameConversionConfig) (transliterate.Options, error) {
	opts := transliterate.DefaultOptions()

	style, err := transliterate.ParseStyle(c.PinyinStyle)
	if err != nil {
		return opts, err
	}
	order, err := transliterate.ParseOrder(c.NameFormat)
	if err != nil {
		return opts, err
	}

	opts.Style = style
	opts.Order = order
	opts.Fallback = c.FallbackToOriginal
	return opts, nil
}

func locatorConfig(fd config.FaceDetectionConfig) vision.LocatorConfig {
	return vision.LocatorConfig{
		ConfidenceThreshold: fd.ConfidenceThreshold,
		MinAreaRatio:        fd.MinAreaRatio,
		MaxAreaRatio:        fd.MaxAreaRatio,
		MinAspectRatio:      fd.MinAspectRatio,
		MaxAspectRatio:      fd.MaxAspectRatio,
	}
}

func cropConfig(p config.CroppingParameters) cropper.CropConfig {
	return cropper.CropConfig{
		TargetHeadRatio: p.TargetHeadRatio,
		TargetTopMargin: p.TargetTopMargin,
		ChinExtraRatio:  p.ChinExtraRatio,
		Hair: cropper.HairPolicy{
			Base:                     p.HairRatio.Base,
			Min:                      p.HairRatio.Min,
			Max:                      p.HairRatio.Max,
			SmallFaceMultiplier:      p.HairRatio.SmallFaceMultiplier,
			LargeFaceMultiplier:      p.HairRatio.LargeFaceMultiplier,
			TopPositionMultiplier:    p.HairRatio.TopPositionMultiplier,
			BottomPositionMultiplier: p.HairRatio.BottomPositionMultiplier,
		},
	}
}

func layout(c config.IDCardConfig) compositor.Layout {
	rgb := c.Font.Color
	return compositor.Layout{
		Slot: compositor.PhotoSlot{
			X:      c.PhotoPosition.X,
			Y:      c.PhotoPosition.Y,
			Width:  c.PhotoPosition.Width,
			Height: c.PhotoPosition.Height,
		},
		Anchor: compositor.TextAnchor{
			X:           c.TextPosition.NameOrigin[0],
			Y:           c.TextPosition.NameOrigin[1],
			MaxWidth:    c.TextPosition.MaxWidth,
			FontSize:    c.TextPosition.FontSize,
			LineSpacing: c.TextPosition.LineSpacing,
			Color:       color.NRGBA{uint8(rgb[0]), uint8(rgb[1]), uint8(rgb[2]), 255},
		},
	}
}
