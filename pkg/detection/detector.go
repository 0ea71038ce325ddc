// Package detection locates faces by asking a vision language model.
// It is the slowest backend but needs no local model files.
package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"regexp"
	"strings"
	"time"

	"github.com/menta2k/idcard/pkg/client"
	"github.com/menta2k/idcard/pkg/processing"
	"github.com/menta2k/idcard/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks the model for every visible human face
const DefaultPrompt = `You are a face locator for passport photo cropping.

Return JSON only:
{
  "faces": [
    {"confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- One entry per visible human face, most prominent first.
- The box covers forehead to chin and ear to ear. Exclude hair and neck.
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- confidence is your certainty in [0,1] that the box holds a real face.
- If there is no face, return {"faces": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

const (
	// DefaultMaxDim bounds the longer side of the image sent to the model
	DefaultMaxDim = 1024
	// DefaultTimeout bounds one Detect call
	DefaultTimeout = 300 * time.Second
)

// ErrBadReply is returned when the model answer cannot be parsed
var ErrBadReply = errors.New("unparseable model reply")

// Detector turns vision model replies into face detections
type Detector struct {
	client  client.VisionClient
	model   string
	timeout time.Duration
	maxDim  int
	prompt  string
	proc    *processing.Processor
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, model string, timeout time.Duration) *Detector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Detector{
		client:  client,
		model:   model,
		timeout: timeout,
		maxDim:  DefaultMaxDim,
		prompt:  DefaultPrompt,
		proc:    processing.NewProcessor(),
	}
}

// SetPrompt replaces the face prompt
func (d *Detector) SetPrompt(prompt string) {
	if prompt != "" {
		d.prompt = prompt
	}
}

// Model returns the model name queried by the detector
func (d *Detector) Model() string {
	return d.model
}

// Detect implements vision.Network
func (d *Detector) Detect(img image.Image) ([]types.Detection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return d.DetectContext(ctx, img)
}

// DetectContext asks the model for faces in img
func (d *Detector) DetectContext(ctx context.Context, img image.Image) ([]types.Detection, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	imgB64, err := d.proc.PrepareImageForModel(img, "jpg", d.maxDim, 90)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	raw, err := d.client.QueryJSON(ctx, d.model, d.prompt, imgB64)
	if err != nil {
		return nil, err
	}

	// the prompt asks for normalized coordinates but some models answer in
	// pixels of the image they were sent
	b := img.Bounds()
	sentW, sentH := scaledSize(b.Dx(), b.Dy(), d.maxDim)
	return ParseFaces(raw, sentW, sentH)
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, imageB64 string) (string, error) {
	return d.client.SimpleQuery(ctx, d.model, SimpleTestPrompt, imageB64)
}

type faceReply struct {
	Faces []types.Detection `json:"faces"`
}

// ParseFaces decodes a model reply. Boxes in pixel units are normalized
// against imgW x imgH.
func ParseFaces(raw string, imgW, imgH int) ([]types.Detection, error) {
	var reply faceReply
	if err := json.Unmarshal([]byte(sanitizeModelJSON(raw)), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
	}

	out := make([]types.Detection, 0, len(reply.Faces))
	for _, f := range reply.Faces {
		box := normalizeBox(f.Box, imgW, imgH)
		if box.W <= 0 || box.H <= 0 {
			continue
		}
		out = append(out, types.Detection{
			Confidence: clamp(f.Confidence, 0, 1),
			Box:        box,
		})
	}
	return out, nil
}

func scaledSize(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, h * maxDim / w
	}
	return w * maxDim / h, maxDim
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox ensures box coordinates are within [0,1] bounds
func normalizeBox(b types.Box, imgW, imgH int) types.Box {
	if imgW > 0 && imgH > 0 && (b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1) {
		b = types.Box{
			X: b.X / float64(imgW),
			Y: b.Y / float64(imgH),
			W: b.W / float64(imgW),
			H: b.H / float64(imgH),
		}
	}

	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas
// that vision models like to add around their JSON
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	return strings.TrimSpace(raw)
}
