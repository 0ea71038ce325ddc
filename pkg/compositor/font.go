package compositor

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// ErrFontNotFound is returned when a required font cannot be loaded
var ErrFontNotFound = errors.New("font not found")

// DefaultFontFile is tried in the working directory when the configured font
// is unavailable
const DefaultFontFile = "font.otf"

// Face is a sized font face safe for use by several goroutines. When the
// configured font could not be loaded it wraps the built-in bitmap face and
// reports itself as degraded.
type Face struct {
	mu       sync.Mutex
	face     font.Face
	size     int
	source   string
	degraded bool
	reason   error
}

// LoadFace loads an OpenType or TrueType font (including .ttc collections) at
// size pixels, trying DefaultFontFile if path fails. When neither loads the
// fixed bitmap face is used instead, unless required is set, in which case
// ErrFontNotFound is returned.
func LoadFace(path string, size int, required bool) (*Face, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid font size %d", size)
	}

	face, err := openFace(path, size)
	if err != nil && path != DefaultFontFile {
		if fallback, ferr := openFace(DefaultFontFile, size); ferr == nil {
			return &Face{face: fallback, size: size, source: DefaultFontFile}, nil
		}
	}
	if err != nil {
		if required {
			return nil, fmt.Errorf("%w: %s: %v", ErrFontNotFound, path, err)
		}
		return FallbackFace(size, err), nil
	}

	return &Face{face: face, size: size, source: path}, nil
}

// FallbackFace returns the built-in bitmap face marked as degraded
func FallbackFace(size int, reason error) *Face {
	return &Face{
		face:     basicfont.Face7x13,
		size:     size,
		source:   "basicfont.Face7x13",
		degraded: true,
		reason:   reason,
	}
}

func openFace(path string, size int) (font.Face, error) {
	if path == "" {
		return nil, errors.New("no font path configured")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f *sfnt.Font
	if f, err = opentype.Parse(data); err != nil {
		collection, cerr := opentype.ParseCollection(data)
		if cerr != nil {
			return nil, fmt.Errorf("failed to parse font: %w", err)
		}
		if f, err = collection.Font(0); err != nil {
			return nil, fmt.Errorf("failed to read font collection: %w", err)
		}
	}

	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// Degraded reports whether the face is the bitmap fallback
func (f *Face) Degraded() bool {
	return f.degraded
}

// Reason returns why the configured font was not used, if it wasn't
func (f *Face) Reason() error {
	return f.reason
}

// Source names the font file in use
func (f *Face) Source() string {
	return f.source
}

// Size returns the requested pixel size
func (f *Face) Size() int {
	return f.size
}

// Measure returns the advance width of s in pixels
func (f *Face) Measure(s string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return font.MeasureString(f.face, s).Ceil()
}

// Ascent returns the distance from the top of a line to its baseline
func (f *Face) Ascent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.face.Metrics().Ascent.Ceil()
}

func (f *Face) draw(d *font.Drawer, x, y int, s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.Face = f.face
	d.Dot = fixed.P(x, y+f.face.Metrics().Ascent.Ceil())
	d.DrawString(s)
}
