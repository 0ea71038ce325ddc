package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/idcard/internal/utils"
)

// ErrTemplateNotFound is returned when a named template has no file
var ErrTemplateNotFound = errors.New("template not found")

var templateExts = []string{".png", ".jpg", ".jpeg"}

// PhotoSlot is the rectangle on the canvas the portrait is pasted into
type PhotoSlot struct {
	X      int
	Y      int
	Width  int
	Height int
}

// TextAnchor places and styles the name label. X and Y are the top-left of
// the first line.
type TextAnchor struct {
	X           int
	Y           int
	MaxWidth    int
	FontSize    int
	LineSpacing int
	Color       color.NRGBA
}

// Layout describes where things go on a template canvas
type Layout struct {
	Slot   PhotoSlot
	Anchor TextAnchor
}

// Template is a loaded card background together with its layout
type Template struct {
	Name   string
	Path   string
	Canvas *image.NRGBA
	Layout
}

// ResolveTemplate returns the file path for a template name. The mapping is
// consulted by lowercased name; otherwise "<name>.png" is assumed.
func ResolveTemplate(dir, name string, mapping map[string]string) string {
	file := mapping[strings.ToLower(name)]
	if file == "" {
		if filepath.Ext(name) != "" {
			file = name
		} else {
			file = name + ".png"
		}
	}
	return filepath.Join(dir, file)
}

// LoadTemplate loads the canvas for name from dir. Transparency is discarded.
func LoadTemplate(dir, name string, mapping map[string]string, layout Layout) (*Template, error) {
	path := ResolveTemplate(dir, name, mapping)
	if !utils.FileExists(path) {
		available := AvailableTemplates(dir)
		if len(available) == 0 {
			return nil, fmt.Errorf("%w: %s (no templates in %s)", ErrTemplateNotFound, path, dir)
		}
		return nil, fmt.Errorf("%w: %s (available: %s)", ErrTemplateNotFound, path, strings.Join(available, ", "))
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template %s: %w", path, err)
	}

	canvas := imaging.Clone(img)
	opaque(canvas)

	return &Template{
		Name:   name,
		Path:   path,
		Canvas: canvas,
		Layout: layout,
	}, nil
}

// AvailableTemplates lists the template names found in dir
func AvailableTemplates(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !utils.HasExtension(e.Name(), templateExts) {
			continue
		}
		names = append(names, utils.Stem(e.Name()))
	}
	sort.Strings(names)
	return names
}

// Size returns the canvas dimensions
func (t *Template) Size() (int, int) {
	b := t.Canvas.Bounds()
	return b.Dx(), b.Dy()
}

func opaque(img *image.NRGBA) {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for i := 3; i < len(row); i += 4 {
			row[i] = 0xff
		}
	}
}
