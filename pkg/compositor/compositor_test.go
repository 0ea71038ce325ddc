package compositor

import (
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font/gofont/goregular"
)

// fixedMeasurer gives every rune the same width
type fixedMeasurer int

func (m fixedMeasurer) Measure(s string) int {
	return len([]rune(s)) * int(m)
}

// createTestImage creates a solid image
func createTestImage(width, height int, c color.NRGBA) *image.NRGBA {
	return imaging.New(width, height, c)
}

var white = color.NRGBA{255, 255, 255, 255}

func testLayout() Layout {
	return Layout{
		Slot: PhotoSlot{X: 100, Y: 100, Width: 200, Height: 250},
		Anchor: TextAnchor{
			X: 100, Y: 400, MaxWidth: 300, FontSize: 42, LineSpacing: 16,
			Color: color.NRGBA{17, 26, 65, 255},
		},
	}
}

func writeTemplate(t *testing.T, dir, file string) {
	t.Helper()
	if err := imaging.Save(createTestImage(600, 800, white), filepath.Join(dir, file)); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}
}

func writeFont(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regular.ttf")
	if err := os.WriteFile(path, goregular.TTF, 0644); err != nil {
		t.Fatalf("failed to write font: %v", err)
	}
	return path
}

func TestWrapText(t *testing.T) {
	m := fixedMeasurer(10)

	tests := []struct {
		name     string
		text     string
		maxWidth int
		expected []string
	}{
		{"fits", "Wei Zhang", 100, []string{"Wei Zhang"}},
		{"breaks", "Wei Zhang", 50, []string{"Wei", "Zhang"}},
		{"greedy", "a b c d e", 30, []string{"a b", "c d", "e"}},
		{"over-wide word alone", "Supercalifragilistic is long", 60, []string{"Supercalifragilistic", "is", "long"}},
		{"over-wide word in middle", "Li Supercalifragilistic Wu", 60, []string{"Li", "Supercalifragilistic", "Wu"}},
		{"collapses whitespace", "  Wei   Zhang ", 100, []string{"Wei Zhang"}},
		{"empty", "", 100, []string{""}},
		{"blank", "   ", 100, []string{"   "}},
	}

	for _, tt := range tests {
		got := WrapText(tt.text, tt.maxWidth, m)
		if !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, got)
		}
	}
}

func TestLoadFaceFallback(t *testing.T) {
	face, err := LoadFace(filepath.Join(t.TempDir(), "missing.otf"), 42, false)
	if err != nil {
		t.Fatalf("LoadFace failed: %v", err)
	}
	if !face.Degraded() {
		t.Error("Expected fallback face to be degraded")
	}
	if face.Reason() == nil {
		t.Error("Expected fallback reason to be recorded")
	}
	if face.Measure("abc") != 21 {
		t.Errorf("Expected 7px per glyph, got %d", face.Measure("abc"))
	}
}

func TestLoadFaceRequired(t *testing.T) {
	_, err := LoadFace(filepath.Join(t.TempDir(), "missing.otf"), 42, true)
	if !errors.Is(err, ErrFontNotFound) {
		t.Errorf("Expected ErrFontNotFound, got %v", err)
	}
}

func TestLoadFaceInvalidData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ttf")
	if err := os.WriteFile(path, []byte("not a font"), 0644); err != nil {
		t.Fatal(err)
	}

	face, err := LoadFace(path, 20, false)
	if err != nil {
		t.Fatalf("LoadFace failed: %v", err)
	}
	if !face.Degraded() {
		t.Error("Expected invalid font to fall back")
	}
}

func TestLoadFaceTrueType(t *testing.T) {
	face, err := LoadFace(writeFont(t), 42, true)
	if err != nil {
		t.Fatalf("LoadFace failed: %v", err)
	}
	if face.Degraded() {
		t.Error("Expected real font not to be degraded")
	}

	short, long := face.Measure("Wei"), face.Measure("Wei Zhang")
	if short <= 0 || long <= short {
		t.Errorf("Unexpected measurements %d, %d", short, long)
	}
	if face.Ascent() <= 0 || face.Ascent() > 42 {
		t.Errorf("Unexpected ascent %d", face.Ascent())
	}
}

func TestResolveTemplate(t *testing.T) {
	mapping := map[string]string{"student": "Student_v2.png"}

	if got := ResolveTemplate("tpl", "Student", mapping); got != filepath.Join("tpl", "Student_v2.png") {
		t.Errorf("Expected mapped file, got %s", got)
	}
	if got := ResolveTemplate("tpl", "Staff", mapping); got != filepath.Join("tpl", "Staff.png") {
		t.Errorf("Expected <name>.png, got %s", got)
	}
	if got := ResolveTemplate("tpl", "Visitor.jpg", nil); got != filepath.Join("tpl", "Visitor.jpg") {
		t.Errorf("Expected explicit file name, got %s", got)
	}
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "Student.png")

	tpl, err := LoadTemplate(dir, "student", map[string]string{"student": "Student.png"}, testLayout())
	if err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}

	w, h := tpl.Size()
	if w != 600 || h != 800 {
		t.Errorf("Expected 600x800 canvas, got %dx%d", w, h)
	}
	if tpl.Slot.Width != 200 {
		t.Errorf("Expected layout to be attached, got %+v", tpl.Slot)
	}
}

func TestLoadTemplateDropsAlpha(t *testing.T) {
	dir := t.TempDir()
	if err := imaging.Save(createTestImage(10, 10, color.NRGBA{10, 20, 30, 0}), filepath.Join(dir, "Clear.png")); err != nil {
		t.Fatal(err)
	}

	tpl, err := LoadTemplate(dir, "Clear", nil, testLayout())
	if err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}
	if a := tpl.Canvas.NRGBAAt(5, 5).A; a != 255 {
		t.Errorf("Expected opaque canvas, got alpha %d", a)
	}
}

func TestLoadTemplateNotFound(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "Staff.png")
	writeTemplate(t, dir, "Parent.png")

	_, err := LoadTemplate(dir, "Student", nil, testLayout())
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("Expected ErrTemplateNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "Parent, Staff") {
		t.Errorf("Expected available templates in error, got %v", err)
	}

	if got := AvailableTemplates(filepath.Join(dir, "missing")); got != nil {
		t.Errorf("Expected no templates for missing dir, got %v", got)
	}
}

func newTestTemplate() *Template {
	return &Template{Name: "Student", Canvas: createTestImage(600, 800, white), Layout: testLayout()}
}

func TestCompose(t *testing.T) {
	tpl := newTestTemplate()
	photo := createTestImage(36, 45, color.NRGBA{200, 0, 0, 255})

	c := New(FallbackFace(42, nil))
	card, err := c.Compose(tpl, photo, "Wei Zhang")
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	if card.Bounds() != tpl.Canvas.Bounds() {
		t.Errorf("Expected card size %v, got %v", tpl.Canvas.Bounds(), card.Bounds())
	}

	// inside the slot, including its corners
	for _, p := range []image.Point{{100, 100}, {200, 225}, {299, 349}} {
		if got := card.NRGBAAt(p.X, p.Y); got.R < 190 || got.G > 10 {
			t.Errorf("Expected photo at %v, got %v", p, got)
		}
	}
	// just outside the slot
	for _, p := range []image.Point{{99, 100}, {300, 200}, {200, 350}} {
		if got := card.NRGBAAt(p.X, p.Y); got != white {
			t.Errorf("Expected template background at %v, got %v", p, got)
		}
	}

	if !hasInk(card, image.Rect(100, 400, 400, 420)) {
		t.Error("Expected name to be drawn at the text anchor")
	}

	// template canvas must not be touched
	if got := tpl.Canvas.NRGBAAt(200, 225); got != white {
		t.Errorf("Template canvas was modified: %v", got)
	}
}

func TestComposeWrapsLines(t *testing.T) {
	tpl := newTestTemplate()
	tpl.Anchor.MaxWidth = 40

	c := New(FallbackFace(42, nil))
	card, err := c.Compose(tpl, createTestImage(10, 10, white), "Wei Zhang")
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	// second line starts FontSize + LineSpacing below the first
	second := 400 + 42 + 16
	if !hasInk(card, image.Rect(100, second, 400, second+13)) {
		t.Error("Expected second line to be drawn")
	}
	if hasInk(card, image.Rect(100, 420, 400, second)) {
		t.Error("Expected gap between lines")
	}
}

func TestComposeTrueType(t *testing.T) {
	face, err := LoadFace(writeFont(t), 42, true)
	if err != nil {
		t.Fatalf("LoadFace failed: %v", err)
	}

	card, err := New(face).Compose(newTestTemplate(), createTestImage(10, 10, white), "Wei Zhang")
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !hasInk(card, image.Rect(100, 400, 400, 442)) {
		t.Error("Expected name below the anchor")
	}
	if hasInk(card, image.Rect(100, 360, 400, 400)) {
		t.Error("Expected nothing drawn above the anchor")
	}
}

func TestComposeErrors(t *testing.T) {
	c := New(FallbackFace(42, nil))
	photo := createTestImage(10, 10, white)

	if _, err := c.Compose(nil, photo, "x"); err == nil {
		t.Error("Expected error for nil template")
	}
	if _, err := c.Compose(newTestTemplate(), nil, "x"); err == nil {
		t.Error("Expected error for nil photo")
	}

	tpl := newTestTemplate()
	tpl.Slot.Width = 0
	if _, err := c.Compose(tpl, photo, "x"); err == nil {
		t.Error("Expected error for empty slot")
	}
}

func TestComposeConcurrent(t *testing.T) {
	face, err := LoadFace(writeFont(t), 42, true)
	if err != nil {
		t.Fatalf("LoadFace failed: %v", err)
	}
	c := New(face)
	tpl := newTestTemplate()
	photo := createTestImage(36, 45, color.NRGBA{0, 0, 200, 255})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Compose(tpl, photo, "Xiaoming Li"); err != nil {
				t.Errorf("Compose failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func hasInk(img *image.NRGBA, r image.Rectangle) bool {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.NRGBAAt(x, y) != white {
				return true
			}
		}
	}
	return false
}

func BenchmarkCompose(b *testing.B) {
	c := New(FallbackFace(42, nil))
	tpl := newTestTemplate()
	photo := createTestImage(360, 450, color.NRGBA{120, 90, 60, 255})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Compose(tpl, photo, "Xiaoming Li"); err != nil {
			b.Fatal(err)
		}
	}
}

func TestNewLoggerIsSilent(t *testing.T) {
	logger, ok := New(nil).log.(*logrus.Logger)
	if !ok {
		t.Fatal("Expected *logrus.Logger")
	}
	if logger.Out != io.Discard {
		t.Errorf("Expected default logger to write nowhere, got %T", logger.Out)
	}
}
