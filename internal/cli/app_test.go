package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/idcard"
	"github.com/menta2k/idcard/internal/config"
	"github.com/menta2k/idcard/pkg/analyzer"
	"github.com/menta2k/idcard/pkg/compositor"
	"github.com/menta2k/idcard/pkg/pipeline"
)

// writeConfig creates a template directory with a Student template and a
// YAML config pointing at it
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	tplDir := filepath.Join(dir, "id_template")
	if err := os.MkdirAll(tplDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := imaging.Save(imaging.New(640, 1200, color.NRGBA{255, 255, 255, 255}), filepath.Join(tplDir, "Student.png")); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	content := fmt.Sprintf(`
id_card_generation:
  template_directory: %q
  font:
    path: %q
photo_cropping:
  face_detection:
    method: pigo
    cascade_path: %q
%s`, tplDir, filepath.Join(dir, "missing.otf"), filepath.Join(dir, "facefinder"), extra)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return dir, path
}

func TestApp_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	if err := app.ExecuteWithArgs(context.Background(), []string{"version"}); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	if !strings.Contains(stdout.String(), "idcard version "+idcard.Version) {
		t.Errorf("version output missing version, got: %s", stdout.String())
	}
}

func TestApp_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	if err := app.ExecuteWithArgs(context.Background(), []string{"--help"}); err != nil {
		t.Fatalf("help command failed: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{"run", "crop", "compose", "name", "config", "probe"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q command, got: %s", want, output)
		}
	}
}

func TestApp_Name(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"name", "张小明", "--format", "surname_givenname"})
	if err != nil {
		t.Fatalf("name command failed: %v", err)
	}

	if !strings.Contains(stdout.String(), "张小明 -> Zhang Xiaoming") {
		t.Errorf("unexpected output: %s", stdout.String())
	}
}

func TestApp_NameBatch(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "names.txt")
	output := filepath.Join(dir, "latin.txt")
	if err := os.WriteFile(input, []byte("张小明\n\n  李雷  \n"), 0644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"name", "-i", input, "-o", output})
	if err != nil {
		t.Fatalf("name command failed: %v", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if string(data) != "Xiaoming Zhang\nLei Li\n" {
		t.Errorf("unexpected output file: %q", data)
	}
	if !strings.Contains(stdout.String(), "converted 2 of 2 names") {
		t.Errorf("unexpected summary: %s", stdout.String())
	}
}

func TestApp_NameRequiresInput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	if err := app.ExecuteWithArgs(context.Background(), []string{"name"}); err == nil {
		t.Error("expected error without names")
	}
}

func TestApp_NameInvalidStyle(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	if err := app.ExecuteWithArgs(context.Background(), []string{"name", "--style", "shouty", "王芳"}); err == nil {
		t.Error("expected error for unknown style")
	}
}

func TestApp_ConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	if err := app.ExecuteWithArgs(context.Background(), []string{"config", "init", path}); err != nil {
		t.Fatalf("config init failed: %v", err)
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config is invalid: %v", err)
	}

	app = New().WithOutput(&stdout, &stderr)
	if err := app.ExecuteWithArgs(context.Background(), []string{"config", "init", path}); err == nil {
		t.Error("expected error when the file exists")
	}

	app = New().WithOutput(&stdout, &stderr)
	if err := app.ExecuteWithArgs(context.Background(), []string{"config", "init", "--force", path}); err != nil {
		t.Errorf("config init --force failed: %v", err)
	}
}

func TestApp_ConfigShow(t *testing.T) {
	_, cfgPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	if err := app.ExecuteWithArgs(context.Background(), []string{"config", "show", "-c", cfgPath}); err != nil {
		t.Fatalf("config show failed: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "method: pigo") {
		t.Errorf("config show missing file value, got: %s", output)
	}
	if !strings.Contains(output, "target_head_ratio: 0.75") {
		t.Errorf("config show missing default value, got: %s", output)
	}
}

func TestApp_ConfigFromWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	if err := app.ExecuteWithArgs(context.Background(), []string{"config", "init"}); err != nil {
		t.Fatalf("config init failed: %v", err)
	}

	data, err := os.ReadFile(DefaultConfigFile)
	if err != nil {
		t.Fatal(err)
	}
	edited := strings.Replace(string(data), `"default_template": "Student"`, `"default_template": "Staff"`, 1)
	if edited == string(data) {
		t.Fatal("default_template not found in written config")
	}
	if err := os.WriteFile(DefaultConfigFile, []byte(edited), 0644); err != nil {
		t.Fatal(err)
	}

	stdout.Reset()
	app = New().WithOutput(&stdout, &stderr)
	if err := app.ExecuteWithArgs(context.Background(), []string{"config", "show"}); err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "default_template: Staff") {
		t.Errorf("config show ignored ./%s, got: %s", DefaultConfigFile, stdout.String())
	}
}

func TestApp_ConfigFromUserDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	cfg := config.Default()
	cfg.Workflow.DefaultTemplate = "Teacher"
	if err := cfg.SaveToFile(config.GetConfigPath()); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	if err := app.ExecuteWithArgs(context.Background(), []string{"config", "show"}); err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "default_template: Teacher") {
		t.Errorf("config show ignored %s, got: %s", config.GetConfigPath(), stdout.String())
	}
}

func TestApp_ConfigMissing(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"config", "show", "-c", filepath.Join(t.TempDir(), "nope.json")})
	if !errors.Is(err, config.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestApp_ConfigTemplates(t *testing.T) {
	_, cfgPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	if err := app.ExecuteWithArgs(context.Background(), []string{"config", "templates", "-c", cfgPath}); err != nil {
		t.Fatalf("config templates failed: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != "Student" {
		t.Errorf("unexpected templates: %q", stdout.String())
	}
}

func TestApp_Compose(t *testing.T) {
	dir, cfgPath := writeConfig(t, "")
	photo := filepath.Join(dir, "Wei Li.png")
	if err := imaging.Save(imaging.New(360, 450, color.NRGBA{200, 150, 120, 255}), photo); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "out")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	err := app.ExecuteWithArgs(context.Background(), []string{"compose", "-c", cfgPath, "--out-dir", outDir, photo})
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	card, err := imaging.Open(filepath.Join(outDir, "Student_Wei Li.jpg"))
	if err != nil {
		t.Fatalf("card not written: %v", err)
	}
	if b := card.Bounds(); b.Dx() != 640 || b.Dy() != 1200 {
		t.Errorf("expected 640x1200 card, got %v", b)
	}
}

func TestApp_ComposeUnknownTemplate(t *testing.T) {
	dir, cfgPath := writeConfig(t, "")
	photo := filepath.Join(dir, "Wei Li.png")
	if err := imaging.Save(imaging.New(360, 450, color.NRGBA{200, 150, 120, 255}), photo); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	err := app.ExecuteWithArgs(context.Background(), []string{"compose", "-c", cfgPath, "-t", "Contractor", photo})
	if !errors.Is(err, compositor.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if ExitCode(err) != pipeline.ExitTemplateLoad {
		t.Errorf("expected exit code %d, got %d", pipeline.ExitTemplateLoad, ExitCode(err))
	}
}

func TestApp_ComposeRejectsSmallPhoto(t *testing.T) {
	dir, cfgPath := writeConfig(t, "")
	tiny := imaging.New(32, 32, color.NRGBA{200, 150, 120, 255})
	photo := filepath.Join(dir, "Tiny.png")
	if err := imaging.Save(tiny, photo); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, tiny, imaging.PNG); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	outDir := filepath.Join(dir, "out")
	for _, source := range []string{photo, srv.URL + "/Tiny.png"} {
		var stdout, stderr bytes.Buffer
		app := New().WithOutput(&stdout, &stderr)
		err := app.ExecuteWithArgs(context.Background(), []string{"compose", "-c", cfgPath, "--out-dir", outDir, source})
		if !errors.Is(err, analyzer.ErrTooSmall) {
			t.Errorf("%s: expected ErrTooSmall, got %v", source, err)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "Student_Tiny.jpg")); !os.IsNotExist(err) {
		t.Errorf("expected no card for a rejected photo, stat returned %v", err)
	}
}

func TestApp_RunModelMissing(t *testing.T) {
	dir, cfgPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	err := app.ExecuteWithArgs(context.Background(), []string{"run", "-c", cfgPath, dir})
	if !errors.Is(err, idcard.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
	if ExitCode(err) != pipeline.ExitModelLoad {
		t.Errorf("expected exit code %d, got %d", pipeline.ExitModelLoad, ExitCode(err))
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{fmt.Errorf("%w: missing", idcard.ErrModelLoad), 2},
		{fmt.Errorf("wrap: %w", compositor.ErrFontNotFound), 5},
		{pipeline.ErrNoPhotos, 1},
		{pipeline.ErrAllCropsFailed, 3},
		{pipeline.ErrAllCardsFailed, 4},
		{errors.New("other"), 1},
	}

	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSourceName(t *testing.T) {
	tests := map[string]string{
		"photos/张小明.jpg":                         "photos/张小明.jpg",
		"https://example.com/img/Wei%20Li.jpg?x=1": "Wei%20Li.jpg",
		"https://example.com":                      "example.com",
	}
	for in, want := range tests {
		if got := sourceName(in); got != want {
			t.Errorf("sourceName(%q) = %q, want %q", in, got, want)
		}
	}
}
