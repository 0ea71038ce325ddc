package log

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", NoColors: true, Output: &buf})

	if logger.GetLevel() != logrus.WarnLevel {
		t.Errorf("Expected warn level, got %v", logger.GetLevel())
	}

	logger.WithField("photo", "a.jpg").Info("hidden")
	logger.WithField("photo", "b.jpg").Warn("Cropping failed")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info message should be filtered at warn level")
	}
	if !strings.Contains(out, "Cropping failed") || !strings.Contains(out, "b.jpg") {
		t.Errorf("Expected warning with fields, got %q", out)
	}
}

func TestNewInvalidLevel(t *testing.T) {
	logger := New(Options{Level: "loud", Output: &bytes.Buffer{}})
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("Expected info level for unknown name, got %v", logger.GetLevel())
	}
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idcard.log")
	logger := New(Options{Level: "info", File: path, NoColors: true, Output: &bytes.Buffer{}})
	logger.Info("Starting batch")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file: %v", err)
	}
	if !strings.Contains(string(data), "Starting batch") {
		t.Errorf("Log file missing message, got %q", data)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Out != io.Discard {
		t.Errorf("Expected io.Discard output, got %T", logger.Out)
	}
	logger.Error("nothing")
}
