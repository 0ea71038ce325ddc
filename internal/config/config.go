package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/idcard/pkg/types"
)

// ErrConfigNotFound is returned when the configuration file does not exist
var ErrConfigNotFound = errors.New("config file not found")

// Config holds the application configuration
type Config struct {
	PhotoCropping  PhotoCroppingConfig  `json:"photo_cropping" yaml:"photo_cropping"`
	IDCard         IDCardConfig         `json:"id_card_generation" yaml:"id_card_generation"`
	NameConversion NameConversionConfig `json:"name_conversion" yaml:"name_conversion"`
	Workflow       WorkflowConfig       `json:"main_workflow" yaml:"main_workflow"`
	Logging        LoggingConfig        `json:"logging" yaml:"logging"`
}

// PhotoCroppingConfig holds configuration for face location and cropping
type PhotoCroppingConfig struct {
	OutputDimensions   types.Size          `json:"output_dimensions" yaml:"output_dimensions"`
	FaceDetection      FaceDetectionConfig `json:"face_detection" yaml:"face_detection"`
	Quality            int                 `json:"quality" yaml:"quality" validate:"min=1,max=100"`
	OutputFormat       string              `json:"output_format" yaml:"output_format" validate:"oneof=jpg jpeg png webp"`
	Debug              bool                `json:"debug" yaml:"debug"`
	CroppingParameters CroppingParameters  `json:"cropping_parameters" yaml:"cropping_parameters"`
}

// FaceDetectionConfig selects and tunes the face detection backend
type FaceDetectionConfig struct {
	Method              string  `json:"method" yaml:"method" validate:"oneof=dnn pigo ollama llamacpp"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	ModelPath           string  `json:"model_path" yaml:"model_path"`
	PrototxtPath        string  `json:"prototxt_path" yaml:"prototxt_path"`
	CascadePath         string  `json:"cascade_path" yaml:"cascade_path"`
	VisionURL           string  `json:"vision_url" yaml:"vision_url"`
	VisionModel         string  `json:"vision_model" yaml:"vision_model"`
	MinAreaRatio        float64 `json:"min_area_ratio" yaml:"min_area_ratio" validate:"gte=0,lte=1"`
	MaxAreaRatio        float64 `json:"max_area_ratio" yaml:"max_area_ratio" validate:"gte=0,lte=1"`
	MinAspectRatio      float64 `json:"min_aspect_ratio" yaml:"min_aspect_ratio" validate:"gt=0"`
	MaxAspectRatio      float64 `json:"max_aspect_ratio" yaml:"max_aspect_ratio" validate:"gt=0"`
}

// CroppingParameters drive the crop geometry
type CroppingParameters struct {
	TargetHeadRatio float64         `json:"target_head_ratio" yaml:"target_head_ratio" validate:"gt=0,lte=1"`
	TargetTopMargin float64         `json:"target_top_margin" yaml:"target_top_margin" validate:"gte=0,lt=1"`
	ChinExtraRatio  float64         `json:"chin_extra_ratio" yaml:"chin_extra_ratio" validate:"gte=0"`
	HairRatio       HairRatioConfig `json:"hair_ratio" yaml:"hair_ratio"`
}

// HairRatioConfig is the policy used to estimate the hairline above a face box
type HairRatioConfig struct {
	Base                     float64 `json:"base" yaml:"base" validate:"gte=0"`
	Min                      float64 `json:"min" yaml:"min" validate:"gte=0"`
	Max                      float64 `json:"max" yaml:"max" validate:"gte=0"`
	SmallFaceMultiplier      float64 `json:"small_face_multiplier" yaml:"small_face_multiplier" validate:"gte=0"`
	LargeFaceMultiplier      float64 `json:"large_face_multiplier" yaml:"large_face_multiplier" validate:"gte=0"`
	TopPositionMultiplier    float64 `json:"top_position_multiplier" yaml:"top_position_multiplier" validate:"gte=0"`
	BottomPositionMultiplier float64 `json:"bottom_position_multiplier" yaml:"bottom_position_multiplier" validate:"gte=0"`
}

// IDCardConfig holds configuration for template composition
type IDCardConfig struct {
	TemplateDirectory string            `json:"template_directory" yaml:"template_directory" validate:"required"`
	OutputDirectory   string            `json:"output_directory" yaml:"output_directory"`
	Templates         map[string]string `json:"templates" yaml:"templates"`
	PhotoPosition     PhotoPosition     `json:"photo_position" yaml:"photo_position"`
	TextPosition      TextPosition      `json:"text_position" yaml:"text_position"`
	Font              FontConfig        `json:"font" yaml:"font"`
	OutputFormat      string            `json:"output_format" yaml:"output_format" validate:"oneof=jpg jpeg png webp"`
	Quality           int               `json:"quality" yaml:"quality" validate:"min=1,max=100"`
}

// PhotoPosition is the slot the cropped photo is pasted into
type PhotoPosition struct {
	X      int `json:"x" yaml:"x" validate:"gte=0"`
	Y      int `json:"y" yaml:"y" validate:"gte=0"`
	Width  int `json:"width" yaml:"width" validate:"gt=0"`
	Height int `json:"height" yaml:"height" validate:"gt=0"`
}

// TextPosition is where and how the name label is drawn
type TextPosition struct {
	NameOrigin  [2]int `json:"name_origin" yaml:"name_origin"`
	MaxWidth    int    `json:"max_width" yaml:"max_width" validate:"gt=0"`
	FontSize    int    `json:"font_size" yaml:"font_size" validate:"gt=0"`
	LineSpacing int    `json:"line_spacing" yaml:"line_spacing" validate:"gte=0"`
}

// FontConfig selects the label font
type FontConfig struct {
	Path     string `json:"path" yaml:"path"`
	Color    [3]int `json:"color" yaml:"color"`
	Required bool   `json:"required" yaml:"required"`
}

// NameConversionConfig controls transliteration of names
type NameConversionConfig struct {
	PinyinStyle        string `json:"pinyin_style" yaml:"pinyin_style" validate:"oneof=normal first_letter tone tone2"`
	NameFormat         string `json:"name_format" yaml:"name_format" validate:"oneof=givenname_surname surname_givenname"`
	FallbackToOriginal bool   `json:"fallback_to_original" yaml:"fallback_to_original"`
}

// WorkflowConfig holds configuration for the batch driver
type WorkflowConfig struct {
	DefaultTemplate   string            `json:"default_template" yaml:"default_template" validate:"required"`
	OutputDirectories OutputDirectories `json:"output_directories" yaml:"output_directories"`
	SupportedFormats  []string          `json:"supported_formats" yaml:"supported_formats" validate:"min=1"`
	RecursiveSearch   bool              `json:"recursive_search" yaml:"recursive_search"`
	AutoClean         bool              `json:"auto_clean" yaml:"auto_clean"`
	Workers           int               `json:"workers" yaml:"workers" validate:"gte=0"`
	MinImageSize      int               `json:"min_image_size" yaml:"min_image_size" validate:"gte=0"`
}

// OutputDirectories names the per-photo output folders
type OutputDirectories struct {
	Crop string `json:"crop" yaml:"crop" validate:"required"`
	ID   string `json:"id" yaml:"id" validate:"required"`
}

// LoggingConfig holds configuration for the logger
type LoggingConfig struct {
	Level    string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File     string `json:"file" yaml:"file"`
	NoColors bool   `json:"no_colors" yaml:"no_colors"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		PhotoCropping: PhotoCroppingConfig{
			OutputDimensions: types.Size{Width: 360, Height: 450},
			FaceDetection: FaceDetectionConfig{
				Method:              "dnn",
				ConfidenceThreshold: 0.5,
				ModelPath:           "dnn_models/res10_300x300_ssd_iter_140000.caffemodel",
				PrototxtPath:        "dnn_models/deploy.prototxt",
				CascadePath:         "dnn_models/facefinder",
				VisionURL:           "",
				VisionModel:         "openbmb/minicpm-v4.5",
				MinAreaRatio:        0.005,
				MaxAreaRatio:        0.9,
				MinAspectRatio:      0.3,
				MaxAspectRatio:      2.5,
			},
			Quality:      95,
			OutputFormat: "jpg",
			Debug:        false,
			CroppingParameters: CroppingParameters{
				TargetHeadRatio: 0.75,
				TargetTopMargin: 0.08,
				ChinExtraRatio:  0.12,
				HairRatio: HairRatioConfig{
					Base:                     0.25,
					Min:                      0.15,
					Max:                      0.35,
					SmallFaceMultiplier:      1.1,
					LargeFaceMultiplier:      0.6,
					TopPositionMultiplier:    0.6,
					BottomPositionMultiplier: 1.0,
				},
			},
		},
		IDCard: IDCardConfig{
			TemplateDirectory: "id_template",
			OutputDirectory:   "output_id_cards",
			Templates: map[string]string{
				"contractor": "Contractor.png",
				"resident":   "Resident.png",
				"staff":      "Staff.png",
				"student":    "Student.png",
				"parent":     "Parent.png",
			},
			PhotoPosition: PhotoPosition{X: 175, Y: 659, Width: 288, Height: 350},
			TextPosition: TextPosition{
				NameOrigin:  [2]int{175, 1040},
				MaxWidth:    450,
				FontSize:    42,
				LineSpacing: 16,
			},
			Font:         FontConfig{Path: "font.otf", Color: [3]int{17, 26, 65}},
			OutputFormat: "jpg",
			Quality:      95,
		},
		NameConversion: NameConversionConfig{
			PinyinStyle:        "normal",
			NameFormat:         "givenname_surname",
			FallbackToOriginal: true,
		},
		Workflow: WorkflowConfig{
			DefaultTemplate:   "Student",
			OutputDirectories: OutputDirectories{Crop: "crop", ID: "ID"},
			SupportedFormats:  []string{".jpg", ".jpeg", ".png", ".bmp"},
			RecursiveSearch:   true,
			AutoClean:         false,
			Workers:           0,
			MinImageSize:      64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file. The document is
// decoded over Default(), so absent keys keep their defaults and unknown keys
// are ignored.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := config.merge(data, formatOf(filename)); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

func formatOf(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func (c *Config) merge(data []byte, format string) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if format == "yaml" {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if formatOf(filename) == "yaml" {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides resource paths from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv("IDCARD_MODEL_PATH"); v != "" {
		c.PhotoCropping.FaceDetection.ModelPath = v
	}
	if v := os.Getenv("IDCARD_PROTOTXT_PATH"); v != "" {
		c.PhotoCropping.FaceDetection.PrototxtPath = v
	}
	if v := os.Getenv("IDCARD_DETECTOR"); v != "" {
		c.PhotoCropping.FaceDetection.Method = v
	}
	if v := os.Getenv("IDCARD_VISION_URL"); v != "" {
		c.PhotoCropping.FaceDetection.VisionURL = v
	}
	if v := os.Getenv("IDCARD_TEMPLATE_DIR"); v != "" {
		c.IDCard.TemplateDirectory = v
	}
	if v := os.Getenv("IDCARD_FONT_PATH"); v != "" {
		c.IDCard.Font.Path = v
	}
	if v := os.Getenv("IDCARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dims := c.PhotoCropping.OutputDimensions
	if dims.Width <= 0 || dims.Height <= 0 {
		return fmt.Errorf("photo_cropping.output_dimensions must be positive, got %dx%d", dims.Width, dims.Height)
	}

	fd := c.PhotoCropping.FaceDetection
	if fd.MinAreaRatio > fd.MaxAreaRatio {
		return fmt.Errorf("face_detection.min_area_ratio must not exceed max_area_ratio")
	}
	if fd.MinAspectRatio > fd.MaxAspectRatio {
		return fmt.Errorf("face_detection.min_aspect_ratio must not exceed max_aspect_ratio")
	}

	hair := c.PhotoCropping.CroppingParameters.HairRatio
	if hair.Min > hair.Max {
		return fmt.Errorf("hair_ratio.min must not exceed hair_ratio.max")
	}

	for i, v := range c.IDCard.Font.Color {
		if v < 0 || v > 255 {
			return fmt.Errorf("id_card_generation.font.color[%d] must be between 0 and 255", i)
		}
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "idcard", "config.json")
}
