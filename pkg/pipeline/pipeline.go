// Package pipeline runs the batch workflow: find photos, crop portraits,
// then compose ID cards for every successful crop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/menta2k/idcard/internal/config"
	ilog "github.com/menta2k/idcard/internal/log"
	"github.com/menta2k/idcard/internal/utils"
	"github.com/menta2k/idcard/pkg/analyzer"
	"github.com/menta2k/idcard/pkg/compositor"
	"github.com/menta2k/idcard/pkg/cropper"
	"github.com/menta2k/idcard/pkg/processing"
	"github.com/menta2k/idcard/pkg/types"
)

// Exit codes reported by the command line tool
const (
	ExitOK           = 0
	ExitNoPhotos     = 1
	ExitModelLoad    = 2
	ExitCropFailed   = 3
	ExitIDFailed     = 4
	ExitTemplateLoad = 5

	// ExitError is used for any other failure
	ExitError = 1
)

// ParentTemplate is composed in a second pass for student cards
const ParentTemplate = "Parent"

var (
	ErrNoPhotos       = errors.New("no photo files found")
	ErrModelLoad      = errors.New("face detector not loaded")
	ErrAllCropsFailed = errors.New("all photos failed cropping")
	ErrAllCardsFailed = errors.New("all ID cards failed")
	ErrTemplateLoad   = errors.New("template could not be loaded")
)

// ExitCode maps an error returned by Run to a process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrNoPhotos):
		return ExitNoPhotos
	case errors.Is(err, ErrModelLoad):
		return ExitModelLoad
	case errors.Is(err, ErrAllCropsFailed):
		return ExitCropFailed
	case errors.Is(err, ErrAllCardsFailed):
		return ExitIDFailed
	case errors.Is(err, ErrTemplateLoad), errors.Is(err, compositor.ErrTemplateNotFound):
		return ExitTemplateLoad
	default:
		return ExitError
	}
}

// Generator is the per-photo work the driver schedules
type Generator interface {
	Ready() bool
	DisplayName(name string) string
	CropPortrait(img image.Image) (*cropper.Portrait, error)
	Template(name string) (*compositor.Template, error)
	ComposeCard(tpl *compositor.Template, photo image.Image, name string) (*image.NRGBA, error)
}

// Options controls one batch run
type Options struct {
	Input      string
	Template   string
	Recursive  bool
	Clean      bool
	WithParent bool
	Debug      bool
	// Workers bounds concurrent photos; 0 means one per CPU
	Workers    int
	Extensions []string
	Exclude    []string

	CropDir     string
	IDDir       string
	CropFormat  string
	CropQuality int
	CardFormat  string
	CardQuality int

	MinImageSize int
	RunID        string
}

// OptionsFromConfig fills Options from the configuration file sections
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Input:        ".",
		Template:     cfg.Workflow.DefaultTemplate,
		Recursive:    cfg.Workflow.RecursiveSearch,
		Clean:        cfg.Workflow.AutoClean,
		Debug:        cfg.PhotoCropping.Debug,
		Workers:      cfg.Workflow.Workers,
		Extensions:   cfg.Workflow.SupportedFormats,
		Exclude:      utils.DefaultExcludedDirs,
		CropDir:      cfg.Workflow.OutputDirectories.Crop,
		IDDir:        cfg.Workflow.OutputDirectories.ID,
		CropFormat:   cfg.PhotoCropping.OutputFormat,
		CropQuality:  cfg.PhotoCropping.Quality,
		CardFormat:   cfg.IDCard.OutputFormat,
		CardQuality:  cfg.IDCard.Quality,
		MinImageSize: cfg.Workflow.MinImageSize,
	}
}

// Stats counts outcomes. Fields are updated atomically while a run is in
// progress.
type Stats struct {
	Total         int64 `json:"total_photos"`
	CropSuccess   int64 `json:"crop_success"`
	CropFailed    int64 `json:"crop_failed"`
	IDSuccess     int64 `json:"id_success"`
	IDFailed      int64 `json:"id_failed"`
	ParentSuccess int64 `json:"parent_success"`
	ParentFailed  int64 `json:"parent_failed"`
}

// Report is the outcome of a run
type Report struct {
	RunID    string              `json:"run_id"`
	Template string              `json:"template"`
	Stats    Stats               `json:"stats"`
	Crops    []types.PhotoResult `json:"crops"`
	Cards    []types.PhotoResult `json:"cards"`
	Parents  []types.PhotoResult `json:"parents,omitempty"`
	Duration time.Duration       `json:"duration"`
}

// Failed returns the failed results of a phase in input order
func Failed(results []types.PhotoResult) []types.PhotoResult {
	var out []types.PhotoResult
	for _, r := range results {
		if !r.OK {
			out = append(out, r)
		}
	}
	return out
}

// Driver runs batches
type Driver struct {
	gen      Generator
	opts     Options
	proc     *processing.Processor
	analyzer *analyzer.Analyzer
	log      logrus.FieldLogger

	mu       sync.Mutex
	failures []types.PhotoResult
}

// New creates a Driver
func New(gen Generator, opts Options) *Driver {
	if opts.CropDir == "" {
		opts.CropDir = "crop"
	}
	if opts.IDDir == "" {
		opts.IDDir = "ID"
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".jpg", ".jpeg", ".png", ".bmp"}
	}
	if opts.Exclude == nil {
		opts.Exclude = utils.DefaultExcludedDirs
	}

	acfg := analyzer.DefaultConfig()
	acfg.MinImageSize = opts.MinImageSize

	return &Driver{
		gen:      gen,
		opts:     opts,
		proc:     processing.NewProcessor(),
		analyzer: analyzer.NewWithConfig(acfg),
		log:      ilog.Discard(),
	}
}

// SetLogger sets the logger
func (d *Driver) SetLogger(logger logrus.FieldLogger) {
	if logger != nil {
		d.log = logger
	}
}

// FindPhotos returns the photos at input: the file itself, or the supported
// files in the directory. A missing input falls back to the current
// directory. The result is sorted.
func FindPhotos(input string, recursive bool, exts, exclude []string) ([]string, error) {
	input = filepath.FromSlash(strings.ReplaceAll(input, "\\", "/"))

	info, err := os.Stat(input)
	switch {
	case err == nil && !info.IsDir():
		if utils.HasExtension(input, exts) {
			return []string{input}, nil
		}
		return nil, nil
	case err != nil:
		input = "."
	}

	return utils.ListImageFiles(input, exts, recursive, exclude)
}

// BaseDir is the directory the run's output folders hang off
func BaseDir(input string) string {
	info, err := os.Stat(input)
	switch {
	case err != nil:
		return "."
	case info.IsDir():
		return input
	default:
		return filepath.Dir(input)
	}
}

// Run processes every photo under opts.Input. Per-photo failures are
// recorded in the report; the returned error is set when a whole phase
// fails, a required resource is missing, or ctx is cancelled.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	log := d.log.WithField("run_id", d.opts.RunID)

	report := &Report{RunID: d.opts.RunID, Template: d.opts.Template}
	defer func() { report.Duration = time.Since(start) }()

	d.mu.Lock()
	d.failures = nil
	d.mu.Unlock()

	if d.gen == nil || !d.gen.Ready() {
		return report, ErrModelLoad
	}

	photos, err := FindPhotos(d.opts.Input, d.opts.Recursive, d.opts.Extensions, d.opts.Exclude)
	if err != nil {
		return report, fmt.Errorf("failed to search %s: %w", d.opts.Input, err)
	}
	if len(photos) == 0 {
		return report, fmt.Errorf("%w in %s", ErrNoPhotos, d.opts.Input)
	}

	// templates load before anything is written
	tpl, err := d.gen.Template(d.opts.Template)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrTemplateLoad, err)
	}

	var parent *compositor.Template
	if d.opts.WithParent && strings.EqualFold(d.opts.Template, "student") {
		parent, err = d.gen.Template(ParentTemplate)
		if err != nil {
			log.WithError(err).Warn("Parent template not available, skipping parent cards")
		}
	}

	if d.opts.Clean {
		if err := d.clean(photos); err != nil {
			return report, err
		}
	}

	report.Stats.Total = int64(len(photos))
	log.WithFields(logrus.Fields{
		"photos":   len(photos),
		"template": tpl.Name,
		"workers":  d.workers(),
	}).Info("Starting batch")

	// crop phase
	report.Crops = make([]types.PhotoResult, len(photos))
	err = d.each(ctx, len(photos), func(i int) {
		res := d.cropOne(photos[i], log)
		report.Crops[i] = res
		d.count(res, &report.Stats.CropSuccess, &report.Stats.CropFailed)
	})
	if err != nil {
		return report, err
	}

	if report.Stats.CropSuccess == 0 {
		return report, fmt.Errorf("%w: %d photos", ErrAllCropsFailed, len(photos))
	}
	log.WithFields(logrus.Fields{
		"success": report.Stats.CropSuccess,
		"total":   report.Stats.Total,
	}).Info("Cropping completed")

	var crops []types.PhotoResult
	for _, c := range report.Crops {
		if c.OK {
			crops = append(crops, c)
		}
	}

	// ID phase
	report.Cards, err = d.composeAll(ctx, tpl, crops, &report.Stats.IDSuccess, &report.Stats.IDFailed, log)
	if err != nil {
		return report, err
	}

	if parent != nil {
		report.Parents, err = d.composeAll(ctx, parent, crops, &report.Stats.ParentSuccess, &report.Stats.ParentFailed, log)
		if err != nil {
			return report, err
		}
		log.WithFields(logrus.Fields{
			"success": report.Stats.ParentSuccess,
			"total":   len(crops),
		}).Info("Parent ID cards generated")
	}

	if report.Stats.IDSuccess == 0 {
		return report, ErrAllCardsFailed
	}
	return report, nil
}

// Failures returns every failed photo of the last run, crops and cards
// together, sorted by source path
func (d *Driver) Failures() []types.PhotoResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := append([]types.PhotoResult(nil), d.failures...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (d *Driver) composeAll(ctx context.Context, tpl *compositor.Template, crops []types.PhotoResult, ok, failed *int64, log logrus.FieldLogger) ([]types.PhotoResult, error) {
	results := make([]types.PhotoResult, len(crops))
	err := d.each(ctx, len(crops), func(i int) {
		res := d.composeOne(tpl, crops[i].Output, log)
		results[i] = res
		d.count(res, ok, failed)
	})
	return results, err
}

// each runs fn for 0..n-1 on the worker pool. Scheduling stops when ctx is
// cancelled; photos already started finish.
func (d *Driver) each(ctx context.Context, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers())

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(i)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *Driver) workers() int {
	if d.opts.Workers > 0 {
		return d.opts.Workers
	}
	return runtime.NumCPU()
}

func (d *Driver) count(res types.PhotoResult, ok, failed *int64) {
	if res.OK {
		atomic.AddInt64(ok, 1)
		return
	}
	atomic.AddInt64(failed, 1)

	d.mu.Lock()
	d.failures = append(d.failures, res)
	d.mu.Unlock()
}

// cropOne never returns an error; failures are carried in the result
func (d *Driver) cropOne(photo string, log logrus.FieldLogger) types.PhotoResult {
	res := types.PhotoResult{Source: photo}
	plog := log.WithField("photo", photo)

	fail := func(reason string) types.PhotoResult {
		res.Reason = reason
		plog.WithField("reason", reason).Warn("Cropping failed")
		return res
	}

	stem := utils.Stem(photo)
	name := d.gen.DisplayName(stem)
	if name != stem {
		plog.WithField("name", name).Debug("Converted name")
	}
	name = utils.SanitizeFilename(name)

	if _, err := d.analyzer.Inspect(photo); err != nil {
		return fail(err.Error())
	}

	img, err := d.proc.LoadImage(photo)
	if err != nil {
		return fail(err.Error())
	}

	portrait, err := d.gen.CropPortrait(img)
	if err != nil {
		return fail(err.Error())
	}

	// created only once there is something to write
	cropDir := filepath.Join(filepath.Dir(photo), d.opts.CropDir)
	if err := utils.EnsureDir(cropDir); err != nil {
		return fail(fmt.Sprintf("create output directory: %v", err))
	}

	out := filepath.Join(cropDir, name+"."+processing.NormalizeFormat(d.opts.CropFormat))
	if err := d.proc.SaveImage(portrait.Image, out, d.opts.CropFormat, d.opts.CropQuality, false); err != nil {
		return fail(fmt.Sprintf("save crop: %v", err))
	}

	if d.opts.Debug {
		overlay := d.proc.CreateDebugOverlay(img, processing.Overlay{
			Face:    portrait.Face,
			Crop:    portrait.Crop,
			HeadTop: portrait.Guides.HeadTop,
			Chin:    portrait.Guides.Chin,
		})
		debugPath := filepath.Join(cropDir, "DEBUG_"+name+".jpg")
		if err := d.proc.SaveImage(overlay, debugPath, "jpg", 90, false); err != nil {
			plog.WithError(err).Warn("Failed to save debug image")
		}
	}

	res.Output = out
	res.OK = true
	plog.WithField("output", out).Debug("Cropped")
	return res
}

// composeOne writes <Template>_<stem> into the ID directory next to the
// crop directory
func (d *Driver) composeOne(tpl *compositor.Template, cropped string, log logrus.FieldLogger) types.PhotoResult {
	res := types.PhotoResult{Source: cropped}
	plog := log.WithFields(logrus.Fields{"photo": cropped, "template": tpl.Name})

	fail := func(reason string) types.PhotoResult {
		res.Reason = reason
		plog.WithField("reason", reason).Warn("ID card generation failed")
		return res
	}

	idDir := filepath.Join(filepath.Dir(filepath.Dir(cropped)), d.opts.IDDir)
	if err := utils.EnsureDir(idDir); err != nil {
		return fail(fmt.Sprintf("create output directory: %v", err))
	}

	photo, err := d.proc.LoadImage(cropped)
	if err != nil {
		return fail(err.Error())
	}

	stem := utils.Stem(cropped)
	card, err := d.gen.ComposeCard(tpl, photo, stem)
	if err != nil {
		return fail(err.Error())
	}

	out := filepath.Join(idDir, CardName(tpl.Name, stem)+"."+processing.NormalizeFormat(d.opts.CardFormat))
	if err := d.proc.SaveImage(card, out, d.opts.CardFormat, d.opts.CardQuality, false); err != nil {
		return fail(fmt.Sprintf("save card: %v", err))
	}

	res.Output = out
	res.OK = true
	return res
}

// CardName is the file stem of an ID card: the title-cased template name and
// the person's name
func CardName(template, name string) string {
	return cases.Title(language.Und).String(template) + "_" + name
}

// clean removes the output directories the run is about to write to
func (d *Driver) clean(photos []string) error {
	dirs := map[string]bool{}
	base := BaseDir(d.opts.Input)
	dirs[filepath.Join(base, d.opts.CropDir)] = true
	dirs[filepath.Join(base, d.opts.IDDir)] = true
	for _, p := range photos {
		dir := filepath.Dir(p)
		dirs[filepath.Join(dir, d.opts.CropDir)] = true
		dirs[filepath.Join(dir, d.opts.IDDir)] = true
	}

	for dir := range dirs {
		if !utils.DirExists(dir) {
			continue
		}
		d.log.WithField("dir", dir).Info("Deleting output directory")
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}
	return nil
}
