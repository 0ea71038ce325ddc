package cli

import (
	"fmt"
	"image"
	"os"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/menta2k/idcard/internal/utils"
	"github.com/menta2k/idcard/pkg/analyzer"
	"github.com/menta2k/idcard/pkg/processing"
)

type cropOptions struct {
	output string
	outDir string
	format string
	debug  bool
}

// newCropCmd creates the crop command.
func (a *App) newCropCmd() *cobra.Command {
	opts := &cropOptions{}

	cmd := &cobra.Command{
		Use:   "crop <image|URL>",
		Short: "Crop a single portrait",
		Long: `Locate the face in one photo and write the framed portrait.

Examples:
  idcard crop photo.jpg
  idcard crop -o portrait.png https://example.com/photo.jpg
  idcard crop --debug --out-dir crops photo.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cropSingle(args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default <stem>_crop.<format> in --out-dir)")
	cmd.Flags().StringVar(&opts.outDir, "out-dir", ".", "directory for the default output file")
	cmd.Flags().StringVar(&opts.format, "format", "", "output format: jpg, png, webp (default from config)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "also write the photo with face and crop boxes drawn")

	return cmd
}

func (a *App) cropSingle(source string, opts *cropOptions) error {
	if err := a.setup(); err != nil {
		return err
	}

	gen, err := a.generator()
	if err != nil {
		return err
	}
	defer gen.Close()

	format := opts.format
	if format == "" {
		format = a.cfg.PhotoCropping.OutputFormat
	}
	format = processing.NormalizeFormat(format)

	proc := processing.NewProcessor()
	img, err := a.loadPhoto(proc, source)
	if err != nil {
		return err
	}

	portrait, err := gen.CropPortrait(img)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}

	name := sourceName(source)
	out := opts.output
	if out == "" {
		if err := utils.EnsureDir(opts.outDir); err != nil {
			return err
		}
		out = utils.GenerateOutputFilename(name, opts.outDir, "", "_crop", format)
	} else {
		out = processing.WithFormat(out, format)
	}

	if err := proc.SaveImage(portrait.Image, out, format, a.cfg.PhotoCropping.Quality, false); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{
		"face": portrait.Face,
		"crop": portrait.Crop,
	}).Debug("Cropped portrait")
	a.printWritten(out)

	if opts.debug {
		overlay := proc.CreateDebugOverlay(img, processing.Overlay{
			Face:    portrait.Face,
			Crop:    portrait.Crop,
			HeadTop: portrait.Guides.HeadTop,
			Chin:    portrait.Guides.Chin,
		})
		debugPath := utils.GenerateOutputFilename(name, opts.outDir, "DEBUG_", "", "jpg")
		if err := proc.SaveImage(overlay, debugPath, "jpg", 90, false); err != nil {
			return err
		}
		a.printWritten(debugPath)
	}

	return nil
}

// loadPhoto loads a file or URL and rejects photos the pipeline would also
// reject. Files are checked from their header before decoding.
func (a *App) loadPhoto(proc *processing.Processor, source string) (image.Image, error) {
	acfg := analyzer.DefaultConfig()
	acfg.MinImageSize = a.cfg.Workflow.MinImageSize
	check := analyzer.NewWithConfig(acfg)

	if !isURL(source) {
		if _, err := check.Inspect(source); err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
	}

	img, err := proc.LoadImageSmart(source)
	if err != nil {
		return nil, err
	}
	if err := check.ValidateImage(img); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	info := check.GetImageInfo(img)
	a.log.WithFields(logrus.Fields{
		"source": source,
		"width":  info.Width,
		"height": info.Height,
	}).Debug("Loaded photo")
	return img, nil
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func (a *App) printWritten(file string) {
	if info, err := os.Stat(file); err == nil {
		fmt.Fprintf(a.stdout, "wrote %s (%s)\n", file, utils.FormatFileSize(info.Size()))
		return
	}
	fmt.Fprintf(a.stdout, "wrote %s\n", file)
}

// sourceName is the file name of a path or the last element of a URL path
func sourceName(source string) string {
	if isURL(source) {
		trimmed := source
		if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
			trimmed = trimmed[:i]
		}
		if base := path.Base(trimmed); base != "" && base != "/" && !strings.Contains(base, ":") {
			return base
		}
		return "download"
	}
	return source
}
