package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/menta2k/idcard"
	"github.com/menta2k/idcard/internal/utils"
	"github.com/menta2k/idcard/pkg/pipeline"
	"github.com/menta2k/idcard/pkg/processing"
)

type composeOptions struct {
	template string
	name     string
	output   string
	outDir   string
	crop     bool
}

// newComposeCmd creates the compose command.
func (a *App) newComposeCmd() *cobra.Command {
	opts := &composeOptions{}

	cmd := &cobra.Command{
		Use:   "compose <photo>",
		Short: "Compose one ID card from a portrait",
		Long: `Paste a portrait and a name onto an ID card template.

The photo is used as is unless --crop is given, in which case the face is
located and the portrait cropped first. The name defaults to the photo's file
name.

Examples:
  idcard compose crop/Xiaoming\ Zhang.jpg
  idcard compose -t Staff --name "Wei Li" portrait.png
  idcard compose --crop -o card.jpg 张小明.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.composeSingle(args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.template, "template", "t", "", "template name (default from config)")
	cmd.Flags().StringVar(&opts.name, "name", "", "name printed on the card")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default <Template>_<name>.<format> in --out-dir)")
	cmd.Flags().StringVar(&opts.outDir, "out-dir", ".", "directory for the default output file")
	cmd.Flags().BoolVar(&opts.crop, "crop", false, "crop the portrait from the photo first")

	return cmd
}

func (a *App) composeSingle(photo string, opts *composeOptions) error {
	if err := a.setup(); err != nil {
		return err
	}

	var genOpts []idcard.Option
	if !opts.crop {
		genOpts = append(genOpts, idcard.WithoutDetector())
	}
	gen, err := a.generator(genOpts...)
	if err != nil {
		return err
	}
	defer gen.Close()

	templateName := opts.template
	if templateName == "" {
		templateName = a.cfg.Workflow.DefaultTemplate
	}
	tpl, err := gen.Template(templateName)
	if err != nil {
		return err
	}

	proc := processing.NewProcessor()
	img, err := a.loadPhoto(proc, photo)
	if err != nil {
		return err
	}

	if opts.crop {
		portrait, err := gen.CropPortrait(img)
		if err != nil {
			return fmt.Errorf("%s: %w", photo, err)
		}
		img = portrait.Image
	}

	name := opts.name
	if name == "" {
		name = utils.Stem(sourceName(photo))
	}
	name = gen.DisplayName(name)

	card, err := gen.ComposeCard(tpl, img, name)
	if err != nil {
		return err
	}

	format := a.cfg.IDCard.OutputFormat
	out := opts.output
	if out == "" {
		if err := utils.EnsureDir(opts.outDir); err != nil {
			return err
		}
		out = filepath.Join(opts.outDir, pipeline.CardName(tpl.Name, utils.SanitizeFilename(name))+"."+processing.NormalizeFormat(format))
	} else {
		out = processing.WithFormat(out, format)
	}

	if err := proc.SaveImage(card, out, format, a.cfg.IDCard.Quality, false); err != nil {
		return err
	}
	a.printWritten(out)
	return nil
}
