package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/idcard/pkg/detection"
	"github.com/menta2k/idcard/pkg/processing"
	"github.com/menta2k/idcard/pkg/vision"
)

type probeOptions struct {
	see bool
}

// newProbeCmd creates the probe command.
func (a *App) newProbeCmd() *cobra.Command {
	opts := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe <image|URL>",
		Short: "Show what the face detector finds in a photo",
		Long: `Run the configured face detector on one photo and print every candidate
as JSON, with the reason it was rejected if it was.

With --see and a vision model backend (ollama, llamacpp) the model is first
asked to describe the photo, to check that it receives the image at all.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}

			gen, err := a.generator()
			if err != nil {
				return err
			}
			defer gen.Close()

			proc := processing.NewProcessor()
			img, err := a.loadPhoto(proc, args[0])
			if err != nil {
				return err
			}

			if opts.see {
				det, ok := gen.Network().(*detection.Detector)
				if !ok {
					return fmt.Errorf("--see needs a vision model backend, not %q", a.cfg.PhotoCropping.FaceDetection.Method)
				}
				imgB64, err := proc.PrepareImageForModel(img, "jpg", detection.DefaultMaxDim, 90)
				if err != nil {
					return err
				}
				answer, err := det.TestVision(cmd.Context(), imgB64)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s sees: %s\n\n", det.Model(), answer)
			}

			res, err := gen.Locate(img)
			if err != nil && !errors.Is(err, vision.ErrNoFace) {
				return err
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(res); encErr != nil {
				return encErr
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.see, "see", false, "ask the vision model to describe the photo first")
	return cmd
}
