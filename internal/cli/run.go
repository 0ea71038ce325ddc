package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/idcard/pkg/pipeline"
	"github.com/menta2k/idcard/pkg/types"
)

// runOptions holds options for the run command.
type runOptions struct {
	template    string
	noRecursive bool
	clean       bool
	withParent  bool
	debug       bool
	workers     int
	jsonOutput  bool
}

// newRunCmd creates the run command.
func (a *App) newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Crop every photo and compose ID cards",
		Long: `Crop every photo under input (a file or a directory, default ".") and
compose an ID card for each successful crop.

Crops are written to a "crop" folder next to each photo and cards to an "ID"
folder beside it. The file name of each photo is the name printed on the card.

Examples:
  # Process the current directory with the default template
  idcard run

  # Staff cards for one folder, without descending into subfolders
  idcard run -t Staff -n ./photos

  # Student cards plus parent cards, starting from empty output folders
  idcard run --withparent --clean ./class-3a`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := "."
			if len(args) > 0 {
				input = args[0]
			}
			return a.runBatch(cmd, input, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.template, "template", "t", "", "template name (Student, Staff, Resident, Contractor, Parent)")
	cmd.Flags().BoolVarP(&opts.noRecursive, "no-recursive", "n", false, "only process photos directly in input")
	cmd.Flags().BoolVar(&opts.clean, "clean", false, "delete existing output folders first")
	cmd.Flags().BoolVar(&opts.withParent, "withparent", false, "also compose Parent cards for student photos")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "write debug overlays next to the crops")
	cmd.Flags().IntVar(&opts.workers, "workers", -1, "photos processed concurrently (0 = one per CPU)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")

	return cmd
}

func (a *App) runBatch(cmd *cobra.Command, input string, opts *runOptions) error {
	if err := a.setup(); err != nil {
		return err
	}

	gen, err := a.generator()
	if err != nil {
		return err
	}
	defer gen.Close()

	popts := pipeline.OptionsFromConfig(a.cfg)
	popts.Input = input
	popts.RunID = a.runID
	if opts.template != "" {
		popts.Template = opts.template
	}
	if opts.noRecursive {
		popts.Recursive = false
	}
	popts.Clean = popts.Clean || opts.clean
	popts.WithParent = opts.withParent
	popts.Debug = popts.Debug || opts.debug
	if opts.workers >= 0 {
		popts.Workers = opts.workers
	}

	driver := pipeline.New(gen, popts)
	driver.SetLogger(a.log)

	report, runErr := driver.Run(cmd.Context())
	if report != nil {
		if opts.jsonOutput {
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			a.printReport(report)
		}
	}
	return runErr
}

func (a *App) printReport(r *pipeline.Report) {
	s := r.Stats
	if s.Total == 0 {
		return
	}

	fmt.Fprintf(a.stdout, "\nRun %s (%s template)\n", r.RunID, r.Template)
	fmt.Fprintf(a.stdout, "  Photos:        %d\n", s.Total)
	fmt.Fprintf(a.stdout, "  Cropped:       %d/%d\n", s.CropSuccess, s.Total)
	if s.CropSuccess > 0 {
		fmt.Fprintf(a.stdout, "  ID cards:      %d/%d\n", s.IDSuccess, s.CropSuccess)
	}
	if s.ParentSuccess+s.ParentFailed > 0 {
		fmt.Fprintf(a.stdout, "  Parent cards:  %d/%d\n", s.ParentSuccess, s.ParentSuccess+s.ParentFailed)
	}
	fmt.Fprintf(a.stdout, "  Duration:      %s\n", r.Duration.Round(time.Millisecond))

	a.printFailed("Failed crops", pipeline.Failed(r.Crops))
	a.printFailed("Failed ID cards", pipeline.Failed(r.Cards))
	a.printFailed("Failed parent cards", pipeline.Failed(r.Parents))
}

func (a *App) printFailed(title string, failed []types.PhotoResult) {
	if len(failed) == 0 {
		return
	}
	fmt.Fprintf(a.stdout, "\n%s:\n", title)
	for _, f := range failed {
		if f.Source == "" {
			// not reached before cancellation
			continue
		}
		fmt.Fprintf(a.stdout, "  - %s: %s\n", f.Source, f.Reason)
	}
}
