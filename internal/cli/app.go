// Package cli provides the idcard command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/menta2k/idcard"
	"github.com/menta2k/idcard/internal/config"
	"github.com/menta2k/idcard/internal/log"
	"github.com/menta2k/idcard/internal/utils"
	"github.com/menta2k/idcard/pkg/compositor"
	"github.com/menta2k/idcard/pkg/pipeline"
)

// Version information set at build time.
var (
	Version   = idcard.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// App represents the CLI application.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool
	logFile    string
	noColors   bool

	// set by setup
	cfg   *config.Config
	log   logrus.FieldLogger
	runID string
}

// New creates a new CLI application.
func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	app.root = &cobra.Command{
		Use:   "idcard",
		Short: "Crop portraits from photos and compose ID cards",
		Long: `idcard finds the face in each photo, crops a passport style portrait
around it and pastes the portrait with the person's name onto an ID card
template.

Photo file names are used as names. Chinese names are converted to pinyin.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := app.root.PersistentFlags()
	flags.StringVarP(&app.configPath, "config", "c", "", "configuration file (JSON or YAML)")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&app.logFile, "log-file", "", "also write logs to this file")
	flags.BoolVar(&app.noColors, "no-colors", false, "disable colored log output")

	app.root.AddCommand(
		app.newVersionCmd(),
		app.newRunCmd(),
		app.newCropCmd(),
		app.newComposeCmd(),
		app.newNameCmd(),
		app.newConfigCmd(),
		app.newProbeCmd(),
	)

	return app
}

// WithOutput sets custom output writers.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the CLI application.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the CLI with specific arguments (useful for testing).
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

// ExitCode maps an error returned by Execute to a process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return pipeline.ExitOK
	case errors.Is(err, idcard.ErrModelLoad):
		return pipeline.ExitModelLoad
	case errors.Is(err, compositor.ErrFontNotFound):
		return pipeline.ExitTemplateLoad
	default:
		return pipeline.ExitCode(err)
	}
}

// configFile returns the configuration file to load, or "" for defaults
func (a *App) configFile() string {
	if a.configPath != "" {
		return a.configPath
	}
	for _, candidate := range []string{DefaultConfigFile, config.GetConfigPath()} {
		if utils.FileExists(candidate) {
			return candidate
		}
	}
	return ""
}

// setup loads the configuration and builds the logger. An explicit --config
// that does not exist is an error. Without one, ./config.json and then the
// user config file are tried before falling back to defaults.
func (a *App) setup() error {
	cfg := config.Default()
	if path := a.configFile(); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	if a.logFile != "" {
		cfg.Logging.File = a.logFile
	}
	if a.noColors {
		cfg.Logging.NoColors = true
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.New(log.Options{
		Level:    cfg.Logging.Level,
		File:     cfg.Logging.File,
		NoColors: cfg.Logging.NoColors,
		Caller:   a.verbose,
		Output:   a.stderr,
	})

	a.cfg = cfg
	a.runID = uuid.NewString()
	a.log = logger.WithField("run_id", a.runID)
	return nil
}

// generator builds an idcard.Generator from the loaded configuration
func (a *App) generator(opts ...idcard.Option) (*idcard.Generator, error) {
	opts = append([]idcard.Option{idcard.WithLogger(a.log)}, opts...)
	return idcard.New(a.cfg, opts...)
}

// newVersionCmd creates the version command.
func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "idcard version %s\n", Version)
			fmt.Fprintf(a.stdout, "  Git commit: %s\n", GitCommit)
			fmt.Fprintf(a.stdout, "  Build date: %s\n", BuildDate)
		},
	}
}
