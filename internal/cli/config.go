package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/idcard/internal/config"
	"github.com/menta2k/idcard/internal/utils"
	"github.com/menta2k/idcard/pkg/compositor"
)

// DefaultConfigFile is written by config init when no path is given
const DefaultConfigFile = "config.json"

// newConfigCmd creates the config command and its subcommands.
func (a *App) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}

	cmd.AddCommand(
		a.newConfigInitCmd(),
		a.newConfigShowCmd(),
		a.newConfigTemplatesCmd(),
	)
	return cmd
}

func (a *App) newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Long: `Write the default configuration to path (default ` + DefaultConfigFile + `).
The format follows the extension: .yaml and .yml write YAML, anything else JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := DefaultConfigFile
			if len(args) > 0 {
				path = args[0]
			}
			if utils.FileExists(path) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func (a *App) newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after the file, environment and flags are
applied. Fails when the result is invalid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			enc := yaml.NewEncoder(a.stdout)
			enc.SetIndent(2)
			if err := enc.Encode(a.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func (a *App) newConfigTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the templates found in the template directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			dir := a.cfg.IDCard.TemplateDirectory
			names := compositor.AvailableTemplates(dir)
			if len(names) == 0 {
				return fmt.Errorf("%w: no templates in %s", compositor.ErrTemplateNotFound, dir)
			}
			fmt.Fprintf(a.stdout, "%s\n", strings.Join(names, "\n"))
			return nil
		},
	}
}
