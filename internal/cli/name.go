package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/menta2k/idcard"
	"github.com/menta2k/idcard/pkg/transliterate"
)

// DefaultNamesOutput is written when --input is given without --output
const DefaultNamesOutput = "converted_names.txt"

type nameOpts struct {
	input  string
	output string
	style  string
	format string
}

// newNameCmd creates the name command.
func (a *App) newNameCmd() *cobra.Command {
	opts := &nameOpts{}

	cmd := &cobra.Command{
		Use:   "name [names...]",
		Short: "Convert Chinese names to pinyin",
		Long: `Convert Chinese names to their Latin form, as printed on ID cards.

Names given as arguments are printed. With --input, every non-empty line of
the file is converted and the results are written one per line to --output.

Examples:
  idcard name 张小明 李雷
  idcard name --format surname_givenname 王芳
  idcard name -i names.txt -o latin.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.input == "" {
				return fmt.Errorf("give at least one name or --input")
			}
			return a.convertNames(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "file with one name per line")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file for --input (default "+DefaultNamesOutput+")")
	cmd.Flags().StringVar(&opts.style, "style", "", "pinyin style: normal, first_letter, tone, tone2")
	cmd.Flags().StringVar(&opts.format, "format", "", "name order: givenname_surname, surname_givenname")

	return cmd
}

func (a *App) convertNames(args []string, opts *nameOpts) error {
	if err := a.setup(); err != nil {
		return err
	}

	nc := a.cfg.NameConversion
	if opts.style != "" {
		nc.PinyinStyle = opts.style
	}
	if opts.format != "" {
		nc.NameFormat = opts.format
	}
	topts, err := idcard.NameOptions(nc)
	if err != nil {
		return err
	}

	for _, name := range args {
		if converted := transliterate.Transliterate(name, topts); converted != "" {
			fmt.Fprintf(a.stdout, "%s -> %s\n", name, converted)
		} else {
			a.log.WithField("name", name).Warn("Could not convert name")
		}
	}

	if opts.input == "" {
		return nil
	}

	names, err := readNames(opts.input)
	if err != nil {
		return err
	}
	converted := transliterate.TransliterateAll(names, topts)

	output := opts.output
	if output == "" {
		output = DefaultNamesOutput
	}
	var b strings.Builder
	for _, name := range converted {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(output, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	a.log.WithFields(logrus.Fields{
		"input":     opts.input,
		"output":    output,
		"names":     len(names),
		"converted": len(converted),
	}).Info("Converted names")
	fmt.Fprintf(a.stdout, "converted %d of %d names to %s\n", len(converted), len(names), output)
	return nil
}

// readNames returns the trimmed, non-empty lines of a file
func readNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			names = append(names, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return names, nil
}
