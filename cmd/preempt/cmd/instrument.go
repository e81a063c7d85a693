package cmd

import (
	"errors"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/amirkhaki/preempt/pkg/instrument"
)

// instrumentCmd represents the instrument command
var instrumentCmd = &cobra.Command{
	Use:   "instrument",
	Short: "instrument given files",
	Long: `Rewrite Go files so that every statement, function entry and function
return is reported to the preempt runtime. The files of one invocation
are treated as one package.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(inputs) == 0 {
			return nil
		}
		cfg := instrument.DefaultConfig()
		if configFile != "" {
			var err error
			if cfg, err = instrument.LoadConfig(configFile); err != nil {
				return err
			}
		}
		instr := instrument.NewInstrumenter(cfg)
		fset := token.NewFileSet()

		files, err := instr.InstrumentFiles(fset, inputs)
		if err != nil {
			return err
		}
		if toStdout {
			var jerr error
			for _, f := range files {
				jerr = errors.Join(jerr, instrument.WriteInstrumented(cmd.OutOrStdout(), fset, f))
			}
			return jerr
		}

		var jerr error
		for i := range inputs {
			f, s := files[i], inputs[i]
			dir, filename := filepath.Split(s)
			ext := filepath.Ext(filename)
			filename = filename[:len(filename)-len(ext)] + postfix + ext
			output := filepath.Join(dir, filename)
			if _, err := os.Stat(output); err == nil && !force {
				slog.Warn("Skipping existing file, use --force to overwrite", "file", output)
				continue
			}
			file, err := os.Create(output)
			if err != nil {
				jerr = errors.Join(jerr, err)
				continue
			}
			jerr = errors.Join(jerr, instrument.WriteInstrumented(file, fset, f), file.Close())
			slog.Debug("Instrumented", "input", s, "output", output)
		}
		return jerr
	},
}

var (
	inputs     []string
	postfix    string
	force      bool
	toStdout   bool
	configFile string
)

func init() {
	rootCmd.AddCommand(instrumentCmd)

	flags := instrumentCmd.Flags()
	flags.StringArrayVarP(&inputs, "input", "i",
		[]string{}, "path of input files")
	flags.StringVarP(&postfix, "postfix", "p", "_preempt",
		"postfix of generated files (alongside input files)")
	flags.BoolVarP(&force, "force", "f", false,
		"force override files")
	flags.BoolVar(&toStdout, "stdout", false,
		"print instrumented files to stdout instead of writing them")
	flags.StringVarP(&configFile, "config", "c", "",
		"YAML instrumentation config")
}
