// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"tracejit/internal/config"
	"tracejit/repl"
)

var (
	configPath  string
	noSimplify  bool
	noConstrain bool
	reoptimize  bool
	bound       int
	verbosity   int
	showEffects bool
)

func main() {
	root := &cobra.Command{
		Use:           "tracejit",
		Short:         "Build and inspect trace IR units from .tjir scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML options file")
	flags.BoolVar(&noSimplify, "no-simplify", false, "disable the simplifier")
	flags.BoolVar(&noConstrain, "no-constrain", false, "disable guard constraint tracking")
	flags.BoolVarP(&reoptimize, "reoptimize", "r", false, "run the second pass with relaxed guards")
	flags.IntVar(&bound, "bound", config.DefaultPreOptimizeBound, "rewrite bound for pre-optimization")
	flags.CountVarP(&verbosity, "verbose", "v", "log verbosity (repeat for more)")

	build := &cobra.Command{
		Use:   "build <file.tjir>",
		Short: "Replay a script and print the resulting unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(cmd.Flags())
			if err != nil {
				return err
			}
			return runBuild(args[0], opts)
		},
	}
	build.Flags().BoolVar(&showEffects, "effects", false, "list the side effects of every instruction")

	check := &cobra.Command{
		Use:   "check <file.tjir>...",
		Short: "Replay scripts and verify the units they produce",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(cmd.Flags())
			if err != nil {
				return err
			}
			return runCheck(args, opts)
		},
	}

	options := &cobra.Command{
		Use:   "options",
		Short: "Print the effective options as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(cmd.Flags())
			if err != nil {
				return err
			}
			data, err := opts.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}

	interactive := &cobra.Command{
		Use:   "repl",
		Short: "Build units typed on standard input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(cmd.Flags())
			if err != nil {
				return err
			}
			fmt.Println("Enter a unit; it is built once its braces balance.")
			repl.Start(os.Stdin, os.Stdout, opts)
			return nil
		},
	}

	root.AddCommand(build, check, options, interactive)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadOptions reads the configured file, if any, and applies the flags the
// user set explicitly on top of it.
func loadOptions(flags *pflag.FlagSet) (config.Options, error) {
	opts := config.Default()
	if configPath != "" {
		var err error
		if opts, err = config.Load(configPath); err != nil {
			return config.Options{}, err
		}
	}
	if flags.Changed("no-simplify") {
		opts.Simplify = !noSimplify
	}
	if flags.Changed("no-constrain") {
		opts.ConstrainGuards = !noConstrain
	}
	if flags.Changed("reoptimize") {
		opts.Reoptimize = reoptimize
	}
	if flags.Changed("bound") {
		opts.PreOptimizeBound = bound
	}
	if flags.Changed("verbose") {
		opts.Verbosity = verbosity
	}
	if err := opts.Validate(); err != nil {
		return config.Options{}, err
	}
	commonlog.Configure(opts.Verbosity, nil)
	return opts, nil
}
