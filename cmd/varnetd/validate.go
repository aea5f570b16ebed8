package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360/varnet/config"
	"github.com/c360/varnet/engine"
)

var validateOpts struct {
	Demo bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Assemble the application without running it and print the network report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := initializeCLI()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(flags.ConfigPath)
		if err != nil {
			return err
		}
		// validation never touches the remote directory
		cfg.Directory.Kind = config.DirectoryMemory

		app, err := engine.New(cfg, engine.WithLogger(logger))
		if err != nil {
			return err
		}
		if validateOpts.Demo {
			buildDemo(app, runOpts.Tick)
		}
		initErr := app.Initialise()

		out, err := app.Report().JSON()
		if err != nil {
			return fmt.Errorf("render report: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return initErr
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateOpts.Demo, "demo", getEnvBool("VARNET_DEMO", true),
		"Include the demo modules (env: VARNET_DEMO)")
	rootCmd.AddCommand(validateCmd)
}
