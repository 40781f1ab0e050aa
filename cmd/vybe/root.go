package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nevindra/vybe/internal/config"
)

// options holds global CLI options.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "vybe",
		Short:         "Vybe: prompt-to-app code generation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: vybe.toml, or $VYBE_CONFIG)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newStepsCmd(opts))
	return cmd
}

func loadConfig(opts *options) (config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv("VYBE_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
