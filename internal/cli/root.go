// Package cli implements the avctl command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tessro/avctl/internal/config"
	"github.com/tessro/avctl/internal/errors"
	"github.com/tessro/avctl/internal/logging"
)

var (
	cfgFile string
	jsonOut bool
	verbose bool

	cfg      *config.Config
	logger   = logging.Discard()
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "avctl",
	Short: "Control UPnP media renderers from the command line",
	Long: `avctl discovers UPnP AV devices on the local network and plays media
on renderers, following their state through event subscriptions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.avctlrc)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig() error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logCfg := cfg.Log
	switch {
	case verbose:
		logCfg.Level = "debug"
	case logCfg.File == "":
		// Only warnings reach the terminal unless asked for.
		logCfg.Level = "warn"
	}
	l, closeFn, err := logging.New(logCfg, Version, os.Stderr)
	if err != nil {
		return err
	}
	logger, closeLog = l, closeFn
	slog.SetDefault(logger)
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errors.Format(err))
		os.Exit(1)
	}
}

// Config returns the loaded configuration.
func Config() *config.Config {
	return cfg
}

// JSONOutput returns true if JSON output is requested.
func JSONOutput() bool {
	return jsonOut
}

// Verbose returns true if verbose output is requested.
func Verbose() bool {
	return verbose
}
