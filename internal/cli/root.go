// Package cli holds the clipfetch cobra commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"clipfetch/internal/app"
	"clipfetch/internal/version"
	"clipfetch/pkg/config"
	"clipfetch/pkg/logging"
)

var (
	configFlag  string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:           "clipfetch",
	Short:         "Download short-form videos from Douyin, TikTok, Threads, Instagram, X and YouTube",
	Long:          fmt.Sprintf("clipfetch %s\n\nResolve a share link to its media file and download it.", version.Short()),
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("clipfetch %s\n", version.Short()))

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a config file (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}

// loadApp builds the application for one command. Logs go to stderr so
// stdout carries only results.
func loadApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if verboseFlag {
		cfg.LogLevel = "debug"
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON, cmd.ErrOrStderr())
	return app.NewWithConfig(cfg, log), nil
}
