// Package cmd implements the timeline command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/timeline/internal/config"
	"github.com/zjrosen/timeline/internal/log"
	"github.com/zjrosen/timeline/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

const logBufferSize = 500

var (
	cfgFile   string
	debugFlag bool

	v   *viper.Viper
	cfg *config.Config

	closeLog          func()
	telemetryProvider *telemetry.Provider
)

var rootCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Record Chrome performance timeline traces",
	Long: `timeline drives a Chromium browser over the DevTools protocol and
records performance timeline traces that open in the Performance panel.

Examples:
  timeline record https://example.com --duration 5s
  timeline record -o load.json --screenshots https://example.com
  timeline show load.json`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/timeline/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

// execute runs the root command and always releases what setup acquired,
// including when the command failed.
func execute() error {
	defer teardown()
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	v, err = config.New(cfgFile)
	if err != nil {
		return err
	}
	if err := v.BindPFlag("log.debug", cmd.Root().PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("binding debug flag: %w", err)
	}
	cfg, err = config.Load(v)
	if err != nil {
		return err
	}

	if err := initLogging(cfg.Log); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	telemetryProvider, err = telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	return nil
}

func initLogging(lc config.LogConfig) error {
	if !lc.Debug && os.Getenv("TIMELINE_DEBUG") == "" {
		// Keep the ring buffer for the recorder view; nothing goes to disk.
		log.InitWriter(nil, logBufferSize)
		log.SetMinLevel(log.LevelInfo)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(lc.File), 0750); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	cleanup, err := log.Init(lc.File, logBufferSize)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	closeLog = cleanup
	log.SetMinLevel(log.ParseLevel(lc.Level))
	log.Info(log.CatConfig, "timeline starting", "version", version)
	return nil
}

// teardown flushes telemetry and closes the debug log. It is safe to call
// more than once.
func teardown() {
	if telemetryProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryProvider.Shutdown(ctx); err != nil {
			log.ErrorErr(log.CatConfig, "telemetry shutdown failed", err)
		}
		telemetryProvider = nil
	}
	if closeLog != nil {
		closeLog()
		closeLog = nil
	}
}
