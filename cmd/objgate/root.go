package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/koustreak/objgate/internal/app"
	"github.com/koustreak/objgate/internal/config"
	"github.com/koustreak/objgate/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "objgate",
	Short:         "REST gateway and multipart uploader for S3-compatible storage",
	Long:          `objgate fronts a MinIO or AWS S3 backend with a small REST API, uploads large payloads as all-or-nothing multipart sessions, and cleans up sessions left behind by failed clients.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "objgate: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $OBJGATE_CONFIG or ./objgate.yaml)")
}

// openApp loads the configuration and assembles the application.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.Log.Output == nil {
		cfg.Log.Output = os.Stderr
	}
	log := logger.New(&cfg.Log)
	logger.SetGlobal(log)

	return app.New(ctx, cfg, log)
}
