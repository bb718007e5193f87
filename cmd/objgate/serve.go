package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koustreak/objgate/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API until interrupted.",
	Long:  `Serve starts the HTTP API under /api/s3. SIGINT or SIGTERM stops accepting connections and drains in-flight requests for up to server.shutdown_timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.Config.Server
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}

		srv := server.New(a.Service, a.Log.With().Str("component", "http").Logger(), server.Options{
			MaxUploadBytes: cfg.MaxUploadBytes,
		})
		return srv.Run(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides server.listen_addr")
}
