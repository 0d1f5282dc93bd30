package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"veilchat/internal/app"
)

func serveCmd() *cobra.Command {
	var (
		listen      string
		metricsAddr string
		idle        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept chat clients until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Server.Listen = listen
			}
			if flags.Changed("metrics") {
				cfg.Server.MetricsAddr = metricsAddr
			}
			if flags.Changed("idle-timeout") {
				cfg.Server.IdleTimeout = app.Duration(idle)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			w, err := app.NewRelayWire(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "address to accept clients on")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "address to serve /metrics on")
	cmd.Flags().DurationVar(&idle, "idle-timeout", 0, "disconnect clients silent this long (0 disables)")
	return cmd
}
