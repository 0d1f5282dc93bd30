package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"veilchat/internal/app"
	"veilchat/internal/logging"
)

var (
	cfgPath  string
	logLevel string

	cfg       *app.Config
	logger    *logrus.Logger
	logCloser io.Closer
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Encrypted chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = app.LoadConfig(cfgPath); err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			logger, logCloser, err = logging.New(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "relay.toml", "config file (defaults apply if it does not exist)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(serveCmd(), keygenCmd())
	return root
}
