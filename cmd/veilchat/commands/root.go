package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"veilchat/internal/app"
	"veilchat/internal/logging"
)

const passphraseEnv = "VEILCHAT_PASSPHRASE"

var (
	cfgPath    string
	logLevel   string
	passphrase string
	serverAddr string
	serverKey  string
	useTor     bool

	cfg       *app.Config
	logger    *logrus.Logger
	logCloser io.Closer
)

// Execute runs the veilchat CLI.
func Execute() error {
	root := &cobra.Command{
		Use:          "veilchat",
		Short:        "Anonymous encrypted chat client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = app.LoadConfig(cfgPath); err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("server") {
				cfg.Client.Server = serverAddr
			}
			if flags.Changed("server-key") {
				cfg.Client.ServerKey = serverKey
			}
			if flags.Changed("tor") {
				cfg.Client.Tor = useTor
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
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

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "veilchat.toml", "config file (defaults apply if it does not exist)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVarP(&passphrase, "passphrase", "p", "", "message log passphrase (or $"+passphraseEnv+")")
	pf.StringVarP(&serverAddr, "server", "s", "", "relay address host:port")
	pf.StringVar(&serverKey, "server-key", "", "pinned relay public key (PEM)")
	pf.BoolVar(&useTor, "tor", false, "connect through the local Tor SOCKS proxy")

	root.AddCommand(connectCmd(), historyCmd(), fingerprintCmd())
	return root.Execute()
}

func logPassphrase() ([]byte, error) {
	p := passphrase
	if p == "" {
		p = os.Getenv(passphraseEnv)
	}
	if p == "" {
		return nil, errors.New("message log configured: passphrase required (-p or $" + passphraseEnv + ")")
	}
	return []byte(p), nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
