package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"veilchat/internal/crypto"
	"veilchat/internal/services/chat"
	"veilchat/internal/store"
	"veilchat/internal/util/memzero"
)

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Decrypt and print the local message log",
		RunE: func(cmd *cobra.Command, args []string) error {
			lc := cfg.Client.Log
			if lc.Path == "" {
				return errors.New("no message log configured (client.log.path)")
			}
			pass, err := logPassphrase()
			if err != nil {
				return err
			}
			kdf, err := crypto.ParseKDF(lc.KDF)
			if err != nil {
				return err
			}
			l, err := store.OpenLog(lc.Path, lc.Owner, pass, store.LogOptions{KDF: kdf})
			memzero.Zero(pass)
			if err != nil {
				return err
			}
			defer l.Close()

			msgs, corrupt := chat.Collect(l.ReadAll())
			renderHistory(cmd.OutOrStdout(), msgs, corrupt)
			return nil
		},
	}
}
