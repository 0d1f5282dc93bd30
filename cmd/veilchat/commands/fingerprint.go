package commands

import (
	"github.com/spf13/cobra"

	"veilchat/internal/crypto"
	"veilchat/internal/store"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the pinned relay key fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := store.ReadPublicKey(cfg.Client.ServerKey)
			if err != nil {
				return err
			}
			fp, err := crypto.PublicKeyFingerprint(pub)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Fingerprint: %s\n", fp)
			return nil
		},
	}
}
