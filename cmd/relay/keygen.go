package main

import (
	"crypto/rand"
	"fmt"

	"github.com/spf13/cobra"

	"veilchat/internal/crypto"
	"veilchat/internal/store"
)

func keygenCmd() *cobra.Command {
	var (
		bits    int
		force   bool
		privOut string
		pubOut  string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the relay's RSA key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if privOut == "" {
				privOut = cfg.Server.PrivateKey
			}
			if pubOut == "" {
				pubOut = cfg.Server.PublicKey
			}

			kp, err := crypto.GenerateKeyPair(rand.Reader, bits)
			if err != nil {
				return err
			}
			if err := store.WriteKeyPair(privOut, pubOut, kp, force); err != nil {
				return err
			}
			fp, err := crypto.PublicKeyFingerprint(kp.Public)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Private key: %s\n", privOut)
			fmt.Fprintf(out, "Public key:  %s\n", pubOut)
			fmt.Fprintf(out, "Fingerprint: %s\n", fp)
			fmt.Fprintln(out, "Distribute the public key to clients; keep the private key secret.")
			return nil
		},
	}
	cmd.Flags().IntVar(&bits, "bits", crypto.DefaultRSABits, "RSA modulus size")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing key files")
	cmd.Flags().StringVar(&privOut, "private-key", "", "private key path (default from config)")
	cmd.Flags().StringVar(&pubOut, "public-key", "", "public key path (default from config)")
	return cmd
}
