package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adweave/aip-coordinator/pkg/transport"
)

var (
	keygenPublicOut  string
	keygenPrivateOut string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 signing key pair",
	Long: `Generates a PEM-encoded Ed25519 key pair for a bidding agent.
The public key goes into the bidder inventory; the private key stays
with the agent and signs its bid and event envelopes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		publicPEM, privatePEM, err := transport.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("failed to generate key pair: %w", err)
		}

		if keygenPublicOut == "" && keygenPrivateOut == "" {
			fmt.Print(publicPEM)
			fmt.Print(privatePEM)

			return nil
		}

		if keygenPublicOut != "" {
			if err := os.WriteFile(keygenPublicOut, []byte(publicPEM), 0o644); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}

			logger.WithField("path", keygenPublicOut).Info("Wrote public key")
		}

		if keygenPrivateOut != "" {
			if err := os.WriteFile(keygenPrivateOut, []byte(privatePEM), 0o600); err != nil {
				return fmt.Errorf("failed to write private key: %w", err)
			}

			logger.WithField("path", keygenPrivateOut).Info("Wrote private key")
		}

		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenPublicOut, "public-out", "", "write the public key PEM to this file")
	keygenCmd.Flags().StringVar(&keygenPrivateOut, "private-out", "", "write the private key PEM to this file")

	rootCmd.AddCommand(keygenCmd)
}
