package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adweave/aip-coordinator/pkg/transport"
)

var seedDir string

const seedServerYAML = `listen:
  host: "0.0.0.0"
  port: 8420

operator:
  id: "operator-local"
  allowed_formats:
    - "text"

transport:
  nonce_ttl_seconds: 300
  max_clock_skew_ms: 30000

auction:
  window_ms: 250
  distribution:
    backend: "local"

ledger:
  backend: "in_memory"

weave:
  workers: 4
  retry_after_ms: 150
`

const seedBiddersYAML = `bidders:
  - name: "agent-local"
    endpoint: "http://localhost:9001"
    pools:
      - "default"
    timeout_ms: 200
    public_key: |
%s`

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write starter configuration files",
	Long: `Writes a starter server.yaml and bidders.yaml into the target
directory, with a freshly generated key pair for the sample agent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(seedDir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		publicPEM, privatePEM, err := transport.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("failed to generate sample key pair: %w", err)
		}

		serverPath := filepath.Join(seedDir, "server.yaml")
		if err := os.WriteFile(serverPath, []byte(seedServerYAML), 0o644); err != nil {
			return fmt.Errorf("failed to write server config: %w", err)
		}

		biddersPath := filepath.Join(seedDir, "bidders.yaml")
		if err := os.WriteFile(biddersPath, []byte(fmt.Sprintf(seedBiddersYAML, indentPEM(publicPEM))), 0o644); err != nil {
			return fmt.Errorf("failed to write bidder inventory: %w", err)
		}

		keyPath := filepath.Join(seedDir, "agent-local.key.pem")
		if err := os.WriteFile(keyPath, []byte(privatePEM), 0o600); err != nil {
			return fmt.Errorf("failed to write agent private key: %w", err)
		}

		logger.WithField("dir", seedDir).Info("Wrote starter configuration")
		logger.Infof("Run with: aip-coordinator run --config %s --bidders %s", serverPath, biddersPath)

		return nil
	},
}

// indentPEM indents a PEM block for embedding in a YAML literal scalar.
func indentPEM(pem string) string {
	var out strings.Builder

	for _, line := range strings.Split(strings.TrimRight(pem, "\n"), "\n") {
		out.WriteString("      ")
		out.WriteString(line)
		out.WriteString("\n")
	}

	return out.String()
}

func init() {
	seedCmd.Flags().StringVar(&seedDir, "dir", ".", "target directory for the starter files")

	rootCmd.AddCommand(seedCmd)
}
