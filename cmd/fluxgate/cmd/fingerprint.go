package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flux-gate/fluxgate/internal/config"
	"github.com/flux-gate/fluxgate/internal/domain/identity"
)

var fingerprintSecret string

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint [credential]",
	Short: "Show the identifier derived from a credential",
	Long: `Show the opaque identifier fluxgate derives from a client credential.

The identifier is what appears in logs and store keys, so this command is
useful for correlating a known API key or bearer token with observed
traffic. The secret defaults to rate_limit.identity_secret from the
loaded config; override it with --secret.

Example:
  fluxgate fingerprint "my-api-key"
  fluxgate fingerprint --secret staging-secret "my-api-key"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := fingerprintSecret
		if secret == "" {
			cfg, err := config.LoadConfigRaw()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			secret = cfg.RateLimit.IdentitySecret
		}
		fmt.Println(identity.Fingerprint(secret, args[0]))
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().StringVar(&fingerprintSecret, "secret", "", "identity secret (default: rate_limit.identity_secret from config)")
	rootCmd.AddCommand(fingerprintCmd)
}
