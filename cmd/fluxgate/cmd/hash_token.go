package cmd

import (
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Generate an Argon2id hash for the rate-limit bypass token",
	Long: `Generate an Argon2id hash of a bypass token for use in config.

The output can be used directly as the rate_limit.bypass_token_hash field.
Requests carrying the plaintext token in the X-RateLimit-Bypass header
then skip rate limiting.

Example:
  fluxgate hash-token "my-bypass-token"

Security note: The token will appear in shell history.
Consider clearing history after use or using an environment variable:
  fluxgate hash-token "$BYPASS_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := argon2id.CreateHash(args[0], argon2id.DefaultParams)
		if err != nil {
			return fmt.Errorf("failed to hash token: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}
