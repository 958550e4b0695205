package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flux-gate/fluxgate/internal/config"
)

var printConfigCmd = &cobra.Command{
	Use:   "print-config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML, after the config file,
environment overrides, and defaults have been applied.

Useful for checking what fluxgate would actually run with:
  FLUXGATE_STORE_BACKEND=redis fluxgate print-config`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.SetDevDefaults()

		// Never print credentials.
		if cfg.RateLimit.IdentitySecret != "" {
			cfg.RateLimit.IdentitySecret = "<redacted>"
		}
		if cfg.Store.Redis.Password != "" {
			cfg.Store.Redis.Password = "<redacted>"
		}

		if file := config.ConfigFileUsed(); file != "" {
			fmt.Fprintf(os.Stderr, "# config file: %s\n", file)
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	rootCmd.AddCommand(printConfigCmd)
}
