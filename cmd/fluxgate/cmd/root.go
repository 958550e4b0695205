// Package cmd provides the CLI commands for fluxgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flux-gate/fluxgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fluxgate",
	Short: "fluxgate - traffic control reverse proxy",
	Long: `fluxgate is a reverse proxy that puts token-bucket rate limiting and
idempotency-key response caching in front of an HTTP service, backed by a
shared key/value store.

Quick start:
  1. Create a config file: fluxgate.yaml
  2. Run: fluxgate start

Configuration:
  Config is loaded from fluxgate.yaml in the current directory,
  $HOME/.fluxgate/, or /etc/fluxgate/.

  Environment variables can override config values with the FLUXGATE_ prefix.
  Example: FLUXGATE_SERVER_HTTP_ADDR=:9090

Commands:
  start        Start the proxy server
  hash-token   Generate an Argon2id hash for the rate-limit bypass token
  fingerprint  Show the identifier derived from a credential
  version      Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./fluxgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
