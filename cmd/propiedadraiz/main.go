package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "propiedadraiz",
		Short: "Real-estate listings backend with WhatsApp bots",
	}
	root.PersistentFlags().StringP("config", "c", "", "path to config.toml (default $CONFIG_PATH or ./config.toml)")

	root.AddCommand(serveCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(hashPasswordCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// configPath resolves --config, then CONFIG_PATH.
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return os.Getenv("CONFIG_PATH")
}
