package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay voice assistant tool calls to browser sessions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var configPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			return runServe(configPath)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default $CONFIG_PATH or ./config.toml)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s (%s)\n", version, commit)
		},
	}

	root.AddCommand(serve, versionCmd)
	return root
}
