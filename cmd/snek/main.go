// Command snek plays, rolls out and archives single-player Snake episodes.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	for _, envFile := range []string{
		".env",
		"../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:          "snek",
		Short:        "Single-player Snake environment: play it, roll out policies, archive and inspect episodes.",
		SilenceUsage: true,
	}
	opts.bind(rootCmd)

	rootCmd.AddCommand(
		newPlayCmd(opts),
		newRolloutCmd(opts),
		newSelfplayCmd(opts),
		newServeCmd(opts),
		newStatsCmd(opts),
	)
	return rootCmd
}
