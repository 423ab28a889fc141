// Command forumsign runs the forum check-in plugins, either as a daemon
// with cron triggers and a status API or as one-shot commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.yaml"

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "forumsign",
		Short: "Daily check-in for DeepFlood and Enshan",
		Long: `forumsign signs in to forum accounts once a day and keeps a
per-plugin history of the results.

Use "run" to start the daemon, or the one-shot commands to sign in and
inspect history from the shell.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file (yaml or json)")

	cfg := func() string { return cfgPath }
	root.AddCommand(
		newRunCmd(cfg),
		newSignInCmd(cfg),
		newHistoryCmd(cfg),
		newStatsCmd(cfg),
		newClearHistoryCmd(cfg),
		newValidateCmd(cfg),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
