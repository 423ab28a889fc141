package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"forumsign/internal/app"
)

func newValidateCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the config file, plugin blocks included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cfgPath(), app.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(cmd.Context()) }()
			if err := a.Validate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfgPath())
			return nil
		},
	}
}
