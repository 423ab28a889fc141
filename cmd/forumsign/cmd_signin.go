package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"forumsign/internal/app"
)

const cliActor = "cli"

// withApp loads the config, starts the plugins without the daemon
// services, runs fn and stops everything.
func withApp(ctx context.Context, cfgPath string, fn func(context.Context, *app.App) error) error {
	a, err := app.New(cfgPath, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return fn(ctx, a)
}

func newSignInCmd(cfgPath func() string) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "signin [plugin...]",
		Short: "Sign in now and print the results",
		Long: `Runs a check-in immediately, outside the cron schedule. The result is
recorded in history and notified; failures are not retried.
With --all every enabled plugin runs concurrently.`,
		Example: `  forumsign signin enshansignin
  forumsign signin --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) > 0:
				return errors.New("--all takes no plugin names")
			case !all && len(args) == 0:
				return errors.New("name at least one plugin or pass --all")
			}
			return withApp(cmd.Context(), cfgPath(), func(ctx context.Context, a *app.App) error {
				res := a.SignIn(ctx, cliActor, args...)
				if len(res) == 0 {
					return errors.New("no enabled plugins")
				}
				var failed int
				for _, r := range res {
					fmt.Fprintln(cmd.OutOrStdout(), r.String())
					if r.Err != nil {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d check-ins failed", failed, len(res))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run every enabled plugin")
	return cmd
}

func newHistoryCmd(cfgPath func() string) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history <plugin>",
		Short: "Print recent check-in records, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("invalid -n %d", n)
			}
			return withApp(cmd.Context(), cfgPath(), func(ctx context.Context, a *app.App) error {
				recs, err := a.Plugins().History(ctx, args[0], n)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), app.FormatHistory(args[0], recs))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 10, "number of records")
	return cmd
}

func newStatsCmd(cfgPath func() string) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "stats <plugin>",
		Short: "Print the last stored sign-in statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfgPath(), func(ctx context.Context, a *app.App) error {
				st, err := a.Plugins().Stats(ctx, args[0], refresh)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), app.FormatStats(args[0], st))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch fresh statistics from the forum")
	return cmd
}

func newClearHistoryCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-history <plugin>",
		Short: "Delete a plugin's stored history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfgPath(), func(ctx context.Context, a *app.App) error {
				if err := a.ClearHistory(ctx, cliActor, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: history cleared\n", args[0])
				return nil
			})
		},
	}
}
