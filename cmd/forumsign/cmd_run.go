package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"forumsign/internal/app"
	logx "forumsign/pkg/logx"
)

func newRunCmd(cfgPath func() string) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon (cron triggers, bot commands, status API)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runDaemon(ctx, cfgPath(), stopTimeout)
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
	return cmd
}

func runDaemon(ctx context.Context, cfgPath string, stopTimeout time.Duration) error {
	a, err := app.New(cfgPath, app.Options{Daemon: true})
	if err != nil {
		return err
	}
	log := a.Logger()
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx)
		return fmt.Errorf("start: %w", err)
	}

	notify(log, daemon.SdNotifyReady)
	wdCtx, stopWatchdog := context.WithCancel(ctx)
	go watchdog(wdCtx, log)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	stopWatchdog()
	notify(log, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	fatal := a.Err()
	if err := a.Stop(stopCtx); err != nil && fatal == nil {
		return err
	}
	return fatal
}

// notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func notify(log logx.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

// watchdog pings systemd at half of WatchdogSec.
func watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}
