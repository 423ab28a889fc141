package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"forumsign/internal/transport/telegram"
)

const (
	channelTelegram = "telegram"
	channelLog      = "log"
)

// registerCommands binds the owner-only bot commands.
func (a *App) registerCommands(tg *telegram.Adapter) {
	tg.Handle("signin", a.cmdSignIn)
	tg.Handle("status", a.cmdStatus)
	tg.Handle("stats", a.cmdStats)
	tg.Handle("history", a.cmdHistory)
}

// /signin [plugin...]
func (a *App) cmdSignIn(ctx context.Context, args []string) (string, error) {
	return joinResults(a.SignIn(ctx, "telegram", args...)), nil
}

// /status [plugin]
func (a *App) cmdStatus(ctx context.Context, args []string) (string, error) {
	names := args
	if len(names) == 0 {
		names = a.pm.Names()
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		st, err := a.pm.State(ctx, name)
		if err != nil {
			return "", err
		}
		parts = append(parts, FormatState(st))
	}
	return strings.Join(parts, "\n\n"), nil
}

// /stats <plugin> [refresh]
func (a *App) cmdStats(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "usage: /stats <plugin> [refresh]", nil
	}
	refresh := len(args) > 1 && strings.EqualFold(args[1], "refresh")
	st, err := a.pm.Stats(ctx, args[0], refresh)
	if err != nil {
		return "", err
	}
	return FormatStats(args[0], st), nil
}

// /history <plugin> [n]
func (a *App) cmdHistory(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "usage: /history <plugin> [n]", nil
	}
	n := 10
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil || v <= 0 {
			return "", fmt.Errorf("invalid count %q", args[1])
		}
		n = min(v, 50)
	}
	recs, err := a.pm.History(ctx, args[0], n)
	if err != nil {
		return "", err
	}
	return FormatHistory(args[0], recs), nil
}
