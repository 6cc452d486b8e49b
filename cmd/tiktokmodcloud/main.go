package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tiktokmodcloud/internal/cli"
	"tiktokmodcloud/internal/config"
)

var (
	newApp       = cli.NewApp
	loadDotEnvFn = config.LoadDotEnv
	exitFn       = cli.Exit
)

func execute(ctx context.Context, args []string) int {
	if err := loadDotEnvFn(".env"); err != nil {
		slog.Warn("Load .env failed", "error", err)
	}
	return newApp().Execute(ctx, args)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	exitFn(code)
}
