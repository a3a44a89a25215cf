package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/forgepackages/forge/internal/cli"
	"github.com/forgepackages/forge/pkg/config"
	"github.com/forgepackages/forge/pkg/logger"
)

var buildVersion = "dev"

func main() {
	level := logger.ParseLevel(config.GetString("FORGE_LOG_LEVEL", "warn"), slog.LevelWarn)
	log := logger.New("forge", level, config.GetString("FORGE_LOG_FORMAT", "text"))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(log, buildVersion)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	code := cli.Run(ctx, app, os.Args[1:])
	stop()
	os.Exit(code)
}
