package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/chuc13-collab1/agileproject-sub000/internal/app"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/config"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
)

// set via ldflags during release builds
var version = "dev"

func main() {
	_ = godotenv.Load(".env")

	flags, err := config.ParseConfigFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse flags: %v\n", err)
		os.Exit(2)
	}
	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	config.SetConfig(eff.Config)

	logger.Init(eff.Config.Logging.Level)
	defer logger.Sync()

	a, err := app.New(eff, version)
	if err != nil {
		logger.Error("startup_failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("server_failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}
