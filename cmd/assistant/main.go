package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bttk/calendar-assistant/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s [flags] [subcommand]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nSubcommands:\n")
		fmt.Fprintf(os.Stderr, "  serve\tRun the HTTP API (default)\n")
		fmt.Fprintf(os.Stderr, "  migrate\tApply database migrations\n")
		fmt.Fprintf(os.Stderr, "  run-due\tRun every due task once and exit\n")
		fmt.Fprintf(os.Stderr, "  mcp -user ID\tServe a user's tools over stdio\n")
		fmt.Fprintf(os.Stderr, "  auth -user ID\tConnect a user's Google account from the browser\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}

	envFile := flag.String("env", "", "path to a .env file (default: ./.env if present)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg.Log)
	ctx = logger.WithContext(ctx)

	cmd, args := "serve", []string{}
	if flag.NArg() > 0 {
		cmd, args = flag.Arg(0), flag.Args()[1:]
	}

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "migrate":
		err = runMigrate(ctx, cfg, logger)
	case "run-due":
		err = runDue(ctx, cfg, logger)
	case "mcp":
		err = runMCP(ctx, cfg, logger, args)
	case "auth":
		err = runAuth(ctx, cfg, logger, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("command failed")
	}
}

// setupLogger writes JSON to stderr, or a console format when
// LOG_FORMAT=console. stdout is reserved for the mcp subcommand.
func setupLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	logger = logger.With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
