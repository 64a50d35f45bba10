package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nippledipple/gemeinsam-einrichten/internal/config"
	"github.com/nippledipple/gemeinsam-einrichten/internal/presence"
	"github.com/nippledipple/gemeinsam-einrichten/internal/ws"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to config file")
	envFiles := pflag.StringSlice("env-file", nil, "Dotenv files to load (default .env)")
	port := pflag.IntP("port", "p", 0, "Override server port")
	host := pflag.String("host", "", "Override bind address")
	logLevel := pflag.String("log-level", "", "Override log level (debug, info, warn, error)")
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(*envFiles...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to apply environment: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid logging config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := presence.New(presence.Options{
		SweepInterval: cfg.Presence.SweepInterval,
		Timeout:       cfg.Presence.Timeout,
		Logger:        logger.With("component", "presence"),
	})
	go hub.Run(ctx)

	server := ws.NewServer(cfg.Server, hub, logger.With("component", "ws"))
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	if err := ws.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, mux, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
