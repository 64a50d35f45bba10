package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/nippledipple/gemeinsam-einrichten/internal/app"
	"github.com/nippledipple/gemeinsam-einrichten/internal/appstate"
	"github.com/nippledipple/gemeinsam-einrichten/internal/config"
	"github.com/nippledipple/gemeinsam-einrichten/internal/connectivity"
	"github.com/nippledipple/gemeinsam-einrichten/internal/realtime"
	"github.com/nippledipple/gemeinsam-einrichten/internal/storage"
	"github.com/nippledipple/gemeinsam-einrichten/internal/ws"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to config file")
	envFiles := pflag.StringSlice("env-file", nil, "Dotenv files to load (default .env)")
	wsURL := pflag.String("url", "", "Realtime WebSocket URL (health URL is derived from it)")
	redisURL := pflag.String("redis", "", "Keep local state in Redis instead of the state dir")
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err == nil {
		err = cfg.ApplyEnv(*envFiles...)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *wsURL != "" {
		cfg.Realtime.URL = *wsURL
		cfg.Connectivity.HealthURL = deriveHealthURL(*wsURL)
	}
	if *redisURL != "" {
		cfg.Storage.RedisURL = *redisURL
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The terminal belongs to the UI, so logs go to a file in the state dir.
	logFile, err := openLogFile(cfg.Storage.Dir)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger, err := cfg.Logging.NewLogger(logFile)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	kv, err := storage.Open(ctx, cfg.Storage.Dir, cfg.Storage.RedisURL)
	if err != nil {
		return err
	}
	if c, ok := kv.(io.Closer); ok {
		defer c.Close()
	}

	rt := realtime.New(realtime.Options{
		URL:                  cfg.Realtime.URL,
		HeartbeatInterval:    cfg.Realtime.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.Realtime.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Realtime.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		DialTimeout:          cfg.Realtime.DialTimeout,
		Logger:               logger.With("component", "realtime"),
	})
	defer rt.Disconnect()

	changes := make(chan struct{}, 1)
	store := appstate.New(appstate.Options{
		KV:             kv,
		Key:            cfg.Storage.Key,
		Realtime:       rt,
		BroadcastDelay: cfg.State.BroadcastDelay,
		Logger:         logger.With("component", "appstate"),
		OnChange: func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		},
	})
	defer store.Flush()
	store.Subscribe(rt)
	if err := store.Load(ctx); err != nil {
		return err
	}

	// Connectivity flips are applied in order by a single goroutine.
	flips := make(chan bool, 8)
	go func() {
		for online := range flips {
			store.SetOnline(ctx, online)
		}
	}()
	prober := connectivity.NewProber(connectivity.ProberOptions{
		HealthURL: cfg.Connectivity.HealthURL,
		Timeout:   cfg.Connectivity.ProbeTimeout,
		Logger:    logger.With("component", "connectivity"),
	})
	stabilizer := connectivity.NewStabilizer(connectivity.StabilizerOptions{
		Probe:     prober.Probe,
		Interval:  cfg.Connectivity.PollInterval,
		Threshold: cfg.Connectivity.StreakThreshold,
		Logger:    logger.With("component", "connectivity"),
		OnChange: func(online bool) {
			select {
			case flips <- online:
			case <-ctx.Done():
			}
		},
	})
	go stabilizer.Run(ctx)

	p := tea.NewProgram(app.New(store, changes), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return os.OpenFile(filepath.Join(dir, "einrichten.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// deriveHealthURL converts ws://host:port/realtime → http://host:port/healthz
func deriveHealthURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080" + ws.HealthPath
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") || u.Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, u.Host, ws.HealthPath)
}
