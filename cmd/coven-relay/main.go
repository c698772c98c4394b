// ABOUTME: Entry point for coven-relay
// ABOUTME: Bridges a Matrix account to an external agent with per-conversation serialization

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-relay/internal/agent"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/connection"
	"github.com/2389/coven-relay/internal/relay"
	"github.com/2389/coven-relay/internal/store"
	"github.com/2389/coven-relay/internal/wire"
	"github.com/2389/coven-relay/internal/wire/matrix"
)

const banner = `
    ╭───────────────────────────────────────╮
    │                                       │
    │   ┏━╸┏━┓╻ ╻┏━╸┏┓╻   ┏━┓┏━╸╻  ┏━┓╻ ╻   │
    │   ┃  ┃ ┃┃┏┛┣╸ ┃┗┫   ┣┳┛┣╸ ┃  ┣━┫┗┳┛   │
    │   ┗━╸┗━┛┗┛ ┗━╸╹ ╹   ╹┗╸┗━╸┗━╸╹ ╹ ╹    │
    │                                       │
    │              coven-relay              │
    │                                       │
    ╰───────────────────────────────────────╯
`

// getConfigPath returns the path to the relay config file.
// Priority: COVEN_RELAY_CONFIG env var > ./relay.yaml > XDG_CONFIG_HOME/coven/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	if _, err := os.Stat("relay.yaml"); err == nil {
		return "relay.yaml"
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "relay.yaml")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	// Print startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Agent:      %s\n", cfg.Agent.URL)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	if cfg.Database.Secret != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	// Open the credential store with a write-through cache in front.
	durable, err := store.NewSQLiteStore(cfg.Database.Path, cfg.Database.Secret)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	creds := store.NewCachedStore(durable)
	defer creds.Close()

	// Resolve the reconnect policy.
	policy := wire.DefaultReconnectPolicy()
	if cfg.Connection.PolicyPath != "" {
		policy, err = wire.LoadReconnectPolicy(cfg.Connection.PolicyPath)
		if err != nil {
			return fmt.Errorf("loading reconnect policy: %w", err)
		}
	}

	dialer := matrix.NewDialer(matrix.Config{
		Homeserver:   cfg.Matrix.Homeserver,
		Username:     cfg.Matrix.Username,
		Password:     cfg.Matrix.Password,
		AllowedRooms: cfg.Matrix.AllowedRooms,
	}, creds, logger)

	manager := connection.NewManager(dialer, creds, policy, connection.Config{
		Backoff: connection.Backoff{
			Base:   cfg.Connection.BackoffBase,
			Factor: cfg.Connection.BackoffFactor,
			Cap:    cfg.Connection.BackoffCap,
			Jitter: cfg.Connection.BackoffJitter,
		},
		ChunkLimit:       cfg.Relay.ChunkLimit,
		EchoTTL:          cfg.Connection.EchoTTL,
		WatchdogInterval: cfg.Connection.WatchdogInterval,
		StaleThreshold:   cfg.Connection.StaleThreshold,
	}, logger)

	agentClient := agent.NewClient(cfg.Agent.URL)

	loop := relay.New(manager, agentClient, durable, nil, relay.Config{
		Workspace:          cfg.Agent.Workspace,
		TypingIndicator:    cfg.Relay.TypingIndicator,
		MaxAttachmentBytes: cfg.Relay.MaxAttachmentBytes,
	}, logger)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager.OnMessage(func(msg wire.Message) {
		loop.HandleMessage(ctx, msg)
	})

	status, err := manager.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting connection: %w", err)
	}

	if status == connection.StatusAwaitingPairing {
		logger.Info("no stored credentials, pairing with homeserver")
		err := manager.StartPairing(ctx, wire.PairingCallbacks{
			OnQR: func(code string) {
				fmt.Printf("\n    Pairing code: %s\n\n", code)
			},
			OnConnected: func(identity string) {
				logger.Info("paired", "identity", identity)
			},
		})
		if err != nil {
			return fmt.Errorf("pairing: %w", err)
		}
	}

	logger.Info("relay running")
	<-ctx.Done()

	logger.Info("shutting down")
	manager.Stop()
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
