package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marko911/token-bridge/internal/config"
	"github.com/marko911/token-bridge/internal/connector"
	"github.com/marko911/token-bridge/internal/gateway"
	"github.com/marko911/token-bridge/internal/stream"
	"github.com/marko911/token-bridge/internal/tokens"
)

func main() {
	configPath := flag.String("config", envOrDefault("BRIDGE_CONFIG", ""), "Path to YAML config file")
	listenAddr := flag.String("listen", envOrDefault("BRIDGE_LISTEN", ""), "HTTP listen address (overrides config)")
	connectorURL := flag.String("connector-url", envOrDefault("CONNECTOR_URL", ""), "Connector submission endpoint (overrides config)")
	connectorWSURL := flag.String("connector-ws-url", envOrDefault("CONNECTOR_WS_URL", ""), "Connector event stream endpoint (overrides config)")
	contractAddress := flag.String("contract", envOrDefault("CONTRACT_ADDRESS", ""), "Default token contract address (overrides config)")
	logLevel := flag.String("log-level", envOrDefault("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *connectorURL != "" {
		cfg.Connector.URL = *connectorURL
	}
	if *connectorWSURL != "" {
		cfg.Connector.WSURL = *connectorWSURL
	}
	if *contractAddress != "" {
		cfg.Gateway.ContractAddress = *contractAddress
	}
	if cfg.Connector.URL == "" || cfg.Connector.WSURL == "" {
		logger.Error("connector URL and websocket URL are required")
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	condition, err := cfg.Connector.Retry.CompileCondition()
	if err != nil {
		return err
	}

	connCfg := connector.DefaultConfig()
	connCfg.URL = cfg.Connector.URL
	connCfg.Timeout = cfg.Connector.Timeout
	connCfg.Retry.InitialDelay = cfg.Connector.Retry.InitialDelay
	connCfg.Retry.Factor = cfg.Connector.Retry.Factor
	connCfg.Retry.MaxDelay = cfg.Connector.Retry.MaxDelay
	connCfg.Retry.MaxAttempts = cfg.Connector.Retry.MaxAttempts
	if condition != nil {
		connCfg.Retry.Condition = condition
	}
	conn := connector.New(connCfg, logger)

	service := tokens.NewService(tokens.ServiceConfig{
		ContractAddress: cfg.Gateway.ContractAddress,
		ContractInfoURL: cfg.Gateway.ContractInfoURL,
	}, conn, logger)

	streamCfg := stream.DefaultConfig()
	streamCfg.URL = cfg.Connector.WSURL
	streamCfg.ReconnectDelay = cfg.Stream.ReconnectDelay
	streamCfg.PingInterval = cfg.Stream.PingInterval
	streamCfg.PingTimeout = cfg.Stream.PingTimeout

	gw := gateway.New(
		gateway.Config{SubscriptionPrefix: cfg.Gateway.SubscriptionPrefix},
		conn,
		gateway.StreamFactory(streamCfg, logger),
		[]gateway.EventListener{tokens.NewListener(logger)},
		nil,
		logger,
	)
	defer gw.Close()

	server := NewServer(gw, service, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("starting token bridge", "addr", cfg.Server.ListenAddr, "connector", cfg.Connector.URL)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
