package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"netfixture/internal/config"
	"netfixture/internal/fixtures/tcp"
	"netfixture/internal/journal"
	"netfixture/internal/status"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup structured logging
	logger := cfg.NewLogger().With("fixture", "tcp")
	slog.SetDefault(logger)

	// Ctrl-C or SIGTERM closes the listener and any open session
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	journals := journal.Setup(cfg, logger)
	defer journals.Close()

	if cfg.StatusEnabled() {
		statusAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.StatusPort))
		api := status.NewServer("tcp", journals.Memory, cfg.StatusJWTSecret).WithLogger(logger)
		go func() {
			if err := api.ListenAndServe(ctx, statusAddr); err != nil {
				logger.Error("status_api_error", "error", err.Error())
			}
		}()
	}

	logger.Info("starting_tcp_fixture",
		"addr", cfg.TCPAddr(),
		"backlog", cfg.TCPBacklog,
		"read_buffer", cfg.TCPReadBuffer,
		"trigger_port", cfg.TCPTriggerPort,
	)

	server := tcp.NewServer(cfg.TCPAddr(), tcp.OptionsFromConfig(cfg), journals.Recorder).WithLogger(logger)
	if err := server.ListenAndServe(ctx); err != nil {
		logger.Error("server_error", "error", err.Error())
		journals.Close()
		os.Exit(1)
	}
	logger.Info("server_stopped_gracefully")
}
