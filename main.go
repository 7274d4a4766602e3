package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"remote-exec-mcp/internal/blob"
	"remote-exec-mcp/internal/config"
	"remote-exec-mcp/internal/file"
	"remote-exec-mcp/internal/providers"
	"remote-exec-mcp/internal/registry"
	"remote-exec-mcp/internal/security"
	"remote-exec-mcp/internal/server"
	"remote-exec-mcp/internal/session"
	"remote-exec-mcp/internal/transfer"
)

var (
	flagTransport string
	flagPort      int
	flagLogLevel  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "remote-exec-mcp",
		Short: "MCP server for shell execution and file transfer on a managed remote host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVar(&flagTransport, "transport", "stdio", "Transport to serve on: stdio or http")
	rootCmd.Flags().IntVar(&flagPort, "port", 8081, "Port for the http transport")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	log := newLogger(flagLogLevel)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	gate := security.NewGate(security.Config{
		RisksAccepted: cfg.Security.AcceptRisks,
		MaxCommandLen: cfg.Security.MaxCommandLen,
		MaxTimeout:    cfg.Security.MaxTimeout,
	})

	sessions := session.NewManager(cfg.Host, gate, log)
	defer sessions.Close()

	files := file.NewOperations(sessions)

	var bridge *transfer.Bridge
	if cfg.IntermediaryEnabled() {
		store, err := blob.NewS3Store(cfg.Intermediary)
		if err != nil {
			return err
		}
		bridge = transfer.NewBridge(gate, files, store, transfer.Config{
			TTL:         time.Duration(cfg.Intermediary.TTLSeconds) * time.Second,
			MaxFileSize: cfg.Security.MaxFileSize,
		}, log)
	}

	var containers *providers.ContainerService
	if cfg.ContainerTools {
		containers = providers.NewContainerService(sessions, files, gate)
	}

	exposed, err := registry.Compose(providers.CoreTools(), providers.Table(cfg))
	if err != nil {
		return err
	}

	mcpServer := server.Setup(server.Deps{
		Config:     cfg,
		Gate:       gate,
		Sessions:   sessions,
		Files:      files,
		Bridge:     bridge,
		Containers: containers,
		Exposed:    exposed,
		Log:        log,
	})

	switch flagTransport {
	case "http":
		return server.StartHTTP(mcpServer, flagPort, log)
	case "stdio":
		return server.StartStdio(mcpServer, log)
	default:
		return fmt.Errorf("unknown transport %q: use stdio or http", flagTransport)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	// Logs go to stderr; the stdio transport owns stdout.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
