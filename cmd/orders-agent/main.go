// Command orders-agent serves the orders analytics agent: a direct chat
// API plus the A2A task protocol, backed by Anthropic and the orders MCP
// server.
//
// Usage:
//
//	orders-agent serve
//	orders-agent serve --config config.yaml --port 9000
//	orders-agent version
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/ozgurkarahan/simple-order-agent/a2a"
	"github.com/ozgurkarahan/simple-order-agent/agent"
	"github.com/ozgurkarahan/simple-order-agent/config"
	"github.com/ozgurkarahan/simple-order-agent/llms"
	"github.com/ozgurkarahan/simple-order-agent/logger"
	"github.com/ozgurkarahan/simple-order-agent/mcp"
	"github.com/ozgurkarahan/simple-order-agent/observability"
	"github.com/ozgurkarahan/simple-order-agent/server"
	"github.com/ozgurkarahan/simple-order-agent/store"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the agent server."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("orders-agent version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host string `help:"Host to bind (overrides config)."`
	Port int    `help:"Port to listen on (overrides config)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	settings, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if c.Host != "" {
		settings.Host = c.Host
	}
	if c.Port != 0 {
		settings.Port = c.Port
	}

	slog.Info("Starting Orders Analytics Agent...")

	metrics := observability.NewMetrics()

	mcpClient, err := mcp.New(mcp.Config{
		BaseURL:      settings.MCPBaseURL,
		ClientID:     settings.MCPClientID,
		ClientSecret: settings.MCPClientSecret,
	})
	if err != nil {
		return fmt.Errorf("creating MCP client: %w", err)
	}
	defer func() {
		if err := mcpClient.Close(); err != nil {
			slog.Warn("MCP client close failed", "error", err)
		}
	}()

	provider, err := llms.NewAnthropicProvider(llms.AnthropicConfig{
		APIKey:      settings.AnthropicAPIKey,
		Model:       settings.Model,
		MaxTokens:   settings.MaxTokens,
		Temperature: settings.Temperature,
	})
	if err != nil {
		return fmt.Errorf("creating Anthropic provider: %w", err)
	}
	defer provider.Close()

	ordersAgent := agent.New(provider, mcpClient,
		agent.WithMaxTurns(settings.MaxTurns),
		agent.WithMetrics(metrics),
	)

	manager := a2a.NewManager(ordersAgent, a2a.WithMetrics(metrics))

	conversations, err := store.NewConversationStore(filepath.Join(settings.DataDir, "conversations.json"))
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}

	configs, err := store.NewConfigStore(filepath.Join(settings.DataDir, "config.json"), store.AppConfig{
		A2A: store.A2AConfig{
			URL:     "http://" + settings.Address(),
			Headers: map[string]string{},
			IsLocal: true,
		},
		MCP: store.MCPServerConfig{
			Name:     "orders",
			URL:      settings.MCPBaseURL,
			Headers:  mcpHeaders(settings),
			IsActive: true,
		},
	})
	if err != nil {
		return fmt.Errorf("opening config store: %w", err)
	}

	go func() {
		err := configs.Watch(ctx, func(cfg store.AppConfig) {
			slog.Info("Runtime config changed", "mcpURL", cfg.MCP.URL, "mcpName", cfg.MCP.Name)
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("Config watch error", "error", err)
		}
	}()

	srv := server.New(settings, manager, ordersAgent, conversations, configs, metrics)

	fmt.Printf("\nOrders Analytics Agent ready!\n")
	fmt.Printf("   Health:      http://%s/health\n", settings.Address())
	fmt.Printf("   Agent Card:  http://%s/.well-known/agent.json\n", settings.Address())
	fmt.Printf("   Chat API:    http://%s/api/chat\n", settings.Address())
	fmt.Printf("   A2A Tasks:   http://%s/a2a/tasks\n\n", settings.Address())

	return srv.Start(ctx)
}

func mcpHeaders(settings *config.Settings) map[string]string {
	if settings.MCPClientID == "" {
		return map[string]string{}
	}
	return map[string]string{
		"client_id":     settings.MCPClientID,
		"client_secret": settings.MCPClientSecret,
	}
}

func setupLogging(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	var output io.Writer = os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closer, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closer
	}

	logger.Init(level, cli.LogFormat, output)
	return cleanup, nil
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("orders-agent"),
		kong.Description("AI-powered order analytics with MCP and A2A support."),
		kong.UsageOnError(),
	)

	cleanup, err := setupLogging(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
