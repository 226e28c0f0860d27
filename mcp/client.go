// Package mcp provides the client for the Orders MCP server.
//
// The server exposes the order-management tools (get-all-orders,
// get-orders-by-customer-id, create-order) over the MCP streamable-HTTP
// transport. The connection is established lazily on first use.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/ozgurkarahan/simple-order-agent/llms"
)

const protocolVersion = "2024-11-05"

// Config configures the MCP client.
type Config struct {
	// BaseURL is the MCP server endpoint.
	BaseURL string

	// ClientID and ClientSecret are sent as headers on every request, the
	// auth scheme the orders gateway expects.
	ClientID     string
	ClientSecret string

	// Timeout bounds individual MCP requests.
	Timeout time.Duration
}

// Client wraps an MCP connection with lazy initialization.
type Client struct {
	cfg Config

	mu        sync.Mutex
	client    *client.Client
	connected bool
}

// New creates an MCP client. The connection is not opened until the first
// ListTools or CallTool call.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("MCP base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg}, nil
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	headers := map[string]string{}
	if c.cfg.ClientID != "" {
		headers["client_id"] = c.cfg.ClientID
		headers["client_secret"] = c.cfg.ClientSecret
	}

	mcpClient, err := client.NewStreamableHttpClient(
		strings.TrimSuffix(c.cfg.BaseURL, "/")+"/",
		transport.WithHTTPHeaders(headers),
		transport.WithHTTPTimeout(c.cfg.Timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    "orders-analytics-agent",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = protocolVersion

	result, err := mcpClient.Initialize(ctx, initReq)
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	slog.Info("Connected to MCP server",
		"url", c.cfg.BaseURL,
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
	)

	c.client = mcpClient
	c.connected = true
	return nil
}

// ListTools returns the server's tools as provider-neutral definitions.
func (c *Client) ListTools(ctx context.Context) ([]llms.ToolDefinition, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	listResp, err := c.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list MCP tools: %w", err)
	}

	tools := make([]llms.ToolDefinition, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		tools = append(tools, llms.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.InputSchema),
		})
	}
	return tools, nil
}

// CallTool invokes a named tool and returns its text content. Tool-level
// failures (isError results) are returned as errors.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if err := c.connect(ctx); err != nil {
		return "", err
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	slog.Debug("Calling MCP tool", "tool", name, "args", args)

	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := c.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}

	text := collectText(resp.Content)
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("tool %s failed: %s", name, text)
	}
	return text, nil
}

// Close tears down the MCP connection if one was opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	return c.client.Close()
}

func collectText(contents []mcpgo.Content) string {
	var texts []string
	for _, content := range contents {
		if textContent, ok := content.(mcpgo.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func convertSchema(schema mcpgo.ToolInputSchema) map[string]interface{} {
	properties := schema.Properties
	if properties == nil {
		properties = map[string]interface{}{}
	}
	result := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(schema.Required) > 0 {
		result["required"] = schema.Required
	}
	return result
}
