package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// MCPSource exposes the tools of one MCP server as capabilities over a
// stdio transport. Every capability from the same server shares the risk
// level configured for that server.
type MCPSource struct {
	client    *client.Client
	name      string
	command   string
	riskLevel RiskLevel
	logger    zerolog.Logger
}

// NewMCPSource creates a stdio MCP capability source. command may contain
// arguments separated by spaces; args are appended after them.
func NewMCPSource(name, command string, args, env []string, risk RiskLevel, logger zerolog.Logger) (*MCPSource, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required for MCP source %s", name)
	}
	if risk == "" {
		risk = RiskMedium
	}

	parts := strings.Fields(command)
	cmd := parts[0]
	cmdArgs := append(parts[1:], args...)

	mcpClient, err := client.NewStdioMCPClient(cmd, env, cmdArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdio MCP client for %s: %w", name, err)
	}

	return &MCPSource{
		client:    mcpClient,
		name:      name,
		command:   cmd,
		riskLevel: risk,
		logger:    logger.With().Str("component", "mcpSource").Str("server", name).Logger(),
	}, nil
}

// Start initializes the MCP session.
func (s *MCPSource) Start(ctx context.Context) error {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "switchboard",
				Version: "1.0.0",
			},
		},
	}
	if _, err := s.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize MCP server %s: %w", s.name, err)
	}
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP server %s: %w", s.name, err)
	}
	s.logger.Info().Str("command", s.command).Msg("MCP server started")
	return nil
}

// Capabilities lists the server's tools as capabilities ready for
// registration. Tool names are prefixed with the server name so two servers
// exposing the same tool do not collide.
func (s *MCPSource) Capabilities(ctx context.Context) ([]Capability, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools for MCP server %s: %w", s.name, err)
	}
	s.logger.Info().Int("count", len(result.Tools)).Msg("Listed MCP tools")

	return lo.Map(result.Tools, func(tool mcp.Tool, _ int) Capability {
		params := map[string]interface{}{
			"type": tool.InputSchema.Type,
		}
		if tool.InputSchema.Properties != nil {
			params["properties"] = tool.InputSchema.Properties
		}
		if len(tool.InputSchema.Required) > 0 {
			params["required"] = tool.InputSchema.Required
		}

		originalName := tool.Name
		return Capability{
			ID:          s.name + "_" + sanitizeName(originalName),
			Description: tool.Description,
			RiskLevel:   s.riskLevel,
			Parameters:  params,
			Execute: func(ctx context.Context, input map[string]interface{}) (any, error) {
				return s.invoke(ctx, originalName, input)
			},
		}
	}), nil
}

func (s *MCPSource) invoke(ctx context.Context, name string, input map[string]interface{}) (any, error) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: input,
		},
	}
	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke MCP tool %s: %w", name, err)
	}

	var texts []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, textContent.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if result.IsError {
		return nil, fmt.Errorf("MCP tool %s failed: %s", name, text)
	}
	return text, nil
}

// Close shuts down the MCP session.
func (s *MCPSource) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// sanitizeName replaces characters outside the tool-name pattern accepted by
// the providers. MCP tool names may contain dots.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
