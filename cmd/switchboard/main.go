package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/switchboard-llm/switchboard/config"
	"github.com/switchboard-llm/switchboard/llm"
	"github.com/switchboard-llm/switchboard/llm/anthropic"
	"github.com/switchboard-llm/switchboard/llm/ollama"
	"github.com/switchboard-llm/switchboard/llm/openai"
	"github.com/switchboard-llm/switchboard/logger"
	"github.com/switchboard-llm/switchboard/migrations"
	"github.com/switchboard-llm/switchboard/orchestrator"
	"github.com/switchboard-llm/switchboard/tools"
	"github.com/switchboard-llm/switchboard/usage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "switchboard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return err
	}

	log, err := logger.InitWithOptions(cfg.LogFile, cfg.LogFile == "")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := usage.Open(cfg.UsageDB)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := migrations.Run(db, log); err != nil {
		return err
	}
	ledger := usage.NewStore(db)

	capabilities := tools.NewRegistry(log)
	registerBuiltins(capabilities)
	if err := loadMCPServers(ctx, cfg, capabilities, log); err != nil {
		log.Warn().Err(err).Msg("Some MCP servers failed to load")
	}

	providers := llm.NewRegistry(log)
	if err := registerProviders(cfg, providers, log); err != nil {
		return err
	}

	policy := orchestrator.NewPolicy(orchestrator.Mode(cfg.Mode))
	approvals := orchestrator.NewApprovalBroker(
		time.Duration(cfg.ApprovalTimeoutSeconds)*time.Second, cfg.Notify, log)
	coordinator := orchestrator.NewCoordinator(policy, capabilities, approvals, log)

	orch := orchestrator.New(providers, coordinator, ledger, orchestrator.Options{
		MaxRetries:  cfg.Retry.MaxRetries,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		Credentials: cfg.Credentials(),
	}, log)

	return chatLoop(ctx, orch, coordinator, capabilities, providers)
}

func registerProviders(cfg *config.Config, registry *llm.Registry, log zerolog.Logger) error {
	for _, id := range cfg.Providers {
		var (
			p   llm.Provider
			err error
		)
		switch id {
		case "anthropic":
			p, err = anthropic.New(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, log)
		case "openai":
			p, err = openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Organization, log)
		case "ollama":
			p, err = ollama.New(cfg.Ollama.Host, cfg.Ollama.Models, log)
		default:
			return fmt.Errorf("unknown provider in config: %s", id)
		}
		if err != nil {
			log.Warn().Str("provider", id).Err(err).Msg("Skipping provider")
			continue
		}
		if err := registry.Register(p); err != nil {
			return err
		}
	}
	if registry.ActiveID() == "" {
		return fmt.Errorf("no usable provider configured")
	}
	return nil
}

func loadMCPServers(ctx context.Context, cfg *config.Config, registry *tools.Registry, log zerolog.Logger) error {
	var firstErr error
	for name, srv := range cfg.MCPServers {
		source, err := tools.NewMCPSource(name, srv.Command, srv.Args, srv.Env, tools.RiskLevel(srv.Risk), log)
		if err == nil {
			err = source.Start(ctx)
		}
		var caps []tools.Capability
		if err == nil {
			caps, err = source.Capabilities(ctx)
		}
		if err != nil {
			log.Warn().Str("server", name).Err(err).Msg("MCP server unavailable")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, cap := range caps {
			if err := registry.Register(cap); err != nil {
				log.Warn().Str("capability", cap.ID).Err(err).Msg("Failed to register MCP capability")
			}
		}
	}
	return firstErr
}

// registerBuiltins installs a few local capabilities so the demonstration
// surface has something to approve and execute.
func registerBuiltins(registry *tools.Registry) {
	_ = registry.Register(tools.Capability{
		ID:          "current_time",
		Description: "Returns the current local time",
		RiskLevel:   tools.RiskLow,
		Execute: func(ctx context.Context, params map[string]interface{}) (any, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	})
	_ = registry.Register(tools.Capability{
		ID:          "read_file",
		Description: "Reads a text file from disk",
		RiskLevel:   tools.RiskMedium,
		Parameters: map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to read",
				"required":    true,
			},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (any, error) {
			path, _ := params["path"].(string)
			if path == "" {
				return nil, fmt.Errorf("path is required")
			}
			data, err := os.ReadFile(path) //#nosec 304 -- tool input by design
			if err != nil {
				return nil, err
			}
			return string(data), nil
		},
	})
	_ = registry.Register(tools.Capability{
		ID:          "write_file",
		Description: "Writes a text file to disk",
		RiskLevel:   tools.RiskHigh,
		Parameters: map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to write",
				"required":    true,
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "File contents",
				"required":    true,
			},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (any, error) {
			path, _ := params["path"].(string)
			content, _ := params["content"].(string)
			if path == "" {
				return nil, fmt.Errorf("path is required")
			}
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				return nil, err
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	})
}

func chatLoop(ctx context.Context, orch *orchestrator.Orchestrator, coordinator *orchestrator.Coordinator, capabilities *tools.Registry, providers *llm.Registry) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	// Approval requests only arrive while the main loop is blocked inside a
	// turn, so this goroutine can safely take the next stdin line.
	go func() {
		broker := coordinator.Approvals()
		for req := range broker.Requests() {
			fmt.Printf("\n[approval] %s (%s risk) wants to run with %v. Approve? [y/N]: ",
				req.CapabilityName, req.RiskLevel, req.Parameters)
			answer, ok := <-lines
			answer = strings.ToLower(strings.TrimSpace(answer))
			broker.Resolve(orchestrator.ApprovalResolution{
				TurnID:     req.TurnID,
				ToolCallID: req.ToolCallID,
				Approved:   ok && (answer == "y" || answer == "yes"),
			})
		}
	}()

	go func() {
		for ev := range coordinator.Status() {
			fmt.Printf("\n%s %s\n", ev.Icon, ev.Message)
		}
	}()

	var history []llm.Message
	fmt.Printf("switchboard ready (provider: %s). Type a message, /provider <id> to switch, /quit to exit.\n", providers.ActiveID())

	for {
		fmt.Print("> ")
		line, ok := <-lines
		if !ok {
			return nil
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/provider "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/provider "))
			if err := providers.SetActive(id); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Printf("active provider: %s\n", id)
			}
			continue
		case line == "/stats":
			for _, d := range providers.Descriptors() {
				if s, ok := providers.Stats(d.ID); ok {
					fmt.Printf("%s: %d requests, %d in / %d out tokens, $%.4f\n",
						d.ID, s.Requests, s.InputTokens, s.OutputTokens, s.Cost)
				}
			}
			continue
		}

		history = append(history, llm.NewTextMessage(llm.RoleUser, line))
		req := &llm.Request{
			Messages: history,
			Tools:    capabilities.Specs(),
		}

		resp, err := orch.StreamTurn(ctx, orchestrator.NewTurnID(), req, func(text string, _ int64) {
			fmt.Print(text)
		})
		fmt.Println()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			history = history[:len(history)-1]
			continue
		}
		history = append(history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		// Tool results must follow the assistant message that requested them,
		// or the provider rejects the next request.
		history = append(history, resp.ToolResults...)
	}
}
