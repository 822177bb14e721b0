package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/switchboard-llm/switchboard/llm"
)

const defaultBaseURL = "https://api.openai.com"

// Client implements the llm.Provider contract for the OpenAI chat
// completions API. It owns the HTTP transport and the incremental SSE
// parser.
type Client struct {
	apiKey       string
	baseURL      string
	organization string
	httpClient   *http.Client
	descriptor   *llm.Descriptor
	logger       zerolog.Logger
}

// New creates an OpenAI provider. baseURL and organization are optional.
func New(apiKey, baseURL, organization string, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, llm.NewAuthError("openai api key is required")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		organization: organization,
		httpClient:   &http.Client{},
		descriptor: &llm.Descriptor{
			ID:           "openai",
			Name:         "OpenAI",
			BaseURL:      baseURL,
			Models:       []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"},
			DefaultModel: "gpt-4o",

			SupportsStreaming:   true,
			SupportsToolCalling: true,
			ToolFormat:          llm.ToolFormatOpenAI,
			MaxTools:            128,

			Pricing: map[string]llm.ModelPrice{
				"gpt-4o":       {Input: 2.5e-6, Output: 10e-6},
				"gpt-4o-mini":  {Input: 0.15e-6, Output: 0.6e-6},
				"gpt-4.1":      {Input: 2e-6, Output: 8e-6},
				"gpt-4.1-mini": {Input: 0.4e-6, Output: 1.6e-6},
			},
		},
		logger: logger.With().Str("component", "openaiClient").Logger(),
	}, nil
}

// Descriptor implements llm.Provider.
func (c *Client) Descriptor() *llm.Descriptor { return c.descriptor }

// ListModels implements llm.Provider.
func (c *Client) ListModels() []string { return c.descriptor.Models }

// DefaultModel implements llm.Provider.
func (c *Client) DefaultModel() string { return c.descriptor.DefaultModel }

// ValidateCredential implements llm.Provider. OpenAI keys carry an sk-
// prefix.
func (c *Client) ValidateCredential(credential string) error {
	if credential == "" {
		return llm.NewAuthError("openai credential is empty")
	}
	if !strings.HasPrefix(credential, "sk-") {
		return llm.NewAuthError("openai credential must start with sk-")
	}
	return nil
}

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	return c.CompleteSystem(ctx, model, "", prompt)
}

// CompleteSystem implements llm.Provider.
func (c *Client) CompleteSystem(ctx context.Context, model, system, prompt string) (string, error) {
	resp, err := c.CompleteWithTools(ctx, &llm.Request{
		Model:    model,
		System:   system,
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, prompt)},
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// CompleteWithTools implements llm.Provider.
func (c *Client) CompleteWithTools(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	wreq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.post(ctx, wreq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, llm.FromHTTPStatus("openai", httpResp.StatusCode, string(body))
	}

	var wresp wireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wresp); err != nil {
		return nil, llm.NewProviderError("openai response decode failed", err)
	}
	if len(wresp.Choices) == 0 {
		return nil, llm.NewProviderError("openai response carried no choices", nil)
	}
	return fromWireResponse(&wresp), nil
}

// StreamWithTools implements llm.Provider. This protocol cannot resume text
// generation after a tool result mid-stream, so accumulated tool calls are
// finalized and dispatched once the finish_reason "tool_calls" phase marker
// is observed.
func (c *Client) StreamWithTools(ctx context.Context, req *llm.Request, cb llm.StreamCallbacks) (*llm.Response, error) {
	wreq, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.post(ctx, wreq)
	if err != nil {
		return nil, err
	}

	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { _ = httpResp.Body.Close() }) }
	defer release()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, llm.FromHTTPStatus("openai", httpResp.StatusCode, string(body))
	}

	parser := NewParser(c.logger)
	acc := llm.NewToolCallAccumulator()
	var text strings.Builder
	var usage llm.Usage
	var tokenEstimate int64
	stopReason := ""
	toolPhaseDone := false
	var streamErr error
	done := false

	buf := make([]byte, 4096)
	for !done {
		select {
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		default:
		}

		n, readErr := httpResp.Body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				switch ev.Type {
				case llm.EventText:
					text.WriteString(ev.Text)
					tokenEstimate += estimateTokens(ev.Text)
					if cb.OnChunk != nil {
						cb.OnChunk(ev.Text, tokenEstimate)
					}

				case llm.EventToolCallStart:
					acc.Start(ev.Index, ev.ToolCallID, ev.ToolName)

				case llm.EventToolCallDelta:
					acc.Append(ev.Index, ev.Fragment)

				case llm.EventFinish:
					stopReason = ev.Reason
					if ev.Reason == "tool_calls" {
						toolPhaseDone = true
					}

				case llm.EventUsage:
					usage.Add(ev.Usage)
					if usage.OutputTokens > 0 {
						tokenEstimate = usage.OutputTokens
					}

				case llm.EventError:
					streamErr = llm.NewProviderError(
						fmt.Sprintf("openai stream error (%s)", ev.ErrKind),
						fmt.Errorf("%s", ev.ErrMessage))

				case llm.EventDone:
					done = true
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			release()
			return nil, llm.NewTransportError("openai stream read failed", readErr)
		}
	}
	release()

	if streamErr != nil {
		return nil, streamErr
	}

	// The finish-reason marker means: treat every accumulated-by-index tool
	// call as complete and move to execution.
	var toolResults []llm.Message
	if toolPhaseDone {
		for _, call := range acc.Calls() {
			call.Parameters()
			if cb.OnToolCall != nil {
				result, err := cb.OnToolCall(call)
				if err != nil {
					c.logger.Warn().Err(err).Str("tool", call.Name).Msg("Tool callback returned error")
					continue
				}
				toolResults = append(toolResults, result)
			}
		}
	}

	resp := &llm.Response{
		Text:        text.String(),
		ToolCalls:   acc.Calls(),
		Usage:       usage,
		StopReason:  stopReason,
		ToolResults: toolResults,
	}
	if cb.OnComplete != nil {
		cb.OnComplete(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
	}
	return resp, nil
}

func (c *Client) buildRequest(req *llm.Request, stream bool) (*wireRequest, error) {
	if req == nil {
		return nil, llm.NewInvalidRequestError("request is required")
	}
	model := req.Model
	if model == "" {
		model = c.descriptor.DefaultModel
	}
	if !c.descriptor.KnownModel(model) {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("unknown openai model: %s", model))
	}
	wreq := &wireRequest{
		Model:       model,
		Messages:    toWireMessages(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		wreq.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if len(req.Tools) > 0 {
		wreq.Tools = toWireTools(req.Tools)
		wreq.ToolChoice = "auto"
	}
	return wreq, nil
}

func (c *Client) post(ctx context.Context, wreq *wireRequest) (*http.Response, error) {
	payload, err := json.Marshal(wreq)
	if err != nil {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", c.organization)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, llm.NewTransportError("openai request failed", err)
	}
	return resp, nil
}

func estimateTokens(text string) int64 {
	return int64(len(text)+3) / 4
}

var _ llm.Provider = (*Client)(nil)
