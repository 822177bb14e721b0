package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	defaultMaxTokens = 4096
)

// Client implements the llm.Provider contract for the Anthropic messages
// API. It owns the HTTP transport and the incremental SSE parser.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	descriptor *llm.Descriptor
	logger     zerolog.Logger
}

// New creates an Anthropic provider with the given API key. If baseURL is
// empty the public endpoint is used.
func New(apiKey, baseURL string, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, llm.NewAuthError("anthropic api key is required")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		descriptor: &llm.Descriptor{
			ID:           "anthropic",
			Name:         "Anthropic",
			BaseURL:      baseURL,
			Models:       []string{"claude-sonnet-4-5", "claude-haiku-4-5", "claude-opus-4-1"},
			DefaultModel: "claude-sonnet-4-5",

			SupportsStreaming:   true,
			SupportsToolCalling: true,
			ToolFormat:          llm.ToolFormatAnthropic,
			MaxTools:            128,

			Pricing: map[string]llm.ModelPrice{
				"claude-sonnet-4-5": {Input: 3e-6, Output: 15e-6},
				"claude-haiku-4-5":  {Input: 1e-6, Output: 5e-6},
				"claude-opus-4-1":   {Input: 15e-6, Output: 75e-6},
			},
		},
		logger: logger.With().Str("component", "anthropicClient").Logger(),
	}, nil
}

// Descriptor implements llm.Provider.
func (c *Client) Descriptor() *llm.Descriptor { return c.descriptor }

// ListModels implements llm.Provider.
func (c *Client) ListModels() []string { return c.descriptor.Models }

// DefaultModel implements llm.Provider.
func (c *Client) DefaultModel() string { return c.descriptor.DefaultModel }

// ValidateCredential implements llm.Provider. Anthropic keys carry an
// sk-ant- prefix.
func (c *Client) ValidateCredential(credential string) error {
	if credential == "" {
		return llm.NewAuthError("anthropic credential is empty")
	}
	if !strings.HasPrefix(credential, "sk-ant-") {
		return llm.NewAuthError("anthropic credential must start with sk-ant-")
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
		return nil, llm.FromHTTPStatus("anthropic", httpResp.StatusCode, string(body))
	}

	var wresp wireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wresp); err != nil {
		return nil, llm.NewProviderError("anthropic response decode failed", err)
	}
	if wresp.Error != nil {
		return nil, llm.NewProviderError(
			fmt.Sprintf("anthropic error (%s)", wresp.Error.Type),
			fmt.Errorf("%s", wresp.Error.Message))
	}
	return fromWireResponse(&wresp), nil
}

// StreamWithTools implements llm.Provider. Tool calls are finalized and
// dispatched mid-stream at each content_block_stop, since this protocol
// interleaves tool blocks with ongoing text generation.
func (c *Client) StreamWithTools(ctx context.Context, req *llm.Request, cb llm.StreamCallbacks) (*llm.Response, error) {
	wreq, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.post(ctx, wreq)
	if err != nil {
		return nil, err
	}

	// Release the transport exactly once, on every exit path.
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { _ = httpResp.Body.Close() }) }
	defer release()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, llm.FromHTTPStatus("anthropic", httpResp.StatusCode, string(body))
	}

	parser := NewParser(c.logger)
	acc := llm.NewToolCallAccumulator()
	var text strings.Builder
	var usage llm.Usage
	var tokenEstimate int64
	var toolResults []llm.Message
	stopReason := ""
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

				case llm.EventToolCallStop:
					call, ok := acc.Get(ev.Index)
					if !ok {
						continue
					}
					call.Parameters()
					if cb.OnToolCall != nil {
						result, err := cb.OnToolCall(call)
						if err != nil {
							c.logger.Warn().Err(err).Str("tool", call.Name).Msg("Tool callback returned error")
							continue
						}
						toolResults = append(toolResults, result)
					}

				case llm.EventUsage:
					usage.Add(ev.Usage)
					if usage.OutputTokens > 0 {
						tokenEstimate = usage.OutputTokens
					}

				case llm.EventFinish:
					stopReason = ev.Reason

				case llm.EventError:
					streamErr = llm.NewProviderError(
						fmt.Sprintf("anthropic stream error (%s)", ev.ErrKind),
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
			return nil, llm.NewTransportError("anthropic stream read failed", readErr)
		}
	}
	release()

	if streamErr != nil {
		return nil, streamErr
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
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("unknown anthropic model: %s", model))
	}
	msgs, err := toWireMessages(req.Messages)
	if err != nil {
		return nil, llm.NewInvalidRequestError(err.Error())
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return &wireRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    msgs,
		Tools:       toWireTools(req.Tools),
		Stream:      stream,
		Temperature: req.Temperature,
	}, nil
}

func (c *Client) post(ctx context.Context, wreq *wireRequest) (*http.Response, error) {
	payload, err := json.Marshal(wreq)
	if err != nil {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, llm.NewTransportError("anthropic request failed", err)
	}
	return resp, nil
}

// estimateTokens approximates the token count of a text fragment. Close
// enough for the running estimate surfaced through OnChunk; the exact count
// arrives with the usage events.
func estimateTokens(text string) int64 {
	return int64(len(text)+3) / 4
}

var _ llm.Provider = (*Client)(nil)
