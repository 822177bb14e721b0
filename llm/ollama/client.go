package ollama

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
	"github.com/switchboard-llm/switchboard/tools"
)

const defaultBaseURL = "http://localhost:11434"

// Client implements the llm.Provider contract for a local Ollama server.
// The backend has no native tool calling; tool specs are rendered into the
// system prompt and invocations are recovered from the generated text with
// the ACTION marker scanner.
type Client struct {
	baseURL    string
	httpClient *http.Client
	descriptor *llm.Descriptor
	logger     zerolog.Logger
}

// New creates an Ollama provider. If baseURL is empty the default local
// endpoint is used.
func New(baseURL string, models []string, logger zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if len(models) == 0 {
		models = []string{"llama3.1", "qwen2.5", "mistral"}
	}
	pricing := make(map[string]llm.ModelPrice, len(models))
	for _, m := range models {
		pricing[m] = llm.ModelPrice{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		descriptor: &llm.Descriptor{
			ID:           "ollama",
			Name:         "Ollama",
			BaseURL:      baseURL,
			Models:       models,
			DefaultModel: models[0],

			SupportsStreaming:   true,
			SupportsToolCalling: true,
			ToolFormat:          llm.ToolFormatFunctionCall,
			MaxTools:            32,

			// Local inference is free; explicit zero prices keep cost
			// accounting quiet.
			Pricing: pricing,
		},
		logger: logger.With().Str("component", "ollamaClient").Logger(),
	}, nil
}

// Descriptor implements llm.Provider.
func (c *Client) Descriptor() *llm.Descriptor { return c.descriptor }

// ListModels implements llm.Provider.
func (c *Client) ListModels() []string { return c.descriptor.Models }

// DefaultModel implements llm.Provider.
func (c *Client) DefaultModel() string { return c.descriptor.DefaultModel }

// ValidateCredential implements llm.Provider. The local endpoint is
// unauthenticated; any credential, including an empty one, is accepted.
func (c *Client) ValidateCredential(string) error { return nil }

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
		return nil, llm.FromHTTPStatus("ollama", httpResp.StatusCode, string(body))
	}

	var wresp wireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wresp); err != nil {
		return nil, llm.NewProviderError("ollama response decode failed", err)
	}
	if wresp.Error != "" {
		return nil, llm.NewProviderError("ollama error", fmt.Errorf("%s", wresp.Error))
	}

	reason := wresp.DoneReason
	if reason == "" {
		reason = "stop"
	}
	return &llm.Response{
		Text:       wresp.Response,
		ToolCalls:  tools.ParseActions(wresp.Response, c.logger),
		StopReason: reason,
		Usage: llm.Usage{
			InputTokens:  wresp.PromptEvalCount,
			OutputTokens: wresp.EvalCount,
		},
	}, nil
}

// StreamWithTools implements llm.Provider. Tool invocations cannot arrive as
// structured events on this protocol, so the completed text is scanned for
// ACTION markers once the stream finishes and any recovered calls are
// dispatched then.
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
		return nil, llm.FromHTTPStatus("ollama", httpResp.StatusCode, string(body))
	}

	parser := NewParser(c.logger)
	var text strings.Builder
	var usage llm.Usage
	var tokenEstimate int64
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

				case llm.EventUsage:
					usage.Add(ev.Usage)
					if usage.OutputTokens > 0 {
						tokenEstimate = usage.OutputTokens
					}

				case llm.EventFinish:
					stopReason = ev.Reason

				case llm.EventError:
					streamErr = llm.NewProviderError(
						fmt.Sprintf("ollama stream error (%s)", ev.ErrKind),
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
			return nil, llm.NewTransportError("ollama stream read failed", readErr)
		}
	}
	release()

	if streamErr != nil {
		return nil, streamErr
	}

	calls := tools.ParseActions(text.String(), c.logger)
	var toolResults []llm.Message
	for _, call := range calls {
		if cb.OnToolCall != nil {
			result, err := cb.OnToolCall(call)
			if err != nil {
				c.logger.Warn().Err(err).Str("tool", call.Name).Msg("Tool callback returned error")
				continue
			}
			toolResults = append(toolResults, result)
		}
	}

	resp := &llm.Response{
		Text:        text.String(),
		ToolCalls:   calls,
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
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("unknown ollama model: %s", model))
	}
	wreq := &wireRequest{
		Model:  model,
		Prompt: toPrompt(req.Messages),
		System: buildSystem(req.System, req.Tools),
		Stream: stream,
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		wreq.Options = &wireOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}
	return wreq, nil
}

func (c *Client) post(ctx context.Context, wreq *wireRequest) (*http.Response, error) {
	payload, err := json.Marshal(wreq)
	if err != nil {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, llm.NewTransportError("ollama request failed", err)
	}
	return resp, nil
}

func estimateTokens(text string) int64 {
	return int64(len(text)+3) / 4
}

var _ llm.Provider = (*Client)(nil)
