package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/switchboard-llm/switchboard/llm"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "" {
			t.Error("Missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("Missing anthropic-version header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
			flusher.Flush()
		}
	}))
}

func TestClient_StreamWithTools_MidStreamToolDispatch(t *testing.T) {
	server := sseServer(t, []string{
		`data: {"type":"message_start","message":{"role":"assistant","usage":{"input_tokens":10}}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Creating the file. "}}`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"t1","name":"file_create"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":\"a.txt\"}"}}`,
		`data: {"type":"content_block_stop","index":1}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Done."}}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":7}}`,
		`data: {"type":"message_stop"}`,
	})
	defer server.Close()

	c, err := New("sk-ant-test", server.URL, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var chunks []string
	var calls []*llm.ToolCall
	toolBeforeSecondChunk := false

	resp, err := c.StreamWithTools(context.Background(), &llm.Request{
		Model:    "claude-sonnet-4-5",
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "create a.txt")},
	}, llm.StreamCallbacks{
		OnChunk: func(text string, _ int64) {
			chunks = append(chunks, text)
		},
		OnToolCall: func(call *llm.ToolCall) (llm.Message, error) {
			calls = append(calls, call)
			toolBeforeSecondChunk = len(chunks) == 1
			return llm.NewToolResultMessage(call.ID, call.Name, "ok", false), nil
		},
	})
	if err != nil {
		t.Fatalf("StreamWithTools failed: %v", err)
	}

	if !reflect.DeepEqual(chunks, []string{"Creating the file. ", "Done."}) {
		t.Errorf("Unexpected chunks: %v", chunks)
	}
	if len(calls) != 1 || calls[0].Name != "file_create" {
		t.Fatalf("Expected one file_create call, got %v", calls)
	}
	if !toolBeforeSecondChunk {
		t.Error("Tool call should be dispatched mid-stream, before trailing text")
	}
	want := map[string]interface{}{"path": "a.txt"}
	if got := calls[0].Parameters(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected parameters %v, got %v", want, got)
	}

	if resp.Text != "Creating the file. Done." {
		t.Errorf("Unexpected response text: %q", resp.Text)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 7 {
		t.Errorf("Unexpected usage: %+v", resp.Usage)
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("Unexpected stop reason: %q", resp.StopReason)
	}
	if len(resp.ToolResults) != 1 {
		t.Fatalf("Expected one tool result on the response, got %v", resp.ToolResults)
	}
	result := resp.ToolResults[0]
	if result.Role != llm.RoleTool || result.ToolCallID != "t1" || result.Content != "ok" {
		t.Errorf("Tool result not carried back to the caller: %+v", result)
	}
}

func TestClient_StreamWithTools_MapsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	c, err := New("sk-ant-test", server.URL, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = c.StreamWithTools(context.Background(), &llm.Request{Model: "claude-sonnet-4-5"}, llm.StreamCallbacks{})
	if err == nil {
		t.Fatal("Expected error for 429 response")
	}
	if !llm.IsRateLimitError(err) {
		t.Errorf("Expected rate limit classification, got %v", err)
	}
}

func TestClient_CompleteWithTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		if req.Stream {
			t.Error("Non-streaming request should not set stream")
		}
		_ = json.NewEncoder(w).Encode(wireResponse{
			Role: "assistant",
			Content: []respBlock{
				{Type: "text", Text: "hello"},
				{Type: "tool_use", ID: "t9", Name: "demo", Input: json.RawMessage(`{"x":1}`)},
			},
			StopReason: "tool_use",
			Usage:      wireUsage{InputTokens: 5, OutputTokens: 3},
		})
	}))
	defer server.Close()

	c, err := New("sk-ant-test", server.URL, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	resp, err := c.CompleteWithTools(context.Background(), &llm.Request{
		Model:    "claude-sonnet-4-5",
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("CompleteWithTools failed: %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "t9" {
		t.Errorf("Unexpected tool calls: %v", resp.ToolCalls)
	}
}

func TestClient_ValidateCredential(t *testing.T) {
	c, err := New("sk-ant-test", "", zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.ValidateCredential("sk-ant-abc123"); err != nil {
		t.Errorf("Valid credential rejected: %v", err)
	}
	if err := c.ValidateCredential("sk-openai-style"); err == nil {
		t.Error("Expected rejection of non sk-ant- credential")
	}
	if err := c.ValidateCredential(""); err == nil {
		t.Error("Expected rejection of empty credential")
	}
}

func TestClient_RejectsUnknownModel(t *testing.T) {
	c, err := New("sk-ant-test", "", zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = c.CompleteWithTools(context.Background(), &llm.Request{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("Expected unknown-model rejection")
	}
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) || llmErr.Type != llm.ErrorTypeInvalidRequest {
		t.Errorf("Expected invalid_request, got %v", err)
	}
}
