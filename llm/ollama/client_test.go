package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/switchboard-llm/switchboard/llm"
)

func TestClient_StreamWithTools_ActionFallback(t *testing.T) {
	lines := []string{
		`{"response":"I will check the time. ","done":false}`,
		`{"response":"[ACTION: current_time] {} [/ACTION]","done":false}`,
		`{"response":"","done":true,"done_reason":"stop","prompt_eval_count":30,"eval_count":12}`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		if !strings.Contains(req.System, "[ACTION:") {
			t.Error("Tool instructions should be rendered into the system prompt")
		}
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
	defer server.Close()

	c, err := New(server.URL, []string{"llama3.1"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls []*llm.ToolCall
	resp, err := c.StreamWithTools(context.Background(), &llm.Request{
		Model:    "llama3.1",
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "what time is it")},
		Tools: []llm.ToolSpec{{
			Name:        "current_time",
			Description: "Returns the current time",
			Schema:      llm.ToolSchema{Type: "object"},
		}},
	}, llm.StreamCallbacks{
		OnToolCall: func(call *llm.ToolCall) (llm.Message, error) {
			calls = append(calls, call)
			return llm.NewToolResultMessage(call.ID, call.Name, "12:00", false), nil
		},
	})
	if err != nil {
		t.Fatalf("StreamWithTools failed: %v", err)
	}

	if len(calls) != 1 || calls[0].Name != "current_time" {
		t.Fatalf("Expected one current_time call, got %v", calls)
	}
	if resp.Usage.InputTokens != 30 || resp.Usage.OutputTokens != 12 {
		t.Errorf("Unexpected usage: %+v", resp.Usage)
	}
	if len(resp.ToolResults) != 1 {
		t.Fatalf("Expected one tool result on the response, got %v", resp.ToolResults)
	}
	result := resp.ToolResults[0]
	if result.Role != llm.RoleTool || result.Content != "12:00" || result.ToolName != "current_time" {
		t.Errorf("Tool result not carried back to the caller: %+v", result)
	}
}

func TestClient_ValidateCredential_AcceptsAnything(t *testing.T) {
	c, err := New("", nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.ValidateCredential(""); err != nil {
		t.Errorf("Local endpoint should accept empty credential: %v", err)
	}
}

func TestToPrompt_FlattensConversation(t *testing.T) {
	prompt := toPrompt([]llm.Message{
		llm.NewTextMessage(llm.RoleUser, "hi"),
		{Role: llm.RoleAssistant, Content: "hello"},
		llm.NewToolResultMessage("c1", "clock", "12:00", false),
	})

	for _, want := range []string{"User: hi", "Assistant: hello", "Tool clock result: 12:00"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "Assistant:") {
		t.Errorf("Prompt should end with the assistant cue: %q", prompt)
	}
}

func TestToolInstructions_RendersFunctionCallFormat(t *testing.T) {
	instr := toolInstructions([]llm.ToolSpec{{
		Name:        "demo",
		Description: "a demo tool",
		Schema: llm.ToolSchema{
			Type:       "object",
			Properties: map[string]interface{}{"x": map[string]interface{}{"type": "number"}},
			Required:   []string{"x"},
		},
	}})

	// The spec is rendered as one JSON line between the header and the
	// marker instructions.
	var fs functionSpec
	line := instr[strings.Index(instr, "{"):]
	line = line[:strings.Index(line, "\n")]
	if err := json.Unmarshal([]byte(line), &fs); err != nil {
		t.Fatalf("Rendered spec is not JSON: %v\n%s", err, instr)
	}
	if fs.Name != "demo" || fs.Description != "a demo tool" {
		t.Errorf("Unexpected rendered spec: %+v", fs)
	}
	want := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"x": map[string]interface{}{"type": "number"}},
		"required":   []interface{}{"x"},
	}
	if !reflect.DeepEqual(fs.Parameters, want) {
		t.Errorf("Expected parameters %v, got %v", want, fs.Parameters)
	}
}
