package ollama

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/switchboard-llm/switchboard/llm"
)

// Wire types for the Ollama generate API.

type wireRequest struct {
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	System  string       `json:"system,omitempty"`
	Stream  bool         `json:"stream"`
	Options *wireOptions `json:"options,omitempty"`
}

type wireOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int64    `json:"num_predict,omitempty"`
}

type wireResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// functionSpec is the plain function-call tool format, rendered into the
// system prompt since this backend has no native tool calling.
type functionSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// toPrompt flattens the conversation into a single transcript. The generate
// endpoint takes one prompt string, not a message list.
func toPrompt(msgs []llm.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case llm.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
			}
		case llm.RoleTool:
			status := "result"
			if m.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "Tool %s %s: %s\n", m.ToolName, status, m.Content)
		}
	}
	b.WriteString("Assistant:")
	return b.String()
}

// toolInstructions renders the available tools in the function-call format
// and instructs the model to invoke them through the ACTION marker
// convention.
func toolInstructions(specs []llm.ToolSpec) string {
	if len(specs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You have access to the following tools:\n\n")
	for _, spec := range specs {
		fs := functionSpec{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Schema.AsMap(),
		}
		payload, err := json.Marshal(fs)
		if err != nil {
			continue
		}
		b.Write(payload)
		b.WriteString("\n")
	}
	b.WriteString("\nTo invoke a tool, emit exactly:\n")
	b.WriteString("[ACTION: tool_name] {\"param\": \"value\"} [/ACTION]\n")
	return b.String()
}

func buildSystem(system string, specs []llm.ToolSpec) string {
	instr := toolInstructions(specs)
	switch {
	case system == "":
		return instr
	case instr == "":
		return system
	default:
		return system + "\n\n" + instr
	}
}
