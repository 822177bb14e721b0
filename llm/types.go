package llm

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message represents a single message in a conversation.
// The ordered message sequence is owned by the caller and passed by value
// into each request.
type Message struct {
	Role    MessageRole
	Content string

	// ToolCalls is set on assistant messages that requested tool invocations.
	ToolCalls []*ToolCall

	// ToolCallID references the tool call a RoleTool message answers.
	ToolCallID string
	// ToolName is the name of the tool that produced a RoleTool message.
	ToolName string
	// IsError marks a RoleTool message whose content is an error payload.
	IsError bool
}

// NewTextMessage creates a message with plain text content.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{Role: role, Content: text}
}

// NewToolResultMessage creates a tool-role message carrying the result of a
// tool invocation, for provider follow-up where the protocol requires it.
func NewToolResultMessage(callID, toolName, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
		IsError:    isError,
	}
}

// ToolSpec represents a tool definition that can be provided to an LLM.
// It is derived deterministically from a capability descriptor and
// regenerated per request, since tool lists can vary by mode.
type ToolSpec struct {
	Name        string
	Description string
	Schema      ToolSchema
}

// ToolSchema represents the JSON schema for a tool's input parameters.
type ToolSchema struct {
	Type        string
	Properties  map[string]interface{}
	Required    []string
	ExtraFields map[string]interface{}
}

// AsMap renders the schema as a plain JSON-schema object.
func (s ToolSchema) AsMap() map[string]interface{} {
	schema := map[string]interface{}{
		"type":       s.Type,
		"properties": s.Properties,
	}
	if s.Properties == nil {
		schema["properties"] = map[string]interface{}{}
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	for k, v := range s.ExtraFields {
		schema[k] = v
	}
	return schema
}

// Request represents a complete LLM API request.
type Request struct {
	Model       string
	Messages    []Message
	System      string
	Tools       []ToolSpec
	MaxTokens   int64
	Temperature *float64
}

// Response represents a complete (non-streaming) LLM API response.
type Response struct {
	Text       string
	ToolCalls  []*ToolCall
	Usage      Usage
	StopReason string

	// ToolResults holds the tool-role messages produced by the OnToolCall
	// callback during a streaming request, in dispatch order. The caller
	// appends them to the conversation after the assistant message so the
	// next request carries every tool_use with its matching result.
	ToolResults []Message
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates usage counts from another sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
