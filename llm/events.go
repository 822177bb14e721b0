package llm

// EventType discriminates the StreamEvent union.
type EventType string

const (
	// EventText carries an incremental text delta.
	EventText EventType = "text"
	// EventToolCallStart announces a new tool call with its id and name.
	EventToolCallStart EventType = "tool_call_start"
	// EventToolCallDelta carries a raw argument fragment for the tool call
	// at Index. Fragments are concatenated, never replaced.
	EventToolCallDelta EventType = "tool_call_delta"
	// EventToolCallStop signals that the tool call at Index has received all
	// of its argument fragments and may be finalized.
	EventToolCallStop EventType = "tool_call_stop"
	// EventRole reports the assistant role assigned to the response.
	EventRole EventType = "role"
	// EventFinish reports the backend's finish reason for the current phase.
	EventFinish EventType = "finish"
	// EventUsage carries incremental token accounting.
	EventUsage EventType = "usage"
	// EventError reports an in-band error object sent by the backend.
	EventError EventType = "error"
	// EventDone marks the end of the stream.
	EventDone EventType = "done"
)

// StreamEvent is the tagged union produced by a provider's wire parser from
// one raw line. Many lines yield no event. Events are constructed only inside
// a protocol family's parser and never inspected by field-sniffing elsewhere.
type StreamEvent struct {
	Type EventType

	// Text is set for EventText.
	Text string

	// ToolCallID and ToolName are set for EventToolCallStart. The id may be
	// empty when the backend has not resolved it yet.
	ToolCallID string
	ToolName   string

	// Index keys tool-call events. Anthropic-style streams key fragments by
	// content-block index, OpenAI-style streams by the tool_calls entry index.
	Index int

	// Fragment is a raw argument substring for EventToolCallDelta.
	Fragment string

	// Role is set for EventRole.
	Role string

	// Reason is set for EventFinish.
	Reason string

	// Usage is set for EventUsage.
	Usage Usage

	// ErrKind and ErrMessage are set for EventError.
	ErrKind    string
	ErrMessage string
}
