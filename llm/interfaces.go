package llm

import "context"

// StreamCallbacks carries the three callbacks a streaming request accepts.
type StreamCallbacks struct {
	// OnChunk is invoked for each text delta, with a running estimate of the
	// output tokens produced so far.
	OnChunk func(text string, outputTokens int64)

	// OnToolCall is invoked for each finalized tool call and is awaited. The
	// provider decides, per its protocol's constraints, whether the call
	// suspends text streaming or runs after the streaming phase completes.
	// The returned message is collected into Response.ToolResults so the
	// caller can append it to the conversation for the follow-up round.
	OnToolCall func(call *ToolCall) (Message, error)

	// OnComplete is invoked once with the final assistant message.
	OnComplete func(final Message)
}

// Provider is the uniform contract every backend integration exposes.
// A provider that lacks a capability fails fast with a descriptive error
// rather than silently degrading. Validation failures (bad credential
// format, unknown model) are synchronous and never retried.
type Provider interface {
	// Descriptor returns the immutable description of this backend,
	// including capability flags and the per-model price table.
	Descriptor() *Descriptor

	// ListModels returns the backend's model ids in preference order.
	ListModels() []string

	// DefaultModel returns the model used when a request does not name one.
	DefaultModel() string

	// ValidateCredential checks the credential against the backend's
	// expected format without making a network call.
	ValidateCredential(credential string) error

	// Complete sends a prompt-only request and returns the full text.
	Complete(ctx context.Context, model, prompt string) (string, error)

	// CompleteSystem sends a system-prompted request.
	CompleteSystem(ctx context.Context, model, system, prompt string) (string, error)

	// CompleteWithTools sends a system-prompted request with tools and
	// returns the complete response, including any tool invocations.
	CompleteWithTools(ctx context.Context, req *Request) (*Response, error)

	// StreamWithTools sends a system-prompted streaming request with tools.
	// Events are delivered through the callbacks in transport order.
	// Cancellation is cooperative via ctx; the read loop checks it before
	// every read and releases the transport exactly once.
	StreamWithTools(ctx context.Context, req *Request, cb StreamCallbacks) (*Response, error)
}
