package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ToolCall is a backend's request to invoke a named capability. While a
// stream is in flight the argument buffer accumulates raw fragments; the
// parameters are materialized at most once, when the provider signals the
// tool-call phase is complete.
type ToolCall struct {
	ID    string
	Name  string
	Index int

	buf    strings.Builder
	params map[string]interface{}
	parsed bool
}

// NewToolCall creates a finalized tool call from a complete argument string.
// Used when converting non-streaming responses and caller-owned history.
func NewToolCall(id, name, arguments string) *ToolCall {
	c := &ToolCall{ID: id, Name: name}
	c.buf.WriteString(arguments)
	return c
}

// Append adds a raw argument fragment to the accumulating buffer.
// Appending after the call has been finalized is ignored.
func (c *ToolCall) Append(fragment string) {
	if c.parsed {
		return
	}
	c.buf.WriteString(fragment)
}

// Arguments returns the raw accumulated argument text.
func (c *ToolCall) Arguments() string {
	return c.buf.String()
}

// Parameters finalizes the call and returns the parsed parameters. The buffer
// is JSON-parsed exactly once; a parse failure or an empty buffer yields an
// empty parameter object rather than an error, so a malformed tool call never
// aborts the turn.
func (c *ToolCall) Parameters() map[string]interface{} {
	if !c.parsed {
		c.parsed = true
		raw := c.buf.String()
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &c.params); err != nil {
				c.params = nil
			}
		}
		if c.params == nil {
			c.params = make(map[string]interface{})
		}
	}
	return c.params
}

// Finalized reports whether Parameters has been materialized.
func (c *ToolCall) Finalized() bool {
	return c.parsed
}

// ToolCallAccumulator tracks the tool calls of one stream, keyed by the
// provider-assigned index. Exactly one ToolCall exists per index.
type ToolCallAccumulator struct {
	calls map[int]*ToolCall
	order []int
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*ToolCall)}
}

// Start registers a tool call at the given index. If the backend did not
// assign an id, one is synthesized. Starting an index twice updates the id
// and name of the existing call instead of creating a second one.
func (a *ToolCallAccumulator) Start(index int, id, name string) *ToolCall {
	if c, ok := a.calls[index]; ok {
		if id != "" {
			c.ID = id
		}
		if name != "" {
			c.Name = name
		}
		return c
	}
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	c := &ToolCall{ID: id, Name: name, Index: index}
	a.calls[index] = c
	a.order = append(a.order, index)
	return c
}

// Append routes an argument fragment to the call at index, creating the call
// if a fragment arrives before its start event was resolved.
func (a *ToolCallAccumulator) Append(index int, fragment string) {
	c, ok := a.calls[index]
	if !ok {
		c = a.Start(index, "", "")
	}
	c.Append(fragment)
}

// Get returns the call at index, if any.
func (a *ToolCallAccumulator) Get(index int) (*ToolCall, bool) {
	c, ok := a.calls[index]
	return c, ok
}

// Calls returns all accumulated calls in arrival order.
func (a *ToolCallAccumulator) Calls() []*ToolCall {
	out := make([]*ToolCall, 0, len(a.calls))
	for _, idx := range a.order {
		out = append(out, a.calls[idx])
	}
	return out
}

// Len returns the number of accumulated calls.
func (a *ToolCallAccumulator) Len() int {
	return len(a.calls)
}

// String implements fmt.Stringer for log output.
func (c *ToolCall) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, c.ID)
}
