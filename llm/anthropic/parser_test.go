package anthropic

import (
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/switchboard-llm/switchboard/llm"
)

const toolUseStream = `event: message_start
data: {"type":"message_start","message":{"role":"assistant","usage":{"input_tokens":12}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"file_create"}}

data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}

data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"a.txt\"}"}}

data: {"type":"content_block_stop","index":0}

data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}

data: {"type":"message_stop"}
`

func feedAll(t *testing.T, p *Parser, input string) []llm.StreamEvent {
	t.Helper()
	return p.Feed([]byte(input))
}

func TestParser_ToolUseLifecycle(t *testing.T) {
	p := NewParser(zerolog.Nop())
	events := feedAll(t, p, toolUseStream)

	acc := llm.NewToolCallAccumulator()
	var finalized *llm.ToolCall
	for _, ev := range events {
		switch ev.Type {
		case llm.EventToolCallStart:
			acc.Start(ev.Index, ev.ToolCallID, ev.ToolName)
		case llm.EventToolCallDelta:
			acc.Append(ev.Index, ev.Fragment)
		case llm.EventToolCallStop:
			finalized, _ = acc.Get(ev.Index)
		}
	}

	if finalized == nil {
		t.Fatal("No tool call finalized")
	}
	if finalized.ID != "t1" || finalized.Name != "file_create" {
		t.Errorf("Unexpected call identity: %s %s", finalized.ID, finalized.Name)
	}
	want := map[string]interface{}{"path": "a.txt"}
	if got := finalized.Parameters(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected parameters %v, got %v", want, got)
	}
}

func TestParser_EventSequence(t *testing.T) {
	p := NewParser(zerolog.Nop())
	events := feedAll(t, p, toolUseStream)

	var types []llm.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []llm.EventType{
		llm.EventRole, llm.EventUsage,
		llm.EventToolCallStart, llm.EventToolCallDelta, llm.EventToolCallDelta,
		llm.EventToolCallStop,
		llm.EventUsage, llm.EventFinish,
		llm.EventDone,
	}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("Event sequence mismatch:\n got %v\nwant %v", types, want)
	}
}

func TestParser_ChunkBoundaryIndependence(t *testing.T) {
	whole := NewParser(zerolog.Nop())
	want := whole.Feed([]byte(toolUseStream))

	for _, size := range []int{1, 3, 7, 16} {
		p := NewParser(zerolog.Nop())
		var got []llm.StreamEvent
		data := []byte(toolUseStream)
		for start := 0; start < len(data); start += size {
			end := start + size
			if end > len(data) {
				end = len(data)
			}
			got = append(got, p.Feed(data[start:end])...)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Read size %d produced different events", size)
		}
	}
}

func TestParser_GarbageLinesAreSwallowed(t *testing.T) {
	clean := NewParser(zerolog.Nop())
	want := clean.Feed([]byte(toolUseStream))

	// Interleave garbage among the valid lines.
	var dirty strings.Builder
	for _, line := range strings.Split(toolUseStream, "\n") {
		dirty.WriteString(line + "\n")
		dirty.WriteString("data: {\"type\":\"content_block_delta\",\"ind\n")
		dirty.WriteString("%%% not even close to json %%%\n")
	}

	p := NewParser(zerolog.Nop())
	got := p.Feed([]byte(dirty.String()))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Garbage lines changed the event stream:\n got %v\nwant %v", got, want)
	}
}

func TestParser_TextDelta(t *testing.T) {
	p := NewParser(zerolog.Nop())
	events := p.Feed([]byte(`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello"}}` + "\n"))
	if len(events) != 1 || events[0].Type != llm.EventText || events[0].Text != "hello" {
		t.Errorf("Unexpected events: %v", events)
	}
}

func TestParser_ErrorEvent(t *testing.T) {
	p := NewParser(zerolog.Nop())
	events := p.Feed([]byte(`data: {"type":"error","error":{"type":"overloaded_error","message":"busy"}}` + "\n"))
	if len(events) != 1 || events[0].Type != llm.EventError {
		t.Fatalf("Expected one error event, got %v", events)
	}
	if events[0].ErrKind != "overloaded_error" || events[0].ErrMessage != "busy" {
		t.Errorf("Error fields not carried: %+v", events[0])
	}
}
