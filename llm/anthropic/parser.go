package anthropic

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/switchboard-llm/switchboard/llm"
)

// Parser converts the Anthropic messages SSE protocol into StreamEvents. It
// is fed raw bytes as they arrive off the wire; lines that straddle two reads
// are reassembled before classification. A JSON parse failure on an otherwise
// non-empty line is swallowed, never raised as a stream error: malformed
// input costs at most one lost event.
type Parser struct {
	lines  llm.LineBuffer
	logger zerolog.Logger
}

// NewParser creates a parser for one stream.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger.With().Str("component", "anthropicParser").Logger()}
}

// Feed consumes the next chunk of the byte stream and returns the events for
// every complete line it contained.
func (p *Parser) Feed(b []byte) []llm.StreamEvent {
	var events []llm.StreamEvent
	for _, line := range p.lines.Split(b) {
		events = append(events, p.parseLine(line)...)
	}
	return events
}

func (p *Parser) parseLine(line string) []llm.StreamEvent {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "event:") {
		return nil
	}
	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return nil
	}
	payload = strings.TrimSpace(payload)
	if !gjson.Valid(payload) {
		p.logger.Debug().Str("line", line).Msg("Skipping unparseable stream line")
		return nil
	}

	body := gjson.Parse(payload)
	switch body.Get("type").String() {
	case "message_start":
		events := []llm.StreamEvent{{
			Type: llm.EventRole,
			Role: body.Get("message.role").String(),
		}}
		if in := body.Get("message.usage.input_tokens"); in.Exists() {
			events = append(events, llm.StreamEvent{
				Type:  llm.EventUsage,
				Usage: llm.Usage{InputTokens: in.Int()},
			})
		}
		return events

	case "content_block_start":
		block := body.Get("content_block")
		if block.Get("type").String() != "tool_use" {
			return nil
		}
		return []llm.StreamEvent{{
			Type:       llm.EventToolCallStart,
			Index:      int(body.Get("index").Int()),
			ToolCallID: block.Get("id").String(),
			ToolName:   block.Get("name").String(),
		}}

	case "content_block_delta":
		delta := body.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			if text := delta.Get("text").String(); text != "" {
				return []llm.StreamEvent{{Type: llm.EventText, Text: text}}
			}
		case "input_json_delta":
			// Fragments are keyed by content-block index, not tool id: they
			// can arrive before the id is resolved.
			if frag := delta.Get("partial_json").String(); frag != "" {
				return []llm.StreamEvent{{
					Type:     llm.EventToolCallDelta,
					Index:    int(body.Get("index").Int()),
					Fragment: frag,
				}}
			}
		}
		return nil

	case "content_block_stop":
		return []llm.StreamEvent{{
			Type:  llm.EventToolCallStop,
			Index: int(body.Get("index").Int()),
		}}

	case "message_delta":
		var events []llm.StreamEvent
		if out := body.Get("usage.output_tokens"); out.Exists() {
			events = append(events, llm.StreamEvent{
				Type:  llm.EventUsage,
				Usage: llm.Usage{OutputTokens: out.Int()},
			})
		}
		if reason := body.Get("delta.stop_reason").String(); reason != "" {
			events = append(events, llm.StreamEvent{Type: llm.EventFinish, Reason: reason})
		}
		return events

	case "message_stop":
		return []llm.StreamEvent{{Type: llm.EventDone}}

	case "error":
		return []llm.StreamEvent{{
			Type:       llm.EventError,
			ErrKind:    body.Get("error.type").String(),
			ErrMessage: body.Get("error.message").String(),
		}}
	}

	return nil
}
