package openai

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/switchboard-llm/switchboard/llm"
)

// Parser converts the OpenAI chat-completions SSE protocol into
// StreamEvents. The literal `data: [DONE]` line is the stream terminator and
// is surfaced as a distinct done event, not folded into finish. Lines whose
// JSON fails to parse are swallowed: backends may send partial lines that
// straddle two network reads.
type Parser struct {
	lines  llm.LineBuffer
	logger zerolog.Logger
}

// NewParser creates a parser for one stream.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger.With().Str("component", "openaiParser").Logger()}
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
	if line == "" {
		return nil
	}
	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return nil
	}
	payload = strings.TrimSpace(payload)
	if payload == "[DONE]" {
		return []llm.StreamEvent{{Type: llm.EventDone}}
	}
	if !gjson.Valid(payload) {
		p.logger.Debug().Str("line", line).Msg("Skipping unparseable stream line")
		return nil
	}

	body := gjson.Parse(payload)
	var events []llm.StreamEvent

	if errObj := body.Get("error"); errObj.Exists() {
		return []llm.StreamEvent{{
			Type:       llm.EventError,
			ErrKind:    errObj.Get("type").String(),
			ErrMessage: errObj.Get("message").String(),
		}}
	}

	choice := body.Get("choices.0")
	if choice.Exists() {
		delta := choice.Get("delta")

		if role := delta.Get("role").String(); role != "" {
			events = append(events, llm.StreamEvent{Type: llm.EventRole, Role: role})
		}
		if content := delta.Get("content").String(); content != "" {
			events = append(events, llm.StreamEvent{Type: llm.EventText, Text: content})
		}

		delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
			index := int(tc.Get("index").Int())
			id := tc.Get("id").String()
			name := tc.Get("function.name").String()
			if id != "" || name != "" {
				events = append(events, llm.StreamEvent{
					Type:       llm.EventToolCallStart,
					Index:      index,
					ToolCallID: id,
					ToolName:   name,
				})
			}
			// The arguments field is always a fragment to concatenate,
			// never a replacement.
			if args := tc.Get("function.arguments").String(); args != "" {
				events = append(events, llm.StreamEvent{
					Type:     llm.EventToolCallDelta,
					Index:    index,
					Fragment: args,
				})
			}
			return true
		})

		// finish_reason arrives on the choice, not the delta. A value of
		// "tool_calls" ends the accumulation phase.
		if reason := choice.Get("finish_reason").String(); reason != "" {
			events = append(events, llm.StreamEvent{Type: llm.EventFinish, Reason: reason})
		}
	}

	if u := body.Get("usage"); u.Exists() && u.Type != gjson.Null {
		events = append(events, llm.StreamEvent{
			Type: llm.EventUsage,
			Usage: llm.Usage{
				InputTokens:  u.Get("prompt_tokens").Int(),
				OutputTokens: u.Get("completion_tokens").Int(),
			},
		})
	}

	return events
}
