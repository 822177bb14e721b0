package ollama

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/switchboard-llm/switchboard/llm"
)

// Parser converts the Ollama NDJSON protocol into StreamEvents. There is no
// SSE framing here: every line is a complete JSON object carrying a response
// text fragment and a done flag. Lines whose JSON fails to parse are
// swallowed: the backend may send partial lines that straddle two network
// reads.
type Parser struct {
	lines  llm.LineBuffer
	logger zerolog.Logger
}

// NewParser creates a parser for one stream.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger.With().Str("component", "ollamaParser").Logger()}
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
	if !gjson.Valid(line) {
		p.logger.Debug().Str("line", line).Msg("Skipping unparseable stream line")
		return nil
	}

	body := gjson.Parse(line)
	var events []llm.StreamEvent

	if errMsg := body.Get("error").String(); errMsg != "" {
		return []llm.StreamEvent{{
			Type:       llm.EventError,
			ErrKind:    "server",
			ErrMessage: errMsg,
		}}
	}

	if text := body.Get("response").String(); text != "" {
		events = append(events, llm.StreamEvent{Type: llm.EventText, Text: text})
	}

	if body.Get("done").Bool() {
		events = append(events, llm.StreamEvent{
			Type: llm.EventUsage,
			Usage: llm.Usage{
				InputTokens:  body.Get("prompt_eval_count").Int(),
				OutputTokens: body.Get("eval_count").Int(),
			},
		})
		reason := body.Get("done_reason").String()
		if reason == "" {
			reason = "stop"
		}
		events = append(events,
			llm.StreamEvent{Type: llm.EventFinish, Reason: reason},
			llm.StreamEvent{Type: llm.EventDone},
		)
	}

	return events
}
