package tools

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/switchboard-llm/switchboard/llm"
)

// actionPattern recognizes the delimited marker convention used by backends
// with no native tool calling. Non-greedy so multiple markers in one text
// each match separately.
var actionPattern = regexp.MustCompile(`(?s)\[ACTION:\s*([A-Za-z0-9_.-]{1,128})\]\s*(\{.*?\})\s*\[/ACTION\]`)

// ParseActions scans generated text for ACTION markers and recovers the
// embedded tool calls. A marker whose JSON body fails to parse is logged and
// skipped, never surfaced as an error.
func ParseActions(text string, logger zerolog.Logger) []*llm.ToolCall {
	if !strings.Contains(text, "[ACTION:") {
		return nil
	}

	var calls []*llm.ToolCall
	for _, match := range actionPattern.FindAllStringSubmatch(text, -1) {
		name, body := match[1], match[2]
		if !gjson.Valid(body) {
			logger.Warn().Str("tool", name).Msg("Skipping action marker with invalid JSON body")
			continue
		}
		calls = append(calls, llm.NewToolCall("call_"+uuid.NewString(), name, body))
	}
	return calls
}
