package orchestrator

import (
	"time"

	"github.com/switchboard-llm/switchboard/tools"
)

// ApprovalRequest is sent outbound when a tool call needs an explicit
// decision before it may execute.
type ApprovalRequest struct {
	TurnID         string
	ToolCallID     string
	CapabilityName string
	Description    string
	RiskLevel      tools.RiskLevel
	Parameters     map[string]interface{}
	CreatedAt      time.Time
}

// ApprovalResolution is the inbound answer to an ApprovalRequest, matched by
// (TurnID, ToolCallID).
type ApprovalResolution struct {
	TurnID     string
	ToolCallID string
	Approved   bool
}

// Status categorizes a tool-call lifecycle event.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusExecuting Status = "executing"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusDenied    Status = "denied"
)

// StatusEvent reports one tool-call lifecycle transition. The status stream
// is independent of and interleaved with the text-chunk stream.
type StatusEvent struct {
	TurnID     string
	ToolCallID string
	Icon       string
	Message    string
	Status     Status
	Result     *tools.ExecutionResult
}

func statusIcon(s Status) string {
	switch s {
	case StatusStarting:
		return "🔧"
	case StatusExecuting:
		return "⏳"
	case StatusSuccess:
		return "✅"
	case StatusError:
		return "❌"
	case StatusDenied:
		return "🚫"
	default:
		return "•"
	}
}
