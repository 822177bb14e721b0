package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/switchboard-llm/switchboard/llm"
	"github.com/switchboard-llm/switchboard/tools"
)

// Coordinator drives each tool call from a provider stream through approval
// and execution. A call arrives here already finalized: its argument buffer
// is complete and parsed. Distinct calls within one turn may run
// concurrently; the coordinator holds no per-turn ordering state.
type Coordinator struct {
	policy    *Policy
	registry  *tools.Registry
	approvals *ApprovalBroker
	status    chan StatusEvent
	logger    zerolog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(policy *Policy, registry *tools.Registry, approvals *ApprovalBroker, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		policy:    policy,
		registry:  registry,
		approvals: approvals,
		status:    make(chan StatusEvent, 64),
		logger:    logger.With().Str("component", "coordinator").Logger(),
	}
}

// Status exposes the tool-call lifecycle stream for the UI collaborator.
func (c *Coordinator) Status() <-chan StatusEvent {
	return c.status
}

// Approvals exposes the broker so the UI collaborator can deliver
// resolutions.
func (c *Coordinator) Approvals() *ApprovalBroker {
	return c.approvals
}

// HandleToolCall takes a finalized tool call through the approval policy and
// execution, and returns the tool-result message to append to the
// conversation. The error return is reserved for coordination failures; a
// failed or denied execution is reported in the message itself so the turn
// continues.
func (c *Coordinator) HandleToolCall(ctx context.Context, turnID string, call *llm.ToolCall) (llm.Message, error) {
	c.emit(turnID, call.ID, StatusStarting, fmt.Sprintf("Tool %s requested", call.Name), nil)

	cap, ok := c.registry.Get(call.Name)
	if !ok {
		msg := fmt.Sprintf("unknown capability: %s", call.Name)
		c.emit(turnID, call.ID, StatusError, msg, nil)
		return llm.NewToolResultMessage(call.ID, call.Name, msg, true), nil
	}

	params := call.Parameters()

	switch c.policy.Decide(cap.RiskLevel) {
	case DecisionDisallow:
		msg := fmt.Sprintf("capability %s is disallowed in %s mode", cap.ID, c.policy.Mode())
		c.logger.Info().Str("turnID", turnID).Str("tool", cap.ID).Msg("Capability disallowed by mode")
		c.emit(turnID, call.ID, StatusDenied, msg, nil)
		return llm.NewToolResultMessage(call.ID, call.Name, msg, true), nil

	case DecisionRequire:
		approved := c.approvals.Await(ctx, ApprovalRequest{
			TurnID:         turnID,
			ToolCallID:     call.ID,
			CapabilityName: cap.ID,
			Description:    cap.Description,
			RiskLevel:      cap.RiskLevel,
			Parameters:     params,
		})
		if !approved {
			msg := fmt.Sprintf("execution of %s was denied", cap.ID)
			c.emit(turnID, call.ID, StatusDenied, msg, nil)
			return llm.NewToolResultMessage(call.ID, call.Name, msg, true), nil
		}
	}

	c.emit(turnID, call.ID, StatusExecuting, fmt.Sprintf("Executing %s", cap.ID), nil)

	result := c.registry.Execute(ctx, call.Name, params)
	if !result.Success {
		c.emit(turnID, call.ID, StatusError, result.Error, &result)
		return llm.NewToolResultMessage(call.ID, call.Name, result.Error, true), nil
	}

	c.emit(turnID, call.ID, StatusSuccess, fmt.Sprintf("%s completed", cap.ID), &result)
	return llm.NewToolResultMessage(call.ID, call.Name, result.Payload, false), nil
}

// CancelTurn force-denies any approvals still pending for the turn.
func (c *Coordinator) CancelTurn(turnID string) {
	c.approvals.CancelTurn(turnID)
}

func (c *Coordinator) emit(turnID, toolCallID string, status Status, message string, result *tools.ExecutionResult) {
	ev := StatusEvent{
		TurnID:     turnID,
		ToolCallID: toolCallID,
		Icon:       statusIcon(status),
		Message:    message,
		Status:     status,
		Result:     result,
	}
	select {
	case c.status <- ev:
	default:
		c.logger.Warn().Str("turnID", turnID).Str("status", string(status)).Msg("Status channel full; event dropped")
	}
}
