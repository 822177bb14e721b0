package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/switchboard-llm/switchboard/llm"
	"github.com/switchboard-llm/switchboard/tools"
)

func newTestCoordinator(t *testing.T, mode Mode, executed *atomic.Int64) *Coordinator {
	t.Helper()
	registry := tools.NewRegistry(zerolog.Nop())
	for _, cap := range []tools.Capability{
		{ID: "current_time", RiskLevel: tools.RiskLow, Execute: func(context.Context, map[string]interface{}) (any, error) {
			executed.Add(1)
			return "12:00", nil
		}},
		{ID: "write_file", RiskLevel: tools.RiskHigh, Execute: func(context.Context, map[string]interface{}) (any, error) {
			executed.Add(1)
			return "ok", nil
		}},
	} {
		if err := registry.Register(cap); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	broker := NewApprovalBroker(5*time.Second, false, zerolog.Nop())
	return NewCoordinator(NewPolicy(mode), registry, broker, zerolog.Nop())
}

func drainStatuses(c *Coordinator) []StatusEvent {
	var events []StatusEvent
	for {
		select {
		case ev := <-c.Status():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func countStatus(events []StatusEvent, s Status) int {
	n := 0
	for _, ev := range events {
		if ev.Status == s {
			n++
		}
	}
	return n
}

func TestCoordinator_DeniedApprovalBlocksExecution(t *testing.T) {
	var executed atomic.Int64
	c := newTestCoordinator(t, ModeGuarded, &executed)

	type outcome struct {
		msg llm.Message
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		msg, err := c.HandleToolCall(context.Background(), "t1", llm.NewToolCall("c1", "write_file", `{"path":"a.txt"}`))
		done <- outcome{msg, err}
	}()

	req := <-c.Approvals().Requests()
	if req.CapabilityName != "write_file" || req.RiskLevel != tools.RiskHigh {
		t.Errorf("Unexpected approval request: %+v", req)
	}
	c.Approvals().Resolve(ApprovalResolution{TurnID: "t1", ToolCallID: "c1", Approved: false})

	out := <-done
	if out.err != nil {
		t.Fatalf("HandleToolCall returned error: %v", out.err)
	}
	if !out.msg.IsError {
		t.Error("Denial should produce an error tool-result message")
	}
	if executed.Load() != 0 {
		t.Error("Denied capability must never execute")
	}

	events := drainStatuses(c)
	if countStatus(events, StatusDenied) != 1 {
		t.Errorf("Expected exactly one denied event, got %v", events)
	}
	if countStatus(events, StatusExecuting) != 0 {
		t.Error("No executing event should follow a denial")
	}
}

func TestCoordinator_ApprovedCallExecutes(t *testing.T) {
	var executed atomic.Int64
	c := newTestCoordinator(t, ModeGuarded, &executed)

	done := make(chan llm.Message, 1)
	go func() {
		msg, _ := c.HandleToolCall(context.Background(), "t1", llm.NewToolCall("c1", "write_file", `{"path":"a.txt"}`))
		done <- msg
	}()
	<-c.Approvals().Requests()
	c.Approvals().Resolve(ApprovalResolution{TurnID: "t1", ToolCallID: "c1", Approved: true})

	msg := <-done
	if msg.IsError {
		t.Fatalf("Approved call failed: %+v", msg)
	}
	if msg.Content != "ok" || msg.ToolCallID != "c1" {
		t.Errorf("Unexpected tool result: %+v", msg)
	}
	if executed.Load() != 1 {
		t.Errorf("Expected one execution, got %d", executed.Load())
	}
	events := drainStatuses(c)
	if countStatus(events, StatusSuccess) != 1 {
		t.Errorf("Expected one success event, got %v", events)
	}
}

func TestCoordinator_LowRiskAutoApprovedInGuardedMode(t *testing.T) {
	var executed atomic.Int64
	c := newTestCoordinator(t, ModeGuarded, &executed)

	msg, err := c.HandleToolCall(context.Background(), "t1", llm.NewToolCall("c1", "current_time", "{}"))
	if err != nil {
		t.Fatalf("HandleToolCall returned error: %v", err)
	}
	if msg.IsError || msg.Content != "12:00" {
		t.Errorf("Unexpected result: %+v", msg)
	}
	if executed.Load() != 1 {
		t.Error("Low-risk call should execute without an approval round trip")
	}
}

func TestCoordinator_DisallowedInRestrictedMode(t *testing.T) {
	var executed atomic.Int64
	c := newTestCoordinator(t, ModeRestricted, &executed)

	msg, err := c.HandleToolCall(context.Background(), "t1", llm.NewToolCall("c1", "write_file", "{}"))
	if err != nil {
		t.Fatalf("HandleToolCall returned error: %v", err)
	}
	if !msg.IsError {
		t.Error("Disallowed capability should produce an error result")
	}
	if executed.Load() != 0 {
		t.Error("Disallowed capability must never execute")
	}
	if countStatus(drainStatuses(c), StatusDenied) != 1 {
		t.Error("Expected a denied status event")
	}
}

func TestCoordinator_UnknownCapability(t *testing.T) {
	var executed atomic.Int64
	c := newTestCoordinator(t, ModeAuto, &executed)

	msg, err := c.HandleToolCall(context.Background(), "t1", llm.NewToolCall("c1", "no_such_tool", "{}"))
	if err != nil {
		t.Fatalf("HandleToolCall returned error: %v", err)
	}
	if !msg.IsError {
		t.Error("Unknown capability should produce an error result, not a coordination failure")
	}
	if countStatus(drainStatuses(c), StatusError) != 1 {
		t.Error("Expected an error status event")
	}
}
