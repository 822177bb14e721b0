package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

const defaultApprovalTimeout = 30 * time.Second

type approvalKey struct {
	turnID     string
	toolCallID string
}

// ApprovalBroker holds the pending-approval table. Each entry is keyed by
// (turnID, toolCallID) and resolved through a oneshot channel; a resolution
// that matches no pending entry is logged and dropped, never applied to an
// arbitrary one. A wait that sees no resolution within the timeout is
// denied.
type ApprovalBroker struct {
	mu       sync.Mutex
	pending  map[approvalKey]chan bool
	requests chan ApprovalRequest
	timeout  time.Duration
	notify   bool
	logger   zerolog.Logger
}

// NewApprovalBroker creates a broker. If timeout is zero the default of 30
// seconds applies. When notify is true a desktop notification is raised for
// each new request.
func NewApprovalBroker(timeout time.Duration, notify bool, logger zerolog.Logger) *ApprovalBroker {
	if timeout <= 0 {
		timeout = defaultApprovalTimeout
	}
	return &ApprovalBroker{
		pending:  make(map[approvalKey]chan bool),
		requests: make(chan ApprovalRequest, 16),
		timeout:  timeout,
		notify:   notify,
		logger:   logger.With().Str("component", "approvalBroker").Logger(),
	}
}

// Requests exposes the outbound approval-request stream for the UI
// collaborator.
func (b *ApprovalBroker) Requests() <-chan ApprovalRequest {
	return b.requests
}

// Await registers a pending approval and blocks until it is resolved, the
// timeout elapses, or ctx is cancelled. Timeout and cancellation are both
// treated as denial, never as approval.
func (b *ApprovalBroker) Await(ctx context.Context, req ApprovalRequest) bool {
	key := approvalKey{turnID: req.TurnID, toolCallID: req.ToolCallID}
	ch := make(chan bool, 1)

	b.mu.Lock()
	if _, exists := b.pending[key]; exists {
		b.mu.Unlock()
		b.logger.Warn().
			Str("turnID", req.TurnID).
			Str("toolCallID", req.ToolCallID).
			Msg("Duplicate approval request denied")
		return false
	}
	b.pending[key] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
	}()

	req.CreatedAt = time.Now()
	select {
	case b.requests <- req:
	default:
		b.logger.Warn().
			Str("turnID", req.TurnID).
			Str("toolCallID", req.ToolCallID).
			Msg("Approval request channel full; request dropped, will time out")
	}

	if b.notify {
		if err := beeep.Notify("Approval required",
			fmt.Sprintf("%s wants to run (%s risk)", req.CapabilityName, req.RiskLevel), ""); err != nil {
			b.logger.Debug().Err(err).Msg("Desktop notification failed")
		}
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case approved := <-ch:
		return approved
	case <-timer.C:
		b.logger.Info().
			Str("turnID", req.TurnID).
			Str("toolCallID", req.ToolCallID).
			Msg("Approval timed out; treating as denial")
		return false
	case <-ctx.Done():
		return false
	}
}

// Resolve delivers an inbound resolution to the matching pending entry.
// Unmatched resolutions are logged and dropped.
func (b *ApprovalBroker) Resolve(res ApprovalResolution) {
	key := approvalKey{turnID: res.TurnID, toolCallID: res.ToolCallID}

	b.mu.Lock()
	ch, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Warn().
			Str("turnID", res.TurnID).
			Str("toolCallID", res.ToolCallID).
			Msg("Resolution matched no pending approval; dropped")
		return
	}
	ch <- res.Approved
}

// CancelTurn force-denies every pending approval belonging to a turn. Called
// when the turn is cancelled so no further execution starts.
func (b *ApprovalBroker) CancelTurn(turnID string) {
	b.mu.Lock()
	var cancelled []chan bool
	for key, ch := range b.pending {
		if key.turnID == turnID {
			cancelled = append(cancelled, ch)
			delete(b.pending, key)
		}
	}
	b.mu.Unlock()

	for _, ch := range cancelled {
		ch <- false
	}
	if len(cancelled) > 0 {
		b.logger.Info().Str("turnID", turnID).Int("count", len(cancelled)).Msg("Force-denied pending approvals for cancelled turn")
	}
}

// PendingCount reports how many approvals are currently waiting.
func (b *ApprovalBroker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
