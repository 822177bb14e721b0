package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/switchboard-llm/switchboard/llm"
)

// Ledger persists per-turn usage rows. The orchestrator tolerates a nil
// ledger; recording failures are logged, never surfaced to the caller.
type Ledger interface {
	RecordTurn(ctx context.Context, turnID, provider, model string, usage llm.Usage, cost float64) error
}

// Options tune the retry policy and credential resolution.
type Options struct {
	// MaxRetries is the retry budget for retryable errors. Zero means no
	// retries.
	MaxRetries uint64
	// BaseDelay is the initial backoff interval, doubled per attempt.
	BaseDelay time.Duration
	// Credentials maps provider id to its API credential.
	Credentials map[string]string
}

// Orchestrator resolves the active provider, validates its credential, and
// runs streaming turns with retry, cost accounting, and
// single-stream-per-turn enforcement.
type Orchestrator struct {
	providers   *llm.Registry
	coordinator *Coordinator
	ledger      Ledger
	opts        Options

	mu     sync.Mutex
	active map[string]context.CancelFunc

	logger zerolog.Logger
}

// New creates an orchestrator. ledger may be nil.
func New(providers *llm.Registry, coordinator *Coordinator, ledger Ledger, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	return &Orchestrator{
		providers:   providers,
		coordinator: coordinator,
		ledger:      ledger,
		opts:        opts,
		active:      make(map[string]context.CancelFunc),
		logger:      logger.With().Str("component", "orchestrator").Logger(),
	}
}

// NewTurnID returns a fresh turn identifier.
func NewTurnID() string {
	return "turn_" + uuid.NewString()
}

// StreamTurn runs one streaming request against the active provider. At most
// one stream may be outstanding per turn id; a second request for the same
// id is rejected rather than queued. Retryable errors are retried with
// exponential backoff up to the budget; fatal errors propagate on first
// occurrence.
func (o *Orchestrator) StreamTurn(ctx context.Context, turnID string, req *llm.Request, onChunk func(text string, tokens int64)) (*llm.Response, error) {
	if turnID == "" {
		return nil, llm.NewInvalidRequestError("turn id is required")
	}

	turnCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	if _, busy := o.active[turnID]; busy {
		o.mu.Unlock()
		cancel()
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("turn %s already has an active stream", turnID))
	}
	o.active[turnID] = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.active, turnID)
		o.mu.Unlock()
		cancel()
	}()

	provider, err := o.providers.Active()
	if err != nil {
		return nil, err
	}
	d := provider.Descriptor()

	if err := provider.ValidateCredential(o.opts.Credentials[d.ID]); err != nil {
		return nil, err
	}
	if len(req.Tools) > 0 && !d.SupportsToolCalling {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("provider %s does not support tool calling", d.ID))
	}
	if !d.SupportsStreaming {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("provider %s does not support streaming", d.ID))
	}

	cb := llm.StreamCallbacks{
		OnChunk: onChunk,
		OnToolCall: func(call *llm.ToolCall) (llm.Message, error) {
			return o.coordinator.HandleToolCall(turnCtx, turnID, call)
		},
	}

	var resp *llm.Response
	attempts := 0
	operation := func() error {
		attempts++
		r, err := provider.StreamWithTools(turnCtx, req, cb)
		if err != nil {
			if turnCtx.Err() != nil {
				return backoff.Permanent(err)
			}
			if llm.IsRetryableError(err) {
				o.logger.Warn().
					Str("turnID", turnID).
					Str("provider", d.ID).
					Int("attempt", attempts).
					Err(err).
					Msg("Retryable provider error")
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.opts.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, o.opts.MaxRetries), turnCtx))
	if err != nil {
		o.coordinator.CancelTurn(turnID)
		if llm.IsRetryableError(err) {
			return nil, fmt.Errorf("turn %s failed after %d attempts: %w", turnID, attempts, err)
		}
		return nil, err
	}

	o.recordUsage(ctx, turnID, d.ID, modelFor(req, provider), resp.Usage)
	return resp, nil
}

// Cancel aborts the stream for a turn and force-denies its pending
// approvals.
func (o *Orchestrator) Cancel(turnID string) {
	o.mu.Lock()
	cancel, ok := o.active[turnID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	o.coordinator.CancelTurn(turnID)
}

func (o *Orchestrator) recordUsage(ctx context.Context, turnID, providerID, model string, u llm.Usage) {
	cost := o.providers.RecordUsage(providerID, model, u)
	if o.ledger == nil {
		return
	}
	if err := o.ledger.RecordTurn(ctx, turnID, providerID, model, u, cost); err != nil {
		o.logger.Warn().Err(err).Str("turnID", turnID).Msg("Failed to persist usage row")
	}
}

func modelFor(req *llm.Request, p llm.Provider) string {
	if req.Model != "" {
		return req.Model
	}
	return p.DefaultModel()
}
