package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/switchboard-llm/switchboard/llm"
)

// RiskLevel classifies how dangerous a capability is to execute without
// review.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ExecuteFunc invokes the capability with parsed parameters.
type ExecuteFunc func(ctx context.Context, params map[string]interface{}) (any, error)

// Capability describes one invokable tool: its identity, parameter schema,
// risk classification, and entry point. Parameters is either a ready
// JSON-Schema object (type: "object") or a flat per-field map; see
// BuildSchema.
type Capability struct {
	ID          string
	Description string
	RiskLevel   RiskLevel
	Parameters  map[string]interface{}
	Execute     ExecuteFunc
}

// ExecutionResult is the outcome of one capability invocation.
type ExecutionResult struct {
	Success  bool
	Payload  string
	Error    string
	Duration time.Duration
}

// Registry holds the available capabilities.
type Registry struct {
	mu     sync.RWMutex
	caps   map[string]Capability
	order  []string
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		caps:   make(map[string]Capability),
		logger: logger.With().Str("component", "toolRegistry").Logger(),
	}
}

// Register adds a capability. Registering an existing id replaces it.
func (r *Registry) Register(cap Capability) error {
	if cap.ID == "" {
		return fmt.Errorf("capability id is required")
	}
	if cap.Execute == nil {
		return fmt.Errorf("capability %s has no execute entry point", cap.ID)
	}
	if cap.RiskLevel == "" {
		cap.RiskLevel = RiskMedium
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[cap.ID]; !exists {
		r.order = append(r.order, cap.ID)
	}
	r.caps[cap.ID] = cap
	r.logger.Debug().Str("id", cap.ID).Str("risk", string(cap.RiskLevel)).Msg("Registered capability")
	return nil
}

// Get returns the capability with the given id.
func (r *Registry) Get(id string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.caps[id]
	return cap, ok
}

// List returns all capabilities in registration order.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.order, func(id string, _ int) Capability {
		return r.caps[id]
	})
}

// Specs renders every registered capability as a provider-neutral tool spec.
// Regenerated per call since the capability set can change between turns.
func (r *Registry) Specs() []llm.ToolSpec {
	return lo.Map(r.List(), func(cap Capability, _ int) llm.ToolSpec {
		return SpecFor(cap)
	})
}

// Execute runs a capability and converts the outcome, including panics and
// raised errors, into an ExecutionResult. A failed execution never
// propagates out of this method.
func (r *Registry) Execute(ctx context.Context, id string, params map[string]interface{}) ExecutionResult {
	start := time.Now()

	cap, ok := r.Get(id)
	if !ok {
		r.logger.Error().Str("id", id).Msg("Unknown capability requested")
		return ExecutionResult{
			Error:    fmt.Sprintf("unknown capability: %s", id),
			Duration: time.Since(start),
		}
	}

	result := r.run(ctx, cap, params)
	result.Duration = time.Since(start)
	if result.Success {
		r.logger.Debug().Str("id", id).Dur("duration", result.Duration).Msg("Capability succeeded")
	} else {
		r.logger.Warn().Str("id", id).Str("error", result.Error).Msg("Capability failed")
	}
	return result
}

func (r *Registry) run(ctx context.Context, cap Capability, params map[string]interface{}) (result ExecutionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("id", cap.ID).Interface("panic", rec).Msg("Capability panicked")
			result = ExecutionResult{Error: fmt.Sprintf("capability %s panicked: %v", cap.ID, rec)}
		}
	}()

	payload, err := cap.Execute(ctx, params)
	if err != nil {
		return ExecutionResult{Error: err.Error()}
	}
	return ExecutionResult{Success: true, Payload: renderPayload(payload)}
}

func renderPayload(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
