package llm

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Stats holds the running totals for one provider. Increments are serialized
// by the registry so concurrent turns on the same provider stay consistent.
type Stats struct {
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// Registry holds all registered providers and tracks the active one. It is
// constructed explicitly and passed to every collaborator that needs it; its
// lifecycle (Register/Clear) is owned by the composition root.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	active    string
	stats     map[string]*Stats
	logger    zerolog.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		stats:     make(map[string]*Stats),
		logger:    logger.With().Str("component", "providerRegistry").Logger(),
	}
}

// Register adds a provider, validating its descriptor at registration time
// rather than at call time. The first registered provider becomes active.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider is required")
	}
	d := p.Descriptor()
	if d == nil || d.ID == "" {
		return fmt.Errorf("provider descriptor must carry an id")
	}
	if len(d.Models) == 0 {
		return fmt.Errorf("provider %s: descriptor must list at least one model", d.ID)
	}
	if d.DefaultModel == "" || !d.KnownModel(d.DefaultModel) {
		return fmt.Errorf("provider %s: default model %q is not in the model list", d.ID, d.DefaultModel)
	}
	if d.SupportsToolCalling && d.ToolFormat == "" {
		return fmt.Errorf("provider %s: tool-calling provider must declare a tool format", d.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[d.ID]; exists {
		return fmt.Errorf("provider %s is already registered", d.ID)
	}
	r.providers[d.ID] = p
	r.order = append(r.order, d.ID)
	r.stats[d.ID] = &Stats{}
	if r.active == "" {
		r.active = d.ID
	}
	r.logger.Info().
		Str("provider", d.ID).
		Str("defaultModel", d.DefaultModel).
		Bool("streaming", d.SupportsStreaming).
		Bool("tools", d.SupportsToolCalling).
		Msg("Registered provider")
	return nil
}

// SetActive switches the active provider.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("unknown provider: %s", id)
	}
	r.active = id
	r.logger.Info().Str("provider", id).Msg("Active provider changed")
	return nil
}

// Active returns the currently active provider.
func (r *Registry) Active() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return nil, fmt.Errorf("no provider registered")
	}
	return r.providers[r.active], nil
}

// ActiveID returns the id of the active provider, or empty.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", id)
	}
	return p, nil
}

// Descriptors returns the descriptors of all registered providers in
// registration order.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.order, func(id string, _ int) *Descriptor {
		return r.providers[id].Descriptor()
	})
}

// RecordUsage accumulates a usage sample and its cost into the provider's
// running totals. An unknown model contributes zero cost and a diagnostic.
func (r *Registry) RecordUsage(id, model string, u Usage) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		r.logger.Warn().Str("provider", id).Msg("Usage recorded for unknown provider")
		return 0
	}
	d := p.Descriptor()
	cost := d.Cost(u, model)
	if _, priced := d.PriceFor(model); !priced {
		r.logger.Warn().
			Str("provider", id).
			Str("model", model).
			Msg("No price table entry for model; cost recorded as zero")
	}
	s := r.stats[id]
	s.Requests++
	s.InputTokens += u.InputTokens
	s.OutputTokens += u.OutputTokens
	s.Cost += cost
	return cost
}

// Stats returns a copy of the running totals for a provider.
func (r *Registry) Stats(id string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[id]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// Clear removes all providers. Owned by the composition root; useful for
// tests and shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = make(map[string]Provider)
	r.stats = make(map[string]*Stats)
	r.order = nil
	r.active = ""
}
