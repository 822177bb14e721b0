package orchestrator

import (
	"github.com/switchboard-llm/switchboard/tools"
)

// Mode is the active conversation mode. It decides how much autonomy tool
// execution gets.
type Mode string

const (
	// ModeAuto approves everything without asking.
	ModeAuto Mode = "auto"
	// ModeGuarded auto-approves low-risk capabilities and asks for the rest.
	ModeGuarded Mode = "guarded"
	// ModeRestricted asks for everything and refuses high-risk capabilities
	// outright.
	ModeRestricted Mode = "restricted"
)

// Decision is the outcome of an approval policy lookup.
type Decision int

const (
	DecisionAuto Decision = iota
	DecisionRequire
	DecisionDisallow
)

// Policy maps the active mode and a capability's risk level to an approval
// decision.
type Policy struct {
	mode Mode
}

// NewPolicy creates a policy for the given mode. An unknown mode falls back
// to guarded.
func NewPolicy(mode Mode) *Policy {
	switch mode {
	case ModeAuto, ModeGuarded, ModeRestricted:
	default:
		mode = ModeGuarded
	}
	return &Policy{mode: mode}
}

// Mode returns the active mode.
func (p *Policy) Mode() Mode { return p.mode }

// Decide answers whether executing a capability with the given risk level
// requires explicit approval, is auto-approved, or is disallowed in the
// active mode.
func (p *Policy) Decide(risk tools.RiskLevel) Decision {
	switch p.mode {
	case ModeAuto:
		return DecisionAuto
	case ModeRestricted:
		if risk == tools.RiskHigh {
			return DecisionDisallow
		}
		return DecisionRequire
	default: // guarded
		if risk == tools.RiskLow {
			return DecisionAuto
		}
		return DecisionRequire
	}
}
