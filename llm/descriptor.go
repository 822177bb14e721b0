package llm

// ToolFormat tags the tool-schema wire format a backend expects.
type ToolFormat string

const (
	// ToolFormatOpenAI wraps each tool in {type: "function", function: {...}}.
	ToolFormatOpenAI ToolFormat = "openai"
	// ToolFormatAnthropic uses {name, description, input_schema}.
	ToolFormatAnthropic ToolFormat = "anthropic"
	// ToolFormatFunctionCall uses the plain {name, description, parameters}
	// shape, rendered into the prompt for backends without native tool
	// calling.
	ToolFormatFunctionCall ToolFormat = "function_call"
)

// ModelPrice holds the cost per token unit for one model.
type ModelPrice struct {
	Input  float64
	Output float64
}

// Descriptor describes one backend integration. Immutable after
// registration; one instance per backend.
type Descriptor struct {
	ID           string
	Name         string
	BaseURL      string
	Models       []string
	DefaultModel string

	SupportsStreaming   bool
	SupportsToolCalling bool
	ToolFormat          ToolFormat
	MaxTools            int

	// Pricing maps model id to per-token prices. Models absent from the
	// table cost zero.
	Pricing map[string]ModelPrice
}

// PriceFor looks up the price table entry for a model.
func (d *Descriptor) PriceFor(model string) (ModelPrice, bool) {
	p, ok := d.Pricing[model]
	return p, ok
}

// Cost computes the linear token cost for a usage sample. An unknown model
// yields zero; the caller is expected to log the diagnostic via KnownModel.
func (d *Descriptor) Cost(u Usage, model string) float64 {
	p, ok := d.Pricing[model]
	if !ok {
		return 0
	}
	return float64(u.InputTokens)*p.Input + float64(u.OutputTokens)*p.Output
}

// KnownModel reports whether the model appears in the descriptor's model list.
func (d *Descriptor) KnownModel(model string) bool {
	for _, m := range d.Models {
		if m == model {
			return true
		}
	}
	return false
}
