// Package llm provides a provider-neutral vocabulary for talking to large
// language model backends.
//
// The package defines:
//
//   - Message, Request, and Response types shared by all providers
//   - the StreamEvent tagged union produced by the per-provider wire parsers
//   - the in-flight ToolCall accumulator used while a backend streams
//     fragmented tool-call arguments
//   - the Provider contract every backend integration implements
//   - a Registry that owns provider registration, the active selection, and
//     per-provider usage totals
//
// Provider implementations live in subpackages (llm/anthropic, llm/openai,
// llm/ollama). Each subpackage owns its HTTP transport and an incremental
// parser that turns the backend's raw byte stream into StreamEvents. Nothing
// outside a provider subpackage constructs StreamEvents, and nothing outside
// this package family inspects provider wire formats.
//
// Usage:
//
//	reg := llm.NewRegistry(logger)
//	if err := reg.Register(anthropic.New(cfg, logger)); err != nil { ... }
//	if err := reg.SetActive("anthropic"); err != nil { ... }
//
//	provider, _ := reg.Active()
//	final, err := provider.StreamWithTools(ctx, req, llm.StreamCallbacks{
//		OnChunk: func(text string, tokens int) { ... },
//	})
package llm
