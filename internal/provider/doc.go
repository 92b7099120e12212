// Package provider implements the LLM provider abstraction: one contract,
// SendMessage, behind five hand-rolled wire adapters.
//
// # Supported adapters
//
// Anthropic Messages API (SSE), OpenAI Chat Completions (SSE), OpenAI
// Responses API (SSE), Gemini/Vertex generateContent (SSE), and Ollama
// chat (NDJSON). Each adapter owns its own stream decode and incremental
// tool-call-argument accumulation; none delegate to a provider SDK's
// built-in streaming client, because those clients normalize exactly the
// raw delta layer the stream processor consumes.
//
//	registry := NewRegistry(config)
//	provider, err := registry.Get("anthropic")
//	resp, err := provider.SendMessage(ctx, req, func(_ types.ContentBlock, ev FragmentEvent) bool {
//	    // forward ev to the stream processor
//	    return true
//	})
//
// Registry.DefaultModel resolves "provider/model" config strings via
// ParseModelString; InitializeProviders builds a Registry from
// types.Config, then auto-registers each well-known provider the config
// does not name: anthropic, openai and gemini when their API-key
// environment variable is set, ollama always.
package provider
