// Package llm is a minimal OpenAI-compatible chat completions client used to
// classify call transcripts, defaulting to OpenRouter.
//
// Client.Complete sends one JSON-mode request and returns the payload with
// the serving model and token usage. It never retries. Non-2xx responses are
// *services.HTTPStatusError values carrying any Retry-After hint, and empty
// completions are tagged services.ErrTransient, so the caller's executor
// decides whether to try again.
//
// DecodeJSON turns a model payload into a Go value, tolerating reasoning
// blocks, code fences and prose around the JSON.
package llm
