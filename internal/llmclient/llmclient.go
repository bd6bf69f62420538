// Package llmclient is the narrow port to a language-model backend (§6).
// internal/ai composes on this interface so the prompt/parse/validate logic
// in C8 never imports net/http directly.
package llmclient

import "context"

// Client sends a system/user prompt pair and returns the model's raw text
// response.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
