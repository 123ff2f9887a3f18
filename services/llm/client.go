// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package llm

import "context"

// Message is one turn of a chat conversation sent to a model backend.
// Images are base64-encoded payloads attached to the turn; backends that
// cannot accept images must return an error rather than silently drop
// them.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// GenerationParams are the sampling controls passed to a backend. Nil
// fields mean "backend default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// DeterministicParams returns the fixed sampling configuration used for
// every assistant call: temperature 0 and top_p 0.1. These are never
// request-configurable. Creative sampling and grounded answers do not
// mix.
func DeterministicParams(maxTokens int) GenerationParams {
	temp := float32(0)
	topP := float32(0.1)
	return GenerationParams{
		Temperature: &temp,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
	}
}

// Client defines the standard interface for any LLM backend.
type Client interface {
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}
