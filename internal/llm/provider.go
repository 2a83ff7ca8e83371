// Package llm holds the provider client boundary and the model catalog.
// The orchestrator only sees the Client interface; wire-format shaping
// stays inside each provider implementation.
package llm

import "context"

type ChatMessage struct {
	Role    string // "user" or "model"
	Content string
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type GenerateRequest struct {
	Model           string
	System          string
	Messages        []ChatMessage // ordered, last entry is the current user turn
	Temperature     float32
	MaxOutputTokens int32
	// CredentialOverride carries a caller-supplied API key. Empty means the
	// house credential.
	CredentialOverride string
}

type GenerateResult struct {
	Text  string
	Usage Usage
}

// Client is one upstream model family. Implementations must report token
// usage so the orchestrator can measure actual cost.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	// ListModelIDs discovers the models currently served upstream.
	ListModelIDs(ctx context.Context) ([]string, error)
	Close() error
}
