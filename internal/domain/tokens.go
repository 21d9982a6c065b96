package domain

import "context"

// TokenCountRequest represents a compiled request whose size should be counted.
type TokenCountRequest struct {
	Model    string           `json:"model"`
	Messages []RequestMessage `json:"messages"`
}

// TokenCountResponse represents the response from counting tokens.
type TokenCountResponse struct {
	InputTokens int    `json:"input_tokens"`
	Model       string `json:"model,omitempty"`
	// Estimated indicates whether the count is an estimate (true) or exact (false)
	Estimated bool `json:"estimated,omitempty"`
}

// TokenCounter provides token counting capabilities.
type TokenCounter interface {
	// CountTokens counts the tokens in the given request.
	CountTokens(ctx context.Context, req *TokenCountRequest) (*TokenCountResponse, error)

	// SupportsModel returns true if this counter supports the given model.
	SupportsModel(model string) bool
}
