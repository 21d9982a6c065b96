// Package tokens estimates the input size of a compiled request.
package tokens

import (
	"context"
	"fmt"
	"strings"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

// Registry picks a token counter per model:
// 1. Registered domain.TokenCounter implementations (like tiktoken for OpenAI)
// 2. A fallback estimator for unknown models
type Registry struct {
	counters []domain.TokenCounter
	fallback domain.TokenCounter
}

// NewRegistry creates a new token counter registry.
func NewRegistry() *Registry {
	return &Registry{
		fallback: NewEstimator(),
	}
}

// NewDefaultRegistry returns a registry with the tiktoken counter registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewOpenAICounter())
	return r
}

// Register adds a token counter to the registry.
func (r *Registry) Register(counter domain.TokenCounter) {
	r.counters = append(r.counters, counter)
}

// SetFallback sets the fallback counter for unsupported models.
func (r *Registry) SetFallback(counter domain.TokenCounter) {
	r.fallback = counter
}

// CountTokens counts tokens using the first counter that supports the
// model, or the fallback.
func (r *Registry) CountTokens(ctx context.Context, req *domain.TokenCountRequest) (*domain.TokenCountResponse, error) {
	if counter := r.GetCounter(req.Model); counter != nil {
		return counter.CountTokens(ctx, req)
	}
	return nil, fmt.Errorf("no token counter available for model: %s", req.Model)
}

// GetCounter returns the appropriate counter for a model.
func (r *Registry) GetCounter(model string) domain.TokenCounter {
	for _, counter := range r.counters {
		if counter.SupportsModel(model) {
			return counter
		}
	}
	return r.fallback
}

// Estimator approximates token counts from character length. It backs
// models without a local tokenizer.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// CountTokens estimates the token count.
func (e *Estimator) CountTokens(ctx context.Context, req *domain.TokenCountRequest) (*domain.TokenCountResponse, error) {
	totalChars := 0
	flatTokens := 0

	for _, msg := range req.Messages {
		totalChars += len(msg.Role)
		texts, flat := segments(msg)
		for _, text := range texts {
			totalChars += len(text)
		}
		flatTokens += flat
		totalChars += 4 // role tokens + separators
	}

	return &domain.TokenCountResponse{
		InputTokens: int(float64(totalChars)/e.CharsPerToken) + flatTokens,
		Model:       req.Model,
		Estimated:   true,
	}, nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
