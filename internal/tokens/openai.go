package tokens

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

// Chat framing overhead, per OpenAI's cookbook: 3 tokens per message, 1 for
// the role and 3 to prime the reply.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	replyPriming     = 3
)

// tokenizerModels maps model name prefixes to tiktoken models. Longer
// prefixes come first.
var tokenizerModels = []struct {
	prefix string
	model  tokenizer.Model
}{
	{"gpt-5-mini", tokenizer.GPT5Mini},
	{"gpt-5-nano", tokenizer.GPT5Nano},
	{"gpt-5", tokenizer.GPT5},
	{"gpt-4.1", tokenizer.GPT41},
	{"gpt-4o", tokenizer.GPT4o},
	{"gpt-4", tokenizer.GPT4},
	{"gpt-3.5", tokenizer.GPT35Turbo},
	{"o1-mini", tokenizer.O1Mini},
	{"o1", tokenizer.O1},
	{"o3-mini", tokenizer.O3Mini},
	{"o3", tokenizer.O3},
	{"o4", tokenizer.O4Mini},
}

// OpenAICounter counts tokens locally with tiktoken encodings.
type OpenAICounter struct {
	matcher *ModelMatcher

	mu     sync.RWMutex
	codecs map[string]tokenizer.Codec
}

// NewOpenAICounter creates a new OpenAI token counter.
func NewOpenAICounter() *OpenAICounter {
	return &OpenAICounter{
		matcher: NewModelMatcher([]string{"gpt-", "o1", "o3", "o4"}, nil),
		codecs:  make(map[string]tokenizer.Codec),
	}
}

// codecFor returns the codec for model, cached by normalized model name.
func (c *OpenAICounter) codecFor(model string) (tokenizer.Codec, error) {
	model = strings.ToLower(model)

	c.mu.RLock()
	codec, ok := c.codecs[model]
	c.mu.RUnlock()
	if ok {
		return codec, nil
	}

	codec, err := loadCodec(model)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.codecs[model] = codec
	c.mu.Unlock()
	return codec, nil
}

func loadCodec(model string) (tokenizer.Codec, error) {
	for _, m := range tokenizerModels {
		if strings.HasPrefix(model, m.prefix) {
			if codec, err := tokenizer.ForModel(m.model); err == nil {
				return codec, nil
			}
			break
		}
	}

	encoding := tokenizer.O200kBase
	if strings.HasPrefix(model, "gpt-4") && !strings.HasPrefix(model, "gpt-4o") && !strings.HasPrefix(model, "gpt-4.1") ||
		strings.HasPrefix(model, "gpt-3.5") {
		encoding = tokenizer.Cl100kBase
	}
	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return codec, nil
}

// CountTokens counts the compiled request's messages. Images and inline
// documents are added at a flat estimate, so the result is still marked as
// estimated.
func (c *OpenAICounter) CountTokens(ctx context.Context, req *domain.TokenCountRequest) (*domain.TokenCountResponse, error) {
	codec, err := c.codecFor(req.Model)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, msg := range req.Messages {
		total += tokensPerMessage + tokensPerRole
		texts, flat := segments(msg)
		for _, text := range texts {
			ids, _, err := codec.Encode(text)
			if err != nil {
				return nil, fmt.Errorf("encode %s message: %w", msg.Role, err)
			}
			total += len(ids)
		}
		total += flat
	}
	total += replyPriming

	return &domain.TokenCountResponse{
		InputTokens: total,
		Model:       req.Model,
		Estimated:   true,
	}, nil
}

// SupportsModel returns true for OpenAI models.
func (c *OpenAICounter) SupportsModel(model string) bool {
	return c.matcher.Matches(strings.ToLower(model))
}

// CountText counts tokens for a plain text string.
func (c *OpenAICounter) CountText(model, text string) (int, error) {
	codec, err := c.codecFor(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
