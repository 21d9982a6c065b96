package toolpair

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

// Strategy selects how tool blocks of an assistant message are emitted.
type Strategy string

const (
	// PreferResult emits one part per block; the result wins when a block
	// has both a result and arguments.
	PreferResult Strategy = "prefer_result"
	// Independent emits a call for blocks with arguments and a result for
	// blocks with a result, call first.
	Independent Strategy = "independent"
	// Replay moves tool activity out of the assistant message into a
	// synthetic assistant/tool message pair.
	Replay Strategy = "replay"
)

// ParseStrategy parses a configured strategy name. The empty string selects
// PreferResult.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PreferResult:
		return PreferResult, nil
	case Independent:
		return Independent, nil
	case Replay:
		return Replay, nil
	default:
		return "", fmt.Errorf("unknown tool policy %q (want prefer_result, independent or replay)", s)
	}
}

// Engine pairs tool blocks into request parts. An engine is bound to the id
// cache of one compilation.
type Engine struct {
	cache  *IDCache
	logger *slog.Logger
}

// NewEngine creates an engine that resolves ids through cache.
func NewEngine(cache *IDCache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cache: cache, logger: logger}
}

// InlineParts converts blocks into parts of a single assistant message
// using PreferResult or Independent. Replay yields no inline parts, and
// server-executed invocations are never included.
func (e *Engine) InlineParts(blocks []*domain.ToolBlock, strategy Strategy) []domain.Part {
	var parts []domain.Part
	for _, block := range blocks {
		if block.ServerExecuted {
			continue
		}
		switch strategy {
		case Independent:
			if block.HasArguments() {
				parts = append(parts, e.call(block))
			}
			if result, ok := e.result(block); ok {
				parts = append(parts, result)
			}
		case Replay:
			return nil
		default:
			if result, ok := e.result(block); ok {
				parts = append(parts, result)
			} else if block.HasArguments() {
				parts = append(parts, e.call(block))
			}
		}
	}
	return parts
}

// History rebuilds client-executed tool activity as conversation turns: at
// most one assistant message with every call, followed by at most one tool
// message with the results of finished invocations.
func (e *Engine) History(blocks []*domain.ToolBlock) []domain.RequestMessage {
	var calls, results []domain.Part
	for _, block := range blocks {
		if block.ServerExecuted {
			continue
		}
		calls = append(calls, e.call(block))
		if !block.Status.Terminal() {
			continue
		}
		output, ok := resultOutput(block)
		if !ok {
			output = domain.ToolOutput{Type: domain.ToolOutputText}
		}
		results = append(results, domain.ToolResultPart{
			ID:     e.cache.Resolve(block),
			Name:   toolName(block),
			Output: output,
		})
	}

	var msgs []domain.RequestMessage
	if len(calls) > 0 {
		msgs = append(msgs, domain.NewPartsMessage(domain.RoleAssistant, calls...))
	}
	if len(results) > 0 {
		msgs = append(msgs, domain.NewPartsMessage(domain.RoleTool, results...))
	}
	return msgs
}

// ToolResults converts the blocks of a tool-role message. Blocks without a
// result are dropped with a warning; the returned slice may be empty.
func (e *Engine) ToolResults(ctx context.Context, blocks []*domain.ToolBlock) []domain.Part {
	parts := []domain.Part{}
	for _, block := range blocks {
		result, ok := e.result(block)
		if !ok {
			e.logger.WarnContext(ctx, "dropping tool block without result",
				slog.String("block_id", block.ID),
				slog.String("tool_name", toolName(block)),
				slog.String("error", domain.NewMaterializeError(domain.MaterializeTool, block.ID, domain.ErrMissingToolResult).Error()),
			)
			continue
		}
		parts = append(parts, result)
	}
	return parts
}

func (e *Engine) call(block *domain.ToolBlock) domain.ToolCallPart {
	return domain.ToolCallPart{
		ID:    e.cache.Resolve(block),
		Name:  toolName(block),
		Input: callInput(block),
	}
}

func (e *Engine) result(block *domain.ToolBlock) (domain.ToolResultPart, bool) {
	if !block.HasResult() {
		return domain.ToolResultPart{}, false
	}
	output, ok := resultOutput(block)
	if !ok {
		return domain.ToolResultPart{}, false
	}
	return domain.ToolResultPart{
		ID:     e.cache.Resolve(block),
		Name:   toolName(block),
		Output: output,
	}, true
}
