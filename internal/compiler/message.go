package compiler

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/codec"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/toolpair"
)

// CompileMessage compiles one source message. The result has one element
// except when a file handle splits a user or system message, or when
// replayed tool history precedes an assistant message.
//
// cache stabilizes synthesized tool-call ids; pass the same cache for every
// message of one conversation and clear it afterwards.
func (c *Compiler) CompileMessage(ctx context.Context, msg *domain.Message, model *domain.Model, cache *toolpair.IDCache) []domain.RequestMessage {
	if msg == nil {
		c.logger.WarnContext(ctx, "skipping nil message")
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "compile.message", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.role", string(msg.Role)),
	))
	defer span.End()

	logger := c.logger.With(slog.String("message_id", msg.ID), slog.String("role", string(msg.Role)))

	var out []domain.RequestMessage
	switch msg.Role {
	case domain.RoleSystem, domain.RoleUser:
		out = c.compileUser(ctx, logger, msg, model)
	case domain.RoleAssistant:
		out = c.compileAssistant(ctx, logger, msg, model, toolpair.NewEngine(cache, logger))
	case domain.RoleTool:
		out = c.compileTool(ctx, msg, toolpair.NewEngine(cache, logger))
	default:
		logger.WarnContext(ctx, "skipping message with unknown role")
	}

	parts := 0
	for _, m := range out {
		parts += len(m.Content.Parts)
	}
	span.SetAttributes(
		attribute.Int("request.messages", len(out)),
		attribute.Int("request.parts", parts),
	)
	return out
}

func (c *Compiler) compileUser(ctx context.Context, logger *slog.Logger, msg *domain.Message, model *domain.Model) []domain.RequestMessage {
	var parts []domain.Part
	if text := c.store.ExtractText(ctx, msg); text != "" {
		parts = append(parts, domain.TextPart{Text: text})
	}
	parts = append(parts, c.visibleImages(ctx, logger, msg, model)...)

	var handles []string
	for _, res := range c.files.MaterializeAll(ctx, c.store.ExtractFiles(ctx, msg), model, c.limit) {
		if res.Handle != "" {
			handles = append(handles, res.Handle)
			continue
		}
		parts = append(parts, res.Part)
	}

	main := buildMessage(msg.Role, parts)
	if len(handles) == 0 {
		return []domain.RequestMessage{main}
	}

	logger.DebugContext(ctx, "file handles conveyed in a separate system message", slog.Int("handles", len(handles)))
	return []domain.RequestMessage{
		domain.NewTextMessage(domain.RoleSystem, strings.Join(handles, ",")),
		main,
	}
}

func (c *Compiler) compileAssistant(ctx context.Context, logger *slog.Logger, msg *domain.Message, model *domain.Model, engine *toolpair.Engine) []domain.RequestMessage {
	var parts []domain.Part
	if text := c.store.ExtractText(ctx, msg); text != "" {
		parts = append(parts, domain.TextPart{Text: text})
	}
	for _, r := range c.store.ExtractReasoning(ctx, msg) {
		if r.Content != "" {
			parts = append(parts, domain.ReasoningPart{Text: r.Content})
		}
	}

	tools := c.store.ExtractTools(ctx, msg)
	var history []domain.RequestMessage
	if c.strategy == toolpair.Replay {
		history = engine.History(tools)
	} else {
		parts = append(parts, engine.InlineParts(tools, c.strategy)...)
	}

	for _, res := range c.files.MaterializeAll(ctx, c.store.ExtractFiles(ctx, msg), model, c.limit) {
		if res.Handle != "" {
			// Handles never split an assistant message; reference the file by id.
			parts = append(parts, domain.FilePart{FileID: strings.TrimPrefix(res.Handle, codec.HandlePrefix)})
			continue
		}
		parts = append(parts, res.Part)
	}

	main := buildMessage(domain.RoleAssistant, parts)
	if len(history) == 0 {
		return []domain.RequestMessage{main}
	}
	if main.Content.IsEmpty() {
		logger.DebugContext(ctx, "assistant message reduced to tool history")
		return history
	}
	return append(history, main)
}

func (c *Compiler) compileTool(ctx context.Context, msg *domain.Message, engine *toolpair.Engine) []domain.RequestMessage {
	results := engine.ToolResults(ctx, c.store.ExtractTools(ctx, msg))
	return []domain.RequestMessage{domain.NewPartsMessage(domain.RoleTool, results...)}
}

// visibleImages materializes a message's images when the model can see
// them.
func (c *Compiler) visibleImages(ctx context.Context, logger *slog.Logger, msg *domain.Message, model *domain.Model) []domain.Part {
	blocks := c.store.ExtractImages(ctx, msg)
	if len(blocks) == 0 {
		return nil
	}
	if c.caps == nil || !c.caps.IsVisionCapable(model) {
		logger.DebugContext(ctx, "omitting images for model without vision", slog.Int("images", len(blocks)))
		return nil
	}
	return c.images.MaterializeAll(ctx, blocks, c.limit)
}

// buildMessage keeps text-only content in simple form and uses a part list
// otherwise.
func buildMessage(role domain.Role, parts []domain.Part) domain.RequestMessage {
	switch len(parts) {
	case 0:
		return domain.NewTextMessage(role, "")
	case 1:
		if text, ok := parts[0].(domain.TextPart); ok {
			return domain.NewTextMessage(role, text.Text)
		}
	}
	return domain.NewPartsMessage(role, parts...)
}
