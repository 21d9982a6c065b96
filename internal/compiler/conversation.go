package compiler

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/toolpair"
)

// minEnhancementMessages is the shortest conversation that gets the
// image-enhancement rewrite.
const minEnhancementMessages = 3

// Compile compiles a whole conversation in order. Per-block failures degrade
// the output but never fail the call; the only error is a context that is
// already done.
func (c *Compiler) Compile(ctx context.Context, msgs []*domain.Message, model *domain.Model) ([]domain.RequestMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs = c.dropNil(ctx, msgs)

	ctx, span := c.tracer.Start(ctx, "compile.conversation", trace.WithAttributes(
		attribute.String("model.id", modelID(model)),
		attribute.Int("conversation.messages", len(msgs)),
		attribute.String("compiler.tool_policy", string(c.strategy)),
	))
	defer span.End()

	cache := toolpair.NewIDCache()
	defer cache.Clear()

	perMessage := make([][]domain.RequestMessage, len(msgs))
	out := make([]domain.RequestMessage, 0, len(msgs))
	for i, msg := range msgs {
		perMessage[i] = c.CompileMessage(ctx, msg, model, cache)
		out = append(out, perMessage[i]...)
	}

	if len(msgs) >= minEnhancementMessages && c.caps != nil && c.caps.IsImageEnhancementModel(model) {
		out = c.enhance(ctx, msgs, perMessage, out)
		span.AddEvent("image_enhancement_override")
	}

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("request.messages", len(out)))
	return out, nil
}

// enhance reduces the request to the last assistant/user exchange with the
// assistant's images attached to the user's instruction, keeping the first
// system message of the conversation.
func (c *Compiler) enhance(ctx context.Context, msgs []*domain.Message, perMessage [][]domain.RequestMessage, out []domain.RequestMessage) []domain.RequestMessage {
	n := len(msgs)
	source, instruction := msgs[n-2], msgs[n-1]
	if source.Role != domain.RoleAssistant || instruction.Role != domain.RoleUser {
		c.logger.DebugContext(ctx, "conversation does not end in an assistant/user exchange; skipping image enhancement",
			slog.String("penultimate_role", string(source.Role)),
			slog.String("last_role", string(instruction.Role)),
		)
		return out
	}

	prior := len(out) - len(perMessage[n-2]) - len(perMessage[n-1])

	var images []domain.Part
	var tail []domain.RequestMessage
	for _, m := range perMessage[n-2] {
		if m.Role == domain.RoleAssistant {
			if !m.Content.IsSimpleText() {
				m.Content.Parts, images = splitImages(m.Content.Parts, images)
			}
			if m.Content.IsEmpty() {
				continue
			}
		}
		tail = append(tail, m)
	}
	images = append(images, c.images.MaterializeAll(ctx, c.store.ExtractImages(ctx, source), c.limit)...)

	userAt := -1
	for _, m := range perMessage[n-1] {
		if m.Role == domain.RoleUser {
			userAt = len(tail)
		}
		tail = append(tail, m)
	}
	if userAt >= 0 && len(images) > 0 {
		user := tail[userAt]
		user.Content.Parts = append(append([]domain.Part{}, user.Content.AsParts()...), images...)
		tail[userAt] = user
	}

	c.logger.DebugContext(ctx, "applied image enhancement rewrite", slog.Int("images", len(images)))

	for _, m := range out[:prior] {
		if m.Role == domain.RoleSystem {
			return append([]domain.RequestMessage{m}, tail...)
		}
	}
	return tail
}

// dropNil removes nil entries so positional rules see only real messages.
func (c *Compiler) dropNil(ctx context.Context, msgs []*domain.Message) []*domain.Message {
	kept := make([]*domain.Message, 0, len(msgs))
	for i, msg := range msgs {
		if msg == nil {
			c.logger.WarnContext(ctx, "skipping nil message", slog.Int("index", i))
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}

// splitImages moves image parts from parts to images.
func splitImages(parts, images []domain.Part) (rest, moved []domain.Part) {
	rest = make([]domain.Part, 0, len(parts))
	for _, p := range parts {
		if img, ok := p.(domain.ImagePart); ok {
			images = append(images, img)
			continue
		}
		rest = append(rest, p)
	}
	return rest, images
}

func modelID(model *domain.Model) string {
	if model == nil {
		return ""
	}
	return model.ID
}
