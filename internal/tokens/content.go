package tokens

import (
	"encoding/base64"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

const (
	// imageTokens is the flat cost of one image at low detail.
	imageTokens = 85
	// callOverhead and resultOverhead cover tool call/result framing.
	callOverhead   = 3
	resultOverhead = 2
)

// segments splits a compiled message into the text that is tokenized and a
// flat token cost for content that is not sent as text.
func segments(msg domain.RequestMessage) (texts []string, flat int) {
	if msg.Content.IsSimpleText() {
		return []string{msg.Content.Text}, 0
	}
	for _, part := range msg.Content.Parts {
		switch p := part.(type) {
		case domain.TextPart:
			texts = append(texts, p.Text)
		case domain.ReasoningPart:
			texts = append(texts, p.Text)
		case domain.ImagePart:
			flat += imageTokens
		case domain.FilePart:
			texts = append(texts, p.Filename)
			// Document bytes are billed roughly as their decoded size in text.
			flat += base64.StdEncoding.DecodedLen(len(p.Data)) / 4
		case domain.ToolCallPart:
			texts = append(texts, p.Name, string(p.Input))
			flat += callOverhead
		case domain.ToolResultPart:
			texts = append(texts, p.Output.Value)
			flat += resultOverhead
		}
	}
	return texts, flat
}
