package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PartType represents the type of a request part.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeImage      PartType = "image"
	PartTypeFile       PartType = "file"
	PartTypeReasoning  PartType = "reasoning"
	PartTypeToolCall   PartType = "tool-call"
	PartTypeToolResult PartType = "tool-result"
)

// Part is a single unit of compiled message content. The set of
// implementations is closed.
type Part interface {
	PartType() PartType
	isPart()
}

// TextPart carries plain text.
type TextPart struct {
	Text string `json:"text"`
}

// ImagePart is either an inline base64 payload with its media type or a bare
// URL the provider dereferences itself.
type ImagePart struct {
	Data      string `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	URL       string `json:"url,omitempty"`
}

// FilePart is either an inline base64 document or a provider-side file id.
type FilePart struct {
	Data      string `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Filename  string `json:"filename,omitempty"`
	FileID    string `json:"file_id,omitempty"`
}

// ReasoningPart carries assistant thinking text.
type ReasoningPart struct {
	Text string `json:"text"`
}

// ToolCallPart describes a tool invocation requested by the assistant.
type ToolCallPart struct {
	ID    string          `json:"tool_call_id"`
	Name  string          `json:"tool_name"`
	Input json.RawMessage `json:"input"`
}

// ToolOutputType tags how a tool result should be interpreted.
type ToolOutputType string

const (
	ToolOutputText      ToolOutputType = "text"
	ToolOutputJSON      ToolOutputType = "json"
	ToolOutputErrorText ToolOutputType = "error-text"
)

// ToolOutput is a serialized tool result. For ToolOutputJSON, Value holds
// canonical JSON text.
type ToolOutput struct {
	Type  ToolOutputType `json:"type"`
	Value string         `json:"value"`
}

// ToolResultPart carries the outcome of a tool invocation.
type ToolResultPart struct {
	ID     string     `json:"tool_call_id"`
	Name   string     `json:"tool_name"`
	Output ToolOutput `json:"output"`
}

func (TextPart) PartType() PartType       { return PartTypeText }
func (ImagePart) PartType() PartType      { return PartTypeImage }
func (FilePart) PartType() PartType       { return PartTypeFile }
func (ReasoningPart) PartType() PartType  { return PartTypeReasoning }
func (ToolCallPart) PartType() PartType   { return PartTypeToolCall }
func (ToolResultPart) PartType() PartType { return PartTypeToolResult }

func (TextPart) isPart()       {}
func (ImagePart) isPart()      {}
func (FilePart) isPart()       {}
func (ReasoningPart) isPart()  {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}

// MessageContent can be a simple string or an array of Parts.
// This mirrors providers that accept either form for a message body.
type MessageContent struct {
	Text  string // Simple text content
	Parts []Part // Rich multimodal content
}

// IsSimpleText returns true if the content is just plain text.
func (mc *MessageContent) IsSimpleText() bool {
	return mc.Parts == nil
}

// IsEmpty reports whether there is nothing to send.
func (mc *MessageContent) IsEmpty() bool {
	return mc.Text == "" && len(mc.Parts) == 0
}

// String returns the text content, concatenating all text parts if multimodal.
func (mc *MessageContent) String() string {
	if mc.IsSimpleText() {
		return mc.Text
	}
	var sb strings.Builder
	for _, part := range mc.Parts {
		if tp, ok := part.(TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// AsParts converts simple text content to part-list form in place.
func (mc *MessageContent) AsParts() []Part {
	if mc.IsSimpleText() {
		mc.Parts = []Part{}
		if mc.Text != "" {
			mc.Parts = append(mc.Parts, TextPart{Text: mc.Text})
		}
		mc.Text = ""
	}
	return mc.Parts
}

// MarshalJSON implements json.Marshaler.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.IsSimpleText() {
		return json.Marshal(mc.Text)
	}
	out := make([]json.RawMessage, 0, len(mc.Parts))
	for _, part := range mc.Parts {
		data, err := MarshalPart(part)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	// Try string first
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		mc.Text = str
		mc.Parts = nil
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	parts := make([]Part, 0, len(raws))
	for i, raw := range raws {
		part, err := UnmarshalPart(raw)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		parts = append(parts, part)
	}
	mc.Parts = parts
	mc.Text = ""
	return nil
}

// MarshalPart encodes a part with its "type" discriminator.
func MarshalPart(part Part) ([]byte, error) {
	body, err := json.Marshal(part)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typ, _ := json.Marshal(part.PartType())
	fields["type"] = typ
	return json.Marshal(fields)
}

// UnmarshalPart decodes a part using its "type" discriminator.
func UnmarshalPart(data []byte) (Part, error) {
	var head struct {
		Type PartType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var (
		part Part
		err  error
	)
	switch head.Type {
	case PartTypeText:
		var p TextPart
		err = json.Unmarshal(data, &p)
		part = p
	case PartTypeImage:
		var p ImagePart
		err = json.Unmarshal(data, &p)
		part = p
	case PartTypeFile:
		var p FilePart
		err = json.Unmarshal(data, &p)
		part = p
	case PartTypeReasoning:
		var p ReasoningPart
		err = json.Unmarshal(data, &p)
		part = p
	case PartTypeToolCall:
		var p ToolCallPart
		err = json.Unmarshal(data, &p)
		part = p
	case PartTypeToolResult:
		var p ToolResultPart
		err = json.Unmarshal(data, &p)
		part = p
	default:
		return nil, fmt.Errorf("unknown part type: %q", head.Type)
	}
	if err != nil {
		return nil, err
	}
	return part, nil
}

// RequestMessage is one compiled message of a model request.
type RequestMessage struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

// NewTextMessage creates a message with simple text content.
func NewTextMessage(role Role, text string) RequestMessage {
	return RequestMessage{Role: role, Content: MessageContent{Text: text}}
}

// NewPartsMessage creates a message with multipart content. A nil parts
// argument still produces part-list form.
func NewPartsMessage(role Role, parts ...Part) RequestMessage {
	if parts == nil {
		parts = []Part{}
	}
	return RequestMessage{Role: role, Content: MessageContent{Parts: parts}}
}
