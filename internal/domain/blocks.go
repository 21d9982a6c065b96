package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// BlockKind identifies the kind of a content block.
type BlockKind string

const (
	BlockKindText      BlockKind = "text"
	BlockKindImage     BlockKind = "image"
	BlockKindFile      BlockKind = "file"
	BlockKindReasoning BlockKind = "reasoning"
	BlockKindTool      BlockKind = "tool"
)

// Block is one typed unit of message content. The set of implementations is
// closed; switch over the concrete types.
type Block interface {
	BlockID() string
	Kind() BlockKind
	isBlock()
}

// TextBlock holds plain text.
type TextBlock struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (b *TextBlock) BlockID() string { return b.ID }
func (b *TextBlock) Kind() BlockKind { return BlockKindText }
func (*TextBlock) isBlock()          {}

// FileRef points at bytes on local storage.
type FileRef struct {
	Path      string `json:"path"`
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// ImageBlock is either an owned local file (File set) or a remote or inline
// reference (URL set, possibly a base64 data URL).
type ImageBlock struct {
	ID   string   `json:"id"`
	File *FileRef `json:"file,omitempty"`
	URL  string   `json:"url,omitempty"`
}

func (b *ImageBlock) BlockID() string { return b.ID }
func (b *ImageBlock) Kind() BlockKind { return BlockKindImage }
func (*ImageBlock) isBlock()          {}

// FileBlock references an attached document.
type FileBlock struct {
	ID   string  `json:"id"`
	File FileRef `json:"file"`
}

func (b *FileBlock) BlockID() string { return b.ID }
func (b *FileBlock) Kind() BlockKind { return BlockKindFile }
func (*FileBlock) isBlock()          {}

// ReasoningBlock holds assistant "thinking" text.
type ReasoningBlock struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (b *ReasoningBlock) BlockID() string { return b.ID }
func (b *ReasoningBlock) Kind() BlockKind { return BlockKindReasoning }
func (*ReasoningBlock) isBlock()          {}

// ToolStatus is the lifecycle state of a tool invocation.
type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusDone      ToolStatus = "done"
	ToolStatusError     ToolStatus = "error"
	ToolStatusCancelled ToolStatus = "cancelled"
)

// Terminal reports whether the invocation has finished, successfully or not.
func (s ToolStatus) Terminal() bool {
	return s == ToolStatusDone || s == ToolStatusError || s == ToolStatusCancelled
}

// ToolBlock describes one tool invocation. Arguments and Content are kept as
// raw JSON so key order survives serialization.
type ToolBlock struct {
	ID       string `json:"id"`
	ToolID   string `json:"tool_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`

	Arguments json.RawMessage `json:"arguments,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	Status ToolStatus `json:"status,omitempty"`

	// ServerExecuted marks invocations run by the provider itself. They are
	// never replayed into a request.
	ServerExecuted bool `json:"server_executed,omitempty"`
}

func (b *ToolBlock) BlockID() string { return b.ID }
func (b *ToolBlock) Kind() BlockKind { return BlockKindTool }
func (*ToolBlock) isBlock()          {}

// HasResult reports whether the block carries a non-empty result payload.
// A string holding only whitespace counts as empty.
func (b *ToolBlock) HasResult() bool {
	if isNullJSON(b.Content) {
		return false
	}
	trimmed := bytes.TrimSpace(b.Content)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return strings.TrimSpace(s) != ""
		}
	}
	return true
}

// HasArguments reports whether the block carries non-empty arguments.
// An empty object, array or string counts as empty.
func (b *ToolBlock) HasArguments() bool {
	if isNullJSON(b.Arguments) {
		return false
	}
	switch string(bytes.TrimSpace(b.Arguments)) {
	case "{}", "[]", `""`:
		return false
	}
	return true
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// MarshalBlock encodes a block with its "type" discriminator.
func MarshalBlock(b Block) ([]byte, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typ, _ := json.Marshal(b.Kind())
	fields["type"] = typ
	return json.Marshal(fields)
}

// UnmarshalBlock decodes a block using its "type" discriminator.
func UnmarshalBlock(data []byte) (Block, error) {
	var head struct {
		Type BlockKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	return DecodeBlockPayload(head.Type, data)
}

// DecodeBlockPayload decodes a block body whose kind is known.
func DecodeBlockPayload(kind BlockKind, data []byte) (Block, error) {
	var b Block
	switch kind {
	case BlockKindText:
		b = &TextBlock{}
	case BlockKindImage:
		b = &ImageBlock{}
	case BlockKindFile:
		b = &FileBlock{}
	case BlockKindReasoning:
		b = &ReasoningBlock{}
	case BlockKindTool:
		b = &ToolBlock{}
	default:
		return nil, fmt.Errorf("unknown block type: %q", kind)
	}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decode %s block: %w", kind, err)
	}
	return b, nil
}

// WithID returns a copy of b carrying id.
func WithID(b Block, id string) Block {
	switch v := b.(type) {
	case *TextBlock:
		c := *v
		c.ID = id
		return &c
	case *ImageBlock:
		c := *v
		c.ID = id
		return &c
	case *FileBlock:
		c := *v
		c.ID = id
		return &c
	case *ReasoningBlock:
		c := *v
		c.ID = id
		return &c
	case *ToolBlock:
		c := *v
		c.ID = id
		return &c
	default:
		return b
	}
}
