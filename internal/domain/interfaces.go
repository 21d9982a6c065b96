package domain

import (
	"context"
)

// BlockStore projects a message's blocks by kind, in authoring order.
// Absent kinds yield empty results, never errors.
type BlockStore interface {
	// ExtractText returns the message's text blocks flattened to one string.
	ExtractText(ctx context.Context, msg *Message) string
	ExtractImages(ctx context.Context, msg *Message) []*ImageBlock
	ExtractFiles(ctx context.Context, msg *Message) []*FileBlock
	ExtractReasoning(ctx context.Context, msg *Message) []*ReasoningBlock
	// ExtractTools is only consulted for assistant and tool messages.
	ExtractTools(ctx context.Context, msg *Message) []*ToolBlock
}

// NativeFileMode describes how a model ingests documents without text
// extraction.
type NativeFileMode string

const (
	// NativeFileNone means the model needs extracted text.
	NativeFileNone NativeFileMode = ""
	// NativeFileInline means the model accepts base64 document bytes.
	NativeFileInline NativeFileMode = "inline"
	// NativeFileHandle means documents are uploaded out-of-band and
	// referenced by an opaque handle.
	NativeFileHandle NativeFileMode = "handle"
)

// Capabilities answers model capability questions.
type Capabilities interface {
	IsVisionCapable(model *Model) bool
	IsImageEnhancementModel(model *Model) bool
	// NativeFileMode returns how the model ingests documents of mediaType.
	NativeFileMode(model *Model, mediaType string) NativeFileMode
}

// NativeFile is the outcome of a successful native file attempt. Exactly one
// of Part and Handle is set.
type NativeFile struct {
	Part   *FilePart
	Handle string
}

// NativeFileConverter attempts provider-native file ingestion. A nil result
// with a nil error means the caller should fall back to text extraction.
type NativeFileConverter interface {
	TryNativeFilePart(ctx context.Context, block *FileBlock, model *Model) (*NativeFile, error)
}

// TextExtractor is the degraded path for files a model cannot ingest
// natively. A nil part with a nil error means nothing usable was found.
type TextExtractor interface {
	TryTextExtraction(ctx context.Context, block *FileBlock) (*TextPart, error)
}

// FileUploader uploads a file to a provider and returns its file id.
type FileUploader interface {
	Upload(ctx context.Context, file FileRef, model *Model) (string, error)
}
