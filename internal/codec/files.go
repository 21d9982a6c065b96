package codec

import (
	"context"
	"log/slog"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

// FileResult is the outcome of materializing one file block. Exactly one of
// Part and Handle is set.
type FileResult struct {
	BlockID string
	Part    domain.Part // FilePart (native) or TextPart (extracted)
	Handle  string      // provider-side file handle
}

// FileMaterializer resolves file blocks: native ingestion first when a model
// is known, text extraction otherwise.
type FileMaterializer struct {
	native    domain.NativeFileConverter
	extractor domain.TextExtractor
	logger    *slog.Logger
}

// FileOption configures a FileMaterializer.
type FileOption func(*FileMaterializer)

// WithNativeConverter sets the native file collaborator.
func WithNativeConverter(native domain.NativeFileConverter) FileOption {
	return func(m *FileMaterializer) {
		m.native = native
	}
}

// WithTextExtractor sets the text extraction collaborator.
func WithTextExtractor(extractor domain.TextExtractor) FileOption {
	return func(m *FileMaterializer) {
		m.extractor = extractor
	}
}

// WithFileLogger sets the diagnostics logger.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(m *FileMaterializer) {
		m.logger = logger
	}
}

// NewFileMaterializer creates a file materializer. Without options it only
// performs text extraction with the default extractor.
func NewFileMaterializer(opts ...FileOption) *FileMaterializer {
	m := &FileMaterializer{
		extractor: NewTextExtractor(0),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize resolves one file block. A false result means the block was
// dropped; the reason has already been logged.
func (m *FileMaterializer) Materialize(ctx context.Context, block *domain.FileBlock, model *domain.Model) (FileResult, bool) {
	logger := m.logger.With(slog.String("block_id", block.ID), slog.String("file", fileDisplayName(block.File)))

	if model != nil && m.native != nil {
		native, err := m.native.TryNativeFilePart(ctx, block, model)
		switch {
		case err != nil:
			logger.DebugContext(ctx, "native file ingestion failed, falling back to text extraction",
				slog.String("model", model.ID),
				slog.String("error", err.Error()),
			)
		case native != nil && native.Handle != "":
			return FileResult{BlockID: block.ID, Handle: native.Handle}, true
		case native != nil && native.Part != nil:
			return FileResult{BlockID: block.ID, Part: *native.Part}, true
		}
	}

	if m.extractor == nil {
		logger.WarnContext(ctx, "dropping file block: no text extractor configured")
		return FileResult{}, false
	}

	text, err := m.extractor.TryTextExtraction(ctx, block)
	if err != nil {
		logger.WarnContext(ctx, "dropping file block",
			slog.String("error", domain.NewMaterializeError(domain.MaterializeFile, block.ID, err).Error()),
		)
		return FileResult{}, false
	}
	if text == nil {
		logger.WarnContext(ctx, "dropping file block: no extractable text")
		return FileResult{}, false
	}
	return FileResult{BlockID: block.ID, Part: *text}, true
}

// MaterializeAll resolves blocks with at most limit concurrent loads,
// preserving block order.
func (m *FileMaterializer) MaterializeAll(ctx context.Context, blocks []*domain.FileBlock, model *domain.Model, limit int) []FileResult {
	return mapOrdered(ctx, blocks, limit, func(ctx context.Context, block *domain.FileBlock) (FileResult, bool) {
		return m.Materialize(ctx, block, model)
	})
}
