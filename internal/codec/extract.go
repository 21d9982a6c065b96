package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

// textExtensions lists file extensions read as plain text regardless of the
// declared media type.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".log": true,
	".json": true, ".jsonl": true, ".csv": true, ".tsv": true, ".xml": true,
	".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".conf": true,
	".html": true, ".htm": true, ".css": true, ".svg": true,
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".kt": true, ".swift": true, ".c": true, ".h": true, ".cpp": true,
	".rs": true, ".rb": true, ".php": true, ".sh": true, ".sql": true, ".proto": true,
}

var textMediaTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/yaml":       true,
	"application/x-yaml":     true,
	"application/toml":       true,
	"application/javascript": true,
	"application/x-sh":       true,
	"application/sql":        true,
	"image/svg+xml":          true,
}

// TextExtractor is the default domain.TextExtractor. It reads text-like files
// and decodes UTF-8 or BOM-marked UTF-16 content.
type TextExtractor struct {
	maxSize int64
	open    func(string) (io.ReadCloser, error)
}

var _ domain.TextExtractor = (*TextExtractor)(nil)

// NewTextExtractor creates an extractor that refuses files over maxSize bytes.
func NewTextExtractor(maxSize int64) *TextExtractor {
	if maxSize <= 0 {
		maxSize = 8 * 1024 * 1024
	}
	return &TextExtractor{
		maxSize: maxSize,
		open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// TryTextExtraction implements domain.TextExtractor. The text part is the
// file's display name, a newline, and the trimmed content.
func (e *TextExtractor) TryTextExtraction(ctx context.Context, block *domain.FileBlock) (*domain.TextPart, error) {
	if !isTextLike(block.File) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMediaType, fileMediaType(block.File))
	}

	f, err := e.open(block.File.Path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	data, err := io.ReadAll(io.LimitReader(transform.NewReader(f, decoder), e.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > e.maxSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", domain.ErrFileTooLarge, e.maxSize)
	}
	if looksBinary(data) {
		return nil, fmt.Errorf("%w: content is not valid text", domain.ErrNoExtractableText)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}
	return &domain.TextPart{Text: fileDisplayName(block.File) + "\n" + content}, nil
}

func isTextLike(ref domain.FileRef) bool {
	if textExtensions[strings.ToLower(filepath.Ext(ref.Path))] ||
		textExtensions[strings.ToLower(filepath.Ext(ref.Name))] {
		return true
	}
	mediaType := fileMediaType(ref)
	return strings.HasPrefix(mediaType, "text/") || textMediaTypes[mediaType]
}

// looksBinary reports decoded content that carries NUL bytes or is mostly
// replacement characters, which is what the UTF-8 decoder leaves of binary
// input.
func looksBinary(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	runes, invalid := 0, 0
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError {
			invalid++
		}
		runes++
		data = data[size:]
	}
	return runes > 0 && invalid*10 > runes
}
