package codec

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

// HandlePrefix marks a provider-side file handle in a system message.
const HandlePrefix = "fileid://"

// NativeFiles is the default domain.NativeFileConverter. It asks the
// capability tables how a model ingests a document and either embeds the
// bytes or uploads them for a handle.
type NativeFiles struct {
	caps          domain.Capabilities
	uploader      domain.FileUploader
	maxInlineSize int64
	readFile      func(string) ([]byte, error)
	stat          func(string) (os.FileInfo, error)
}

var _ domain.NativeFileConverter = (*NativeFiles)(nil)

// NativeFilesOption configures NativeFiles.
type NativeFilesOption func(*NativeFiles)

// WithUploader enables handle mode. Without an uploader, handle-mode models
// fall back to text extraction.
func WithUploader(u domain.FileUploader) NativeFilesOption {
	return func(n *NativeFiles) {
		n.uploader = u
	}
}

// WithMaxInlineSize caps the size of embedded documents.
func WithMaxInlineSize(size int64) NativeFilesOption {
	return func(n *NativeFiles) {
		n.maxInlineSize = size
	}
}

// NewNativeFiles creates a native file converter backed by caps.
func NewNativeFiles(caps domain.Capabilities, opts ...NativeFilesOption) *NativeFiles {
	n := &NativeFiles{
		caps:          caps,
		maxInlineSize: 32 * 1024 * 1024,
		readFile:      os.ReadFile,
		stat:          os.Stat,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// TryNativeFilePart implements domain.NativeFileConverter.
func (n *NativeFiles) TryNativeFilePart(ctx context.Context, block *domain.FileBlock, model *domain.Model) (*domain.NativeFile, error) {
	if model == nil || n.caps == nil {
		return nil, nil
	}
	mediaType := fileMediaType(block.File)

	switch n.caps.NativeFileMode(model, mediaType) {
	case domain.NativeFileInline:
		info, err := n.stat(block.File.Path)
		if err != nil {
			return nil, fmt.Errorf("stat file: %w", err)
		}
		if info.Size() > n.maxInlineSize {
			return nil, fmt.Errorf("%w: %d bytes (max %d)", domain.ErrFileTooLarge, info.Size(), n.maxInlineSize)
		}
		data, err := n.readFile(block.File.Path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return &domain.NativeFile{Part: &domain.FilePart{
			Data:      base64.StdEncoding.EncodeToString(data),
			MediaType: mediaType,
			Filename:  fileDisplayName(block.File),
		}}, nil

	case domain.NativeFileHandle:
		if n.uploader == nil {
			return nil, nil
		}
		id, err := n.uploader.Upload(ctx, block.File, model)
		if err != nil {
			return nil, fmt.Errorf("upload file: %w", err)
		}
		if id == "" {
			return nil, nil
		}
		return &domain.NativeFile{Handle: HandlePrefix + id}, nil

	default:
		return nil, nil
	}
}

func fileMediaType(ref domain.FileRef) string {
	if ref.MediaType != "" {
		return normalizeMediaType(ref.MediaType)
	}
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(ref.Path))); mt != "" {
		return normalizeMediaType(mt)
	}
	return "application/octet-stream"
}

func fileDisplayName(ref domain.FileRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return filepath.Base(ref.Path)
}
