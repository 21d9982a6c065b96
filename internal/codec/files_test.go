package codec

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

type stubCaps struct {
	mode domain.NativeFileMode
}

func (s stubCaps) IsVisionCapable(*domain.Model) bool         { return true }
func (s stubCaps) IsImageEnhancementModel(*domain.Model) bool { return false }
func (s stubCaps) NativeFileMode(*domain.Model, string) domain.NativeFileMode {
	return s.mode
}

type stubUploader struct {
	id    string
	err   error
	calls int
}

func (u *stubUploader) Upload(ctx context.Context, file domain.FileRef, model *domain.Model) (string, error) {
	u.calls++
	return u.id, u.err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestNativeFiles_TryNativeFilePart(t *testing.T) {
	pdf := writeFile(t, "report.pdf", []byte("%PDF-1.7"))
	block := &domain.FileBlock{ID: "f1", File: domain.FileRef{Path: pdf, Name: "Q3 report.pdf"}}
	model := &domain.Model{ID: "test-model"}
	ctx := context.Background()

	t.Run("inline", func(t *testing.T) {
		n := NewNativeFiles(stubCaps{mode: domain.NativeFileInline})
		native, err := n.TryNativeFilePart(ctx, block, model)
		if err != nil {
			t.Fatalf("TryNativeFilePart: %v", err)
		}
		if native == nil || native.Part == nil {
			t.Fatalf("expected a file part, got %+v", native)
		}
		want := domain.FilePart{
			Data:      base64.StdEncoding.EncodeToString([]byte("%PDF-1.7")),
			MediaType: "application/pdf",
			Filename:  "Q3 report.pdf",
		}
		if *native.Part != want {
			t.Errorf("part = %+v, want %+v", *native.Part, want)
		}
	})

	t.Run("inline too large", func(t *testing.T) {
		n := NewNativeFiles(stubCaps{mode: domain.NativeFileInline}, WithMaxInlineSize(4))
		_, err := n.TryNativeFilePart(ctx, block, model)
		if !errors.Is(err, domain.ErrFileTooLarge) {
			t.Errorf("expected ErrFileTooLarge, got %v", err)
		}
	})

	t.Run("handle", func(t *testing.T) {
		up := &stubUploader{id: "file-abc"}
		n := NewNativeFiles(stubCaps{mode: domain.NativeFileHandle}, WithUploader(up))
		native, err := n.TryNativeFilePart(ctx, block, model)
		if err != nil {
			t.Fatalf("TryNativeFilePart: %v", err)
		}
		if native == nil || native.Handle != "fileid://file-abc" {
			t.Errorf("expected handle sentinel, got %+v", native)
		}
	})

	t.Run("handle without uploader falls back", func(t *testing.T) {
		n := NewNativeFiles(stubCaps{mode: domain.NativeFileHandle})
		native, err := n.TryNativeFilePart(ctx, block, model)
		if err != nil || native != nil {
			t.Errorf("expected fallback, got %+v, %v", native, err)
		}
	})

	t.Run("unsupported model falls back", func(t *testing.T) {
		n := NewNativeFiles(stubCaps{mode: domain.NativeFileNone})
		native, err := n.TryNativeFilePart(ctx, block, model)
		if err != nil || native != nil {
			t.Errorf("expected fallback, got %+v, %v", native, err)
		}
	})

	t.Run("no model", func(t *testing.T) {
		n := NewNativeFiles(stubCaps{mode: domain.NativeFileInline})
		native, err := n.TryNativeFilePart(ctx, block, nil)
		if err != nil || native != nil {
			t.Errorf("expected fallback, got %+v, %v", native, err)
		}
	})
}

func TestTextExtractor_TryTextExtraction(t *testing.T) {
	ctx := context.Background()
	e := NewTextExtractor(1024)

	utf16 := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}

	tests := []struct {
		name    string
		file    domain.FileRef
		want    string
		wantNil bool
		wantErr error
	}{
		{
			name: "markdown by extension",
			file: domain.FileRef{Path: writeFile(t, "notes.md", []byte("  # Title\n\nbody \n")), Name: "notes.md"},
			want: "notes.md\n# Title\n\nbody",
		},
		{
			name: "declared text type",
			file: domain.FileRef{Path: writeFile(t, "blob", []byte("plain")), Name: "readme", MediaType: "text/plain"},
			want: "readme\nplain",
		},
		{
			name: "utf8 bom stripped",
			file: domain.FileRef{Path: writeFile(t, "bom.txt", append([]byte{0xEF, 0xBB, 0xBF}, "hello"...))},
			want: "bom.txt\nhello",
		},
		{
			name: "utf16 decoded",
			file: domain.FileRef{Path: writeFile(t, "wide.txt", utf16)},
			want: "wide.txt\nhi",
		},
		{
			name:    "whitespace only",
			file:    domain.FileRef{Path: writeFile(t, "empty.txt", []byte(" \n\t"))},
			wantNil: true,
		},
		{
			name:    "binary media type",
			file:    domain.FileRef{Path: writeFile(t, "scan.pdf", []byte("%PDF"))},
			wantErr: domain.ErrUnsupportedMediaType,
		},
		{
			name:    "binary content",
			file:    domain.FileRef{Path: writeFile(t, "data.txt", []byte{0x00, 0x01, 0x02})},
			wantErr: domain.ErrNoExtractableText,
		},
		{
			name:    "too large",
			file:    domain.FileRef{Path: writeFile(t, "big.txt", bytes.Repeat([]byte("a"), 2048))},
			wantErr: domain.ErrFileTooLarge,
		},
		{
			name:    "missing file",
			file:    domain.FileRef{Path: filepath.Join(t.TempDir(), "gone.txt")},
			wantErr: os.ErrNotExist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			part, err := e.TryTextExtraction(ctx, &domain.FileBlock{ID: tt.name, File: tt.file})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if part != nil {
					t.Errorf("expected nil part, got %+v", part)
				}
				return
			}
			if part == nil || part.Text != tt.want {
				t.Errorf("part = %+v, want text %q", part, tt.want)
			}
		})
	}
}

type failingNative struct{}

func (failingNative) TryNativeFilePart(context.Context, *domain.FileBlock, *domain.Model) (*domain.NativeFile, error) {
	return nil, errors.New("provider rejected document")
}

func TestFileMaterializer_Materialize(t *testing.T) {
	ctx := context.Background()
	txt := writeFile(t, "a.txt", []byte("alpha"))
	pdf := writeFile(t, "b.pdf", []byte("%PDF"))
	model := &domain.Model{ID: "m"}

	t.Run("native part wins", func(t *testing.T) {
		m := NewFileMaterializer(WithNativeConverter(NewNativeFiles(stubCaps{mode: domain.NativeFileInline})))
		res, ok := m.Materialize(ctx, &domain.FileBlock{ID: "b", File: domain.FileRef{Path: pdf}}, model)
		if !ok {
			t.Fatal("block dropped")
		}
		if _, isFile := res.Part.(domain.FilePart); !isFile {
			t.Errorf("expected FilePart, got %T", res.Part)
		}
	})

	t.Run("handle", func(t *testing.T) {
		up := &stubUploader{id: "42"}
		m := NewFileMaterializer(WithNativeConverter(NewNativeFiles(stubCaps{mode: domain.NativeFileHandle}, WithUploader(up))))
		res, ok := m.Materialize(ctx, &domain.FileBlock{ID: "a", File: domain.FileRef{Path: txt}}, model)
		if !ok || res.Handle != "fileid://42" || res.Part != nil {
			t.Errorf("unexpected result %+v (ok=%v)", res, ok)
		}
	})

	t.Run("native error falls back to text", func(t *testing.T) {
		m := NewFileMaterializer(WithNativeConverter(failingNative{}))
		res, ok := m.Materialize(ctx, &domain.FileBlock{ID: "a", File: domain.FileRef{Path: txt}}, model)
		if !ok {
			t.Fatal("block dropped")
		}
		if res.Part != (domain.TextPart{Text: "a.txt\nalpha"}) {
			t.Errorf("unexpected part %+v", res.Part)
		}
	})

	t.Run("no model skips native", func(t *testing.T) {
		up := &stubUploader{id: "42"}
		m := NewFileMaterializer(WithNativeConverter(NewNativeFiles(stubCaps{mode: domain.NativeFileHandle}, WithUploader(up))))
		res, ok := m.Materialize(ctx, &domain.FileBlock{ID: "a", File: domain.FileRef{Path: txt}}, nil)
		if !ok || res.Handle != "" {
			t.Errorf("unexpected result %+v", res)
		}
		if up.calls != 0 {
			t.Errorf("uploader called %d times without a model", up.calls)
		}
	})

	t.Run("unextractable file dropped with warning", func(t *testing.T) {
		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, nil))
		m := NewFileMaterializer(WithFileLogger(logger))
		_, ok := m.Materialize(ctx, &domain.FileBlock{ID: "b", File: domain.FileRef{Path: pdf}}, model)
		if ok {
			t.Fatal("expected block to be dropped")
		}
		if !strings.Contains(logs.String(), "dropping file block") || !strings.Contains(logs.String(), "level=WARN") {
			t.Errorf("expected warning, got %q", logs.String())
		}
	})
}

func TestFileMaterializer_MaterializeAll(t *testing.T) {
	ctx := context.Background()
	m := NewFileMaterializer(WithFileLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	blocks := []*domain.FileBlock{
		{ID: "1", File: domain.FileRef{Path: writeFile(t, "one.txt", []byte("1"))}},
		{ID: "2", File: domain.FileRef{Path: writeFile(t, "two.bin", []byte{0})}},
		{ID: "3", File: domain.FileRef{Path: writeFile(t, "three.txt", []byte("3"))}},
	}

	results := m.MaterializeAll(ctx, blocks, nil, 3)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].BlockID != "1" || results[1].BlockID != "3" {
		t.Errorf("order not preserved: %s, %s", results[0].BlockID, results[1].BlockID)
	}
}
