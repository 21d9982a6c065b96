// Package codec materializes content blocks into request parts.
package codec

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

// defaultImageMediaType is used when a data URL's media type cannot be parsed.
const defaultImageMediaType = "image/png"

// ImageFetcher handles fetching remote images and converting them to base64.
type ImageFetcher struct {
	client  *http.Client
	maxSize int64 // Maximum allowed image size in bytes
}

// ImageFetcherOption configures the image fetcher.
type ImageFetcherOption func(*ImageFetcher)

// WithImageHTTPClient sets a custom HTTP client for the fetcher.
func WithImageHTTPClient(client *http.Client) ImageFetcherOption {
	return func(f *ImageFetcher) {
		f.client = client
	}
}

// WithMaxSize sets the maximum allowed image size.
func WithMaxSize(maxSize int64) ImageFetcherOption {
	return func(f *ImageFetcher) {
		f.maxSize = maxSize
	}
}

// NewImageFetcher creates a new image fetcher.
func NewImageFetcher(opts ...ImageFetcherOption) *ImageFetcher {
	f := &ImageFetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxSize: 20 * 1024 * 1024, // 20MB default max
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAndConvert fetches an image from a URL and converts it to an inline
// image part.
func (f *ImageFetcher) FetchAndConvert(ctx context.Context, rawURL string) (*domain.ImagePart, error) {
	if strings.HasPrefix(rawURL, "data:") {
		return parseDataURL(rawURL)
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("%w: must be http:// or https://", domain.ErrUnsupportedScheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}

	if resp.ContentLength > f.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", domain.ErrImageTooLarge, resp.ContentLength, f.maxSize)
	}

	mediaType := resp.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = inferMediaType(rawURL)
	}

	if !isSupportedMediaType(mediaType) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMediaType, mediaType)
	}

	limitReader := io.LimitReader(resp.Body, f.maxSize+1)
	data, err := io.ReadAll(limitReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", domain.ErrImageTooLarge, f.maxSize)
	}

	return &domain.ImagePart{
		Data:      base64.StdEncoding.EncodeToString(data),
		MediaType: normalizeMediaType(mediaType),
	}, nil
}

// parseDataURL splits a data URL into its payload and media type.
// Format: data:image/jpeg;base64,/9j/4AAQSkZ...
// A missing or malformed media type falls back to defaultImageMediaType.
func parseDataURL(rawURL string) (*domain.ImagePart, error) {
	if !strings.HasPrefix(rawURL, "data:") {
		return nil, fmt.Errorf("%w: not a data URL", domain.ErrInvalidDataURL)
	}
	content := rawURL[len("data:"):]

	commaIdx := strings.Index(content, ",")
	if commaIdx == -1 {
		return nil, fmt.Errorf("%w: missing comma separator", domain.ErrInvalidDataURL)
	}

	metadata := content[:commaIdx]
	data := content[commaIdx+1:]
	if data == "" {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrInvalidDataURL)
	}

	params := strings.Split(metadata, ";")
	mediaType := strings.TrimSpace(params[0])
	if !strings.Contains(mediaType, "/") {
		mediaType = defaultImageMediaType
	}

	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
			break
		}
	}

	if !isBase64 {
		decoded, err := url.PathUnescape(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidDataURL, err)
		}
		data = base64.StdEncoding.EncodeToString([]byte(decoded))
	}

	return &domain.ImagePart{
		Data:      data,
		MediaType: normalizeMediaType(mediaType),
	}, nil
}

// inferMediaType attempts to infer the media type from a URL or path.
func inferMediaType(rawURL string) string {
	urlLower := strings.ToLower(rawURL)
	if idx := strings.IndexAny(urlLower, "?#"); idx >= 0 {
		urlLower = urlLower[:idx]
	}

	switch {
	case strings.HasSuffix(urlLower, ".jpg") || strings.HasSuffix(urlLower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(urlLower, ".png"):
		return "image/png"
	case strings.HasSuffix(urlLower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(urlLower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg" // Default assumption
	}
}

// isSupportedMediaType checks if the media type is an image type providers accept.
func isSupportedMediaType(mediaType string) bool {
	mainType := strings.Split(mediaType, ";")[0]
	mainType = strings.TrimSpace(strings.ToLower(mainType))

	switch mainType {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

// normalizeMediaType normalizes the media type to a standard format.
func normalizeMediaType(mediaType string) string {
	mainType := strings.Split(mediaType, ";")[0]
	mainType = strings.TrimSpace(strings.ToLower(mainType))

	if mainType == "image/jpg" {
		return "image/jpeg"
	}
	return mainType
}

// ImageMaterializer turns image blocks into image parts.
type ImageMaterializer struct {
	logger   *slog.Logger
	fetcher  *ImageFetcher // non-nil when remote images are inlined
	readFile func(string) ([]byte, error)
}

// ImageOption configures an ImageMaterializer.
type ImageOption func(*ImageMaterializer)

// WithImageLogger sets the diagnostics logger.
func WithImageLogger(logger *slog.Logger) ImageOption {
	return func(m *ImageMaterializer) {
		m.logger = logger
	}
}

// WithRemoteInlining fetches http(s) images and embeds them instead of
// passing the URL through.
func WithRemoteInlining(fetcher *ImageFetcher) ImageOption {
	return func(m *ImageMaterializer) {
		m.fetcher = fetcher
	}
}

// NewImageMaterializer creates an image materializer.
func NewImageMaterializer(opts ...ImageOption) *ImageMaterializer {
	m := &ImageMaterializer{
		logger:   slog.Default(),
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize resolves one image block. Errors are per-block and never fatal
// to a compilation.
func (m *ImageMaterializer) Materialize(ctx context.Context, block *domain.ImageBlock) (*domain.ImagePart, error) {
	switch {
	case block.File != nil && block.File.Path != "":
		data, err := m.readFile(block.File.Path)
		if err != nil {
			return nil, domain.NewMaterializeError(domain.MaterializeImage, block.ID, err)
		}
		mediaType := block.File.MediaType
		if mediaType == "" {
			mediaType = mediaTypeFromPath(block.File.Path)
		}
		return &domain.ImagePart{
			Data:      base64.StdEncoding.EncodeToString(data),
			MediaType: normalizeMediaType(mediaType),
		}, nil

	case strings.HasPrefix(block.URL, "data:"):
		part, err := parseDataURL(block.URL)
		if err != nil {
			return nil, domain.NewMaterializeError(domain.MaterializeImage, block.ID, err)
		}
		return part, nil

	case block.URL != "":
		if m.fetcher != nil {
			part, err := m.fetcher.FetchAndConvert(ctx, block.URL)
			if err == nil {
				return part, nil
			}
			m.logger.DebugContext(ctx, "remote image not inlined, passing URL through",
				slog.String("block_id", block.ID),
				slog.String("error", err.Error()),
			)
		}
		return &domain.ImagePart{URL: block.URL}, nil

	default:
		return nil, domain.NewMaterializeError(domain.MaterializeImage, block.ID,
			fmt.Errorf("image block has neither file nor URL"))
	}
}

// MaterializeAll resolves blocks with at most limit concurrent loads. Failed
// blocks are logged and dropped; the rest keep their original order.
func (m *ImageMaterializer) MaterializeAll(ctx context.Context, blocks []*domain.ImageBlock, limit int) []domain.Part {
	results := mapOrdered(ctx, blocks, limit, func(ctx context.Context, block *domain.ImageBlock) (domain.Part, bool) {
		part, err := m.Materialize(ctx, block)
		if err != nil {
			m.logger.WarnContext(ctx, "dropping image block",
				slog.String("block_id", block.ID),
				slog.String("error", err.Error()),
			)
			return nil, false
		}
		return *part, true
	})
	return results
}

func mediaTypeFromPath(path string) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		return mt
	}
	return inferMediaType(path)
}
