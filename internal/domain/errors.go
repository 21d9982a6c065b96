// Package domain provides the conversation and request types shared by the
// compiler and its collaborators.
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedScheme is returned for image URLs that are neither http(s)
	// nor data URLs.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrUnsupportedMediaType is returned when content has a media type the
	// target cannot accept.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrImageTooLarge is returned when a fetched image exceeds the size limit.
	ErrImageTooLarge = errors.New("image too large")

	// ErrFileTooLarge is returned when a file exceeds the inline size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidDataURL is returned for malformed data URLs.
	ErrInvalidDataURL = errors.New("invalid data URL")

	// ErrNoExtractableText is returned when a file yields no usable text.
	ErrNoExtractableText = errors.New("no extractable text")

	// ErrMissingToolResult is returned when a tool-role block has no result.
	ErrMissingToolResult = errors.New("tool block has no result")
)

// MaterializeKind categorizes a per-block materialization failure.
type MaterializeKind string

const (
	MaterializeImage MaterializeKind = "image"
	MaterializeFile  MaterializeKind = "file"
	MaterializeTool  MaterializeKind = "tool"
)

// MaterializeError records why a single block was dropped from a compiled
// message. It never aborts a compilation.
type MaterializeError struct {
	Kind    MaterializeKind
	BlockID string
	Err     error
}

// Error implements the error interface.
func (e *MaterializeError) Error() string {
	return fmt.Sprintf("%s block %s: %v", e.Kind, e.BlockID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *MaterializeError) Unwrap() error {
	return e.Err
}

// NewMaterializeError wraps err for the given block.
func NewMaterializeError(kind MaterializeKind, blockID string, err error) *MaterializeError {
	return &MaterializeError{Kind: kind, BlockID: blockID, Err: err}
}
