// Package capability answers which models can see images, edit images, or
// ingest documents natively.
package capability

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/pkg/config"
)

// Matcher matches model ids against exact names, prefixes and regular
// expressions. Matching is case-insensitive.
type Matcher struct {
	prefixes []string
	exact    []string
	patterns []*regexp.Regexp
}

// NewMatcher compiles a matcher from config.
func NewMatcher(cfg config.MatcherConfig) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range cfg.Prefixes {
		m.prefixes = append(m.prefixes, strings.ToLower(p))
	}
	for _, e := range cfg.Exact {
		m.exact = append(m.exact, strings.ToLower(e))
	}
	for _, expr := range cfg.Patterns {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("invalid model pattern %q: %w", expr, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Matches returns true if the model id matches any rule.
func (m *Matcher) Matches(modelID string) bool {
	if m == nil || modelID == "" {
		return false
	}
	id := normalizeModelID(modelID)

	for _, e := range m.exact {
		if id == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	for _, re := range m.patterns {
		if re.MatchString(id) {
			return true
		}
	}
	return false
}

// normalizeModelID lowercases the id and drops a "provider/" routing prefix.
func normalizeModelID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		id = id[idx+1:]
	}
	return id
}

type nativeRule struct {
	matcher    *Matcher
	mode       domain.NativeFileMode
	mediaTypes map[string]bool // empty means any
}

// Registry implements domain.Capabilities from configured model tables.
type Registry struct {
	vision      *Matcher
	enhancement *Matcher
	nativeFiles []nativeRule
}

var _ domain.Capabilities = (*Registry)(nil)

// NewRegistry builds a registry from the models section of the config.
// Empty sections fall back to the built-in tables.
func NewRegistry(cfg config.ModelsConfig) (*Registry, error) {
	defaults := DefaultModels()
	if cfg.Vision.IsZero() {
		cfg.Vision = defaults.Vision
	}
	if cfg.ImageEnhancement.IsZero() {
		cfg.ImageEnhancement = defaults.ImageEnhancement
	}
	if len(cfg.NativeFiles) == 0 {
		cfg.NativeFiles = defaults.NativeFiles
	}

	vision, err := NewMatcher(cfg.Vision)
	if err != nil {
		return nil, fmt.Errorf("vision models: %w", err)
	}
	enhancement, err := NewMatcher(cfg.ImageEnhancement)
	if err != nil {
		return nil, fmt.Errorf("image enhancement models: %w", err)
	}

	r := &Registry{vision: vision, enhancement: enhancement}
	for i, rule := range cfg.NativeFiles {
		matcher, err := NewMatcher(rule.Match)
		if err != nil {
			return nil, fmt.Errorf("native file rule %d: %w", i, err)
		}
		mode := domain.NativeFileMode(rule.Mode)
		if mode != domain.NativeFileInline && mode != domain.NativeFileHandle {
			return nil, fmt.Errorf("native file rule %d: unknown mode %q", i, rule.Mode)
		}
		types := make(map[string]bool, len(rule.MediaTypes))
		for _, mt := range rule.MediaTypes {
			types[strings.ToLower(mt)] = true
		}
		r.nativeFiles = append(r.nativeFiles, nativeRule{matcher: matcher, mode: mode, mediaTypes: types})
	}
	return r, nil
}

// IsVisionCapable reports whether the model accepts image input.
func (r *Registry) IsVisionCapable(model *domain.Model) bool {
	if model == nil {
		return false
	}
	if model.Has(domain.CapabilityVision) {
		return true
	}
	return r.vision.Matches(model.ID)
}

// IsImageEnhancementModel reports whether the model edits a prior image.
func (r *Registry) IsImageEnhancementModel(model *domain.Model) bool {
	if model == nil {
		return false
	}
	if model.Has(domain.CapabilityImageEnhancement) {
		return true
	}
	return r.enhancement.Matches(model.ID)
}

// NativeFileMode returns the first matching rule's mode for mediaType.
func (r *Registry) NativeFileMode(model *domain.Model, mediaType string) domain.NativeFileMode {
	if model == nil {
		return domain.NativeFileNone
	}
	mediaType = strings.ToLower(strings.TrimSpace(strings.Split(mediaType, ";")[0]))
	for _, rule := range r.nativeFiles {
		if !rule.matcher.Matches(model.ID) {
			continue
		}
		if len(rule.mediaTypes) > 0 && !rule.mediaTypes[mediaType] {
			continue
		}
		return rule.mode
	}
	return domain.NativeFileNone
}
