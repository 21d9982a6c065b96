// Package compiler turns stored conversation messages into the ordered,
// provider-agnostic request messages a model API consumes.
package compiler

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/codec"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/toolpair"
)

const tracerName = "github.com/tjfontaine/polyglot-chat-compiler/internal/compiler"

// DefaultMaxConcurrency bounds block loads per message when no limit is
// configured.
const DefaultMaxConcurrency = 4

// Compiler compiles messages for a target model. It holds no per-call
// state and is safe for concurrent use.
type Compiler struct {
	store    domain.BlockStore
	caps     domain.Capabilities
	images   *codec.ImageMaterializer
	files    *codec.FileMaterializer
	strategy toolpair.Strategy
	limit    int
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// WithImageMaterializer replaces the default image materializer.
func WithImageMaterializer(m *codec.ImageMaterializer) Option {
	return func(c *Compiler) {
		c.images = m
	}
}

// WithFileMaterializer replaces the default file materializer, which only
// extracts text.
func WithFileMaterializer(m *codec.FileMaterializer) Option {
	return func(c *Compiler) {
		c.files = m
	}
}

// WithToolStrategy selects how assistant tool blocks are emitted.
func WithToolStrategy(s toolpair.Strategy) Option {
	return func(c *Compiler) {
		c.strategy = s
	}
}

// WithMaxConcurrency bounds concurrent block loads within one message.
func WithMaxConcurrency(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithTracerProvider sets the provider for compile spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Compiler) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// New creates a Compiler reading blocks from store and answering capability
// questions with caps.
func New(store domain.BlockStore, caps domain.Capabilities, opts ...Option) *Compiler {
	c := &Compiler{
		store:    store,
		caps:     caps,
		strategy: toolpair.PreferResult,
		limit:    DefaultMaxConcurrency,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.images == nil {
		c.images = codec.NewImageMaterializer(codec.WithImageLogger(c.logger))
	}
	if c.files == nil {
		c.files = codec.NewFileMaterializer(codec.WithFileLogger(c.logger))
	}
	return c
}
