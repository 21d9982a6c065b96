package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/capability"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/codec"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/compiler"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/pkg/config"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/storage"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/storage/memory"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/storage/sqlite"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/telemetry"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/tokens"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/toolpair"
)

// output is what the command prints.
type output struct {
	Request domain.Request             `json:"request"`
	Usage   *domain.TokenCountResponse `json:"usage,omitempty"`
}

type options struct {
	configPath     string
	dbPath         string
	conversationID string
	modelID        string
	toolPolicy     string
	capabilities   string
	noTokens       bool
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML config file")
	fs.StringVar(&opts.dbPath, "db", "", "sqlite database to read from (and import into)")
	fs.StringVar(&opts.conversationID, "conversation", "", "conversation id to load from -db")
	fs.StringVar(&opts.modelID, "model", "", "target model id (overrides the document)")
	fs.StringVar(&opts.toolPolicy, "tool-policy", "", "prefer_result, independent or replay (overrides config)")
	fs.StringVar(&opts.capabilities, "capabilities", "", "comma-separated model capability overrides (vision,image_enhancement)")
	fs.BoolVar(&opts.noTokens, "no-tokens", false, "skip the token estimate")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return opts, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, rest, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.dbPath != "" {
		cfg.Storage.Type = "sqlite"
		cfg.Storage.SQLite.Path = opts.dbPath
	}
	if opts.toolPolicy != "" {
		cfg.Compiler.ToolPolicy = opts.toolPolicy
	}

	logger := newLogger(cfg.Logging, stderr)

	tp := telemetry.Disabled()
	if cfg.Telemetry.Enabled {
		var shutdown func(context.Context) error
		tp, shutdown, err = telemetry.InitTracer(cfg.Telemetry.ServiceName, stderr, logger)
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	store, conv, err := openConversation(ctx, cfg, opts, rest, stdin, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	model := resolveModel(conv.Model, opts)
	if model == nil {
		return errors.New("no target model: set -model or \"model\" in the document")
	}

	c, err := buildCompiler(cfg, store, tp, logger)
	if err != nil {
		return err
	}

	messages, err := c.Compile(ctx, conv.Messages, model)
	if err != nil {
		return fmt.Errorf("compile conversation %s: %w", conv.ID, err)
	}

	out := output{Request: domain.Request{Model: model.ID, Messages: messages}}
	if !opts.noTokens {
		usage, err := tokens.NewDefaultRegistry().CountTokens(ctx, &domain.TokenCountRequest{
			Model:    model.ID,
			Messages: messages,
		})
		if err != nil {
			logger.Warn("token estimate failed", slog.String("error", err.Error()))
		} else {
			out.Usage = usage
		}
	}

	logger.Info("compiled conversation",
		slog.String("conversation_id", conv.ID),
		slog.String("model", model.ID),
		slog.Int("source_messages", len(conv.Messages)),
		slog.Int("request_messages", len(messages)),
	)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}

// openConversation picks the store from config. A document argument is
// imported first; with sqlite it is persisted for later runs.
func openConversation(ctx context.Context, cfg *config.Config, opts *options, rest []string, stdin io.Reader, logger *slog.Logger) (storage.ConversationStore, *storage.Conversation, error) {
	var doc io.Reader
	if len(rest) > 0 {
		if rest[0] == "-" {
			doc = stdin
		} else {
			f, err := os.Open(rest[0])
			if err != nil {
				return nil, nil, fmt.Errorf("open document: %w", err)
			}
			defer f.Close()
			doc = f
		}
	}

	switch cfg.Storage.Type {
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			return nil, nil, errors.New("storage.sqlite.path is required for sqlite storage")
		}
		store, err := sqlite.New(cfg.Storage.SQLite.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		id := opts.conversationID
		if doc != nil {
			conv, err := store.Import(ctx, doc)
			if err != nil {
				store.Close()
				return nil, nil, err
			}
			if id == "" {
				id = conv.ID
			}
		}
		if id == "" {
			store.Close()
			return nil, nil, errors.New("-conversation is required when no document is given")
		}
		conv, err := store.LoadConversation(ctx, id)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, conv, nil

	case "json", "memory", "":
		if doc == nil {
			return nil, nil, errors.New("a conversation document (or - for stdin) is required")
		}
		store := memory.New()
		conv, err := store.Import(ctx, doc)
		if err != nil {
			return nil, nil, err
		}
		return store, conv, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}

func resolveModel(fromDoc *domain.Model, opts *options) *domain.Model {
	var model *domain.Model
	if fromDoc != nil {
		m := *fromDoc
		model = &m
	}
	if opts.modelID != "" {
		if model == nil || model.ID != opts.modelID {
			model = &domain.Model{ID: opts.modelID}
		}
	}
	if model != nil && opts.capabilities != "" {
		for _, c := range strings.Split(opts.capabilities, ",") {
			if c = strings.TrimSpace(c); c != "" {
				model.Capabilities = append(model.Capabilities, domain.Capability(c))
			}
		}
	}
	return model
}

func buildCompiler(cfg *config.Config, store domain.BlockStore, tp trace.TracerProvider, logger *slog.Logger) (*compiler.Compiler, error) {
	registry, err := capability.NewRegistry(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("build capability registry: %w", err)
	}

	strategy, err := toolpair.ParseStrategy(cfg.Compiler.ToolPolicy)
	if err != nil {
		return nil, err
	}

	imageOpts := []codec.ImageOption{codec.WithImageLogger(logger)}
	if cfg.Images.InlineRemote {
		timeout, err := time.ParseDuration(cfg.Images.FetchTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid images.fetch_timeout: %w", err)
		}
		imageOpts = append(imageOpts, codec.WithRemoteInlining(codec.NewImageFetcher(
			codec.WithImageHTTPClient(&http.Client{Timeout: timeout}),
			codec.WithMaxSize(cfg.Images.MaxSize),
		)))
	}

	files := codec.NewFileMaterializer(
		codec.WithNativeConverter(codec.NewNativeFiles(registry, codec.WithMaxInlineSize(cfg.Files.MaxInlineSize))),
		codec.WithTextExtractor(codec.NewTextExtractor(cfg.Files.MaxExtractSize)),
		codec.WithFileLogger(logger),
	)

	return compiler.New(store, registry,
		compiler.WithLogger(logger),
		compiler.WithImageMaterializer(codec.NewImageMaterializer(imageOpts...)),
		compiler.WithFileMaterializer(files),
		compiler.WithToolStrategy(strategy),
		compiler.WithMaxConcurrency(cfg.Compiler.MaxConcurrency),
		compiler.WithTracerProvider(tp),
	), nil
}
