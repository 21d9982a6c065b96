package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/storage"
)

// Store is a SQLite implementation of storage.ConversationStore. Blocks
// are stored as JSON payloads keyed by message and position.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.ConversationStore = (*Store)(nil)

// New opens (or creates) the database at dbPath.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			model TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			role TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS blocks (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_message ON blocks(message_id, type, position)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Import decodes a conversation document into the database.
func (s *Store) Import(ctx context.Context, r io.Reader) (*storage.Conversation, error) {
	conv, blocks, err := storage.DecodeDocument(r)
	if err != nil {
		return nil, err
	}
	if err := s.SaveConversation(ctx, conv, blocks); err != nil {
		return nil, err
	}
	return conv, nil
}

// SaveConversation replaces the conversation and its blocks in one
// transaction. Blocks not referenced by any message are ignored.
func (s *Store) SaveConversation(ctx context.Context, conv *storage.Conversation, blocks []domain.Block) error {
	byID := make(map[string]domain.Block, len(blocks))
	for _, b := range blocks {
		if b.BlockID() == "" {
			return fmt.Errorf("%s block has no id", b.Kind())
		}
		byID[b.BlockID()] = b
	}

	var model []byte
	if conv.Model != nil {
		var err error
		if model, err = json.Marshal(conv.Model); err != nil {
			return fmt.Errorf("failed to marshal model: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Foreign keys are enforced per connection, so clear children explicitly.
	for _, stmt := range []string{
		`DELETE FROM blocks WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`,
		`DELETE FROM messages WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, conv.ID); err != nil {
			return fmt.Errorf("failed to replace conversation: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, model, created_at) VALUES (?, ?, ?)`,
		conv.ID, nullString(model), time.Now(),
	); err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	for i, msg := range conv.Messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, position, role) VALUES (?, ?, ?, ?)`,
			msg.ID, conv.ID, i, string(msg.Role),
		); err != nil {
			return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
		}
		for j, id := range msg.BlockIDs {
			b, ok := byID[id]
			if !ok {
				return fmt.Errorf("message %s references unknown block %s", msg.ID, id)
			}
			payload, err := json.Marshal(b)
			if err != nil {
				return fmt.Errorf("failed to marshal block %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO blocks (id, message_id, position, type, payload) VALUES (?, ?, ?, ?, ?)`,
				id, msg.ID, j, string(b.Kind()), string(payload),
			); err != nil {
				return fmt.Errorf("failed to insert block %s: %w", id, err)
			}
		}
	}

	return tx.Commit()
}

func (s *Store) LoadConversation(ctx context.Context, id string) (*storage.Conversation, error) {
	var model sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT model FROM conversations WHERE id = ?`, id).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	conv := &storage.Conversation{ID: id}
	if model.Valid && model.String != "" {
		conv.Model = &domain.Model{}
		if err := json.Unmarshal([]byte(model.String), conv.Model); err != nil {
			return nil, fmt.Errorf("failed to unmarshal model: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.role, b.id
		FROM messages m
		LEFT JOIN blocks b ON b.message_id = m.id
		WHERE m.conversation_id = ?
		ORDER BY m.position, b.position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var current *domain.Message
	for rows.Next() {
		var msgID, role string
		var blockID sql.NullString
		if err := rows.Scan(&msgID, &role, &blockID); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if current == nil || current.ID != msgID {
			current = &domain.Message{ID: msgID, Role: domain.Role(role), BlockIDs: []string{}}
			conv.Messages = append(conv.Messages, current)
		}
		if blockID.Valid {
			current.BlockIDs = append(current.BlockIDs, blockID.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return conv, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ExtractText(ctx context.Context, msg *domain.Message) string {
	var texts []string
	for _, b := range query[*domain.TextBlock](ctx, s, msg, domain.BlockKindText) {
		texts = append(texts, b.Content)
	}
	return storage.JoinText(texts)
}

func (s *Store) ExtractImages(ctx context.Context, msg *domain.Message) []*domain.ImageBlock {
	return query[*domain.ImageBlock](ctx, s, msg, domain.BlockKindImage)
}

func (s *Store) ExtractFiles(ctx context.Context, msg *domain.Message) []*domain.FileBlock {
	return query[*domain.FileBlock](ctx, s, msg, domain.BlockKindFile)
}

func (s *Store) ExtractReasoning(ctx context.Context, msg *domain.Message) []*domain.ReasoningBlock {
	return query[*domain.ReasoningBlock](ctx, s, msg, domain.BlockKindReasoning)
}

func (s *Store) ExtractTools(ctx context.Context, msg *domain.Message) []*domain.ToolBlock {
	return query[*domain.ToolBlock](ctx, s, msg, domain.BlockKindTool)
}

// query loads a message's blocks of one kind in position order. Read and
// decode failures are logged and yield fewer blocks, never an error.
func query[T domain.Block](ctx context.Context, s *Store, msg *domain.Message, kind domain.BlockKind) []T {
	out := []T{}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM blocks WHERE message_id = ? AND type = ? ORDER BY position`,
		msg.ID, string(kind),
	)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to query blocks",
			slog.String("message_id", msg.ID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			s.logger.WarnContext(ctx, "failed to scan block", slog.String("message_id", msg.ID), slog.String("error", err.Error()))
			continue
		}
		b, err := domain.DecodeBlockPayload(kind, []byte(payload))
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable block", slog.String("block_id", id), slog.String("error", err.Error()))
			continue
		}
		if typed, ok := b.(T); ok {
			out = append(out, typed)
		}
	}
	if err := rows.Err(); err != nil {
		s.logger.WarnContext(ctx, "failed to iterate blocks", slog.String("message_id", msg.ID), slog.String("error", err.Error()))
	}
	return out
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
