package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
	"github.com/tjfontaine/polyglot-chat-compiler/internal/storage"
)

// Store is an in-memory implementation of storage.ConversationStore.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*storage.Conversation
	blocks        map[string]domain.Block
}

var _ storage.ConversationStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		conversations: make(map[string]*storage.Conversation),
		blocks:        make(map[string]domain.Block),
	}
}

// Import decodes a conversation document into the store.
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

// SaveConversation stores conv and its blocks, replacing an existing
// conversation with the same id.
func (s *Store) SaveConversation(ctx context.Context, conv *storage.Conversation, blocks []domain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range blocks {
		if b.BlockID() == "" {
			return fmt.Errorf("%s block has no id", b.Kind())
		}
	}
	for _, b := range blocks {
		s.blocks[b.BlockID()] = b
	}
	s.conversations[conv.ID] = conv
	return nil
}

func (s *Store) LoadConversation(ctx context.Context, id string) (*storage.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return conv, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) ExtractText(ctx context.Context, msg *domain.Message) string {
	var texts []string
	for _, b := range collect[*domain.TextBlock](s, msg) {
		texts = append(texts, b.Content)
	}
	return storage.JoinText(texts)
}

func (s *Store) ExtractImages(ctx context.Context, msg *domain.Message) []*domain.ImageBlock {
	return collect[*domain.ImageBlock](s, msg)
}

func (s *Store) ExtractFiles(ctx context.Context, msg *domain.Message) []*domain.FileBlock {
	return collect[*domain.FileBlock](s, msg)
}

func (s *Store) ExtractReasoning(ctx context.Context, msg *domain.Message) []*domain.ReasoningBlock {
	return collect[*domain.ReasoningBlock](s, msg)
}

func (s *Store) ExtractTools(ctx context.Context, msg *domain.Message) []*domain.ToolBlock {
	return collect[*domain.ToolBlock](s, msg)
}

// collect returns the message's blocks of type T in authoring order.
// Dangling block ids are skipped.
func collect[T domain.Block](s *Store, msg *domain.Message) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []T{}
	for _, id := range msg.BlockIDs {
		if b, ok := s.blocks[id].(T); ok {
			out = append(out, b)
		}
	}
	return out
}
