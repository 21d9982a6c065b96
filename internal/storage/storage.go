// Package storage defines the conversation stores the compiler reads blocks
// from, and the JSON conversation document both stores import.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Conversation is an ordered list of messages compiled for one model.
type Conversation struct {
	ID       string
	Model    *domain.Model
	Messages []*domain.Message
}

// ConversationStore persists conversations and serves their blocks to the
// compiler.
type ConversationStore interface {
	domain.BlockStore

	SaveConversation(ctx context.Context, conv *Conversation, blocks []domain.Block) error
	LoadConversation(ctx context.Context, id string) (*Conversation, error)
	Close() error
}

// Document is the JSON form of a conversation with its blocks inlined.
type Document struct {
	ID       string            `json:"id"`
	Model    *domain.Model     `json:"model,omitempty"`
	Messages []DocumentMessage `json:"messages"`
}

// DocumentMessage is one message of a Document. Each block carries a
// "type" discriminator.
type DocumentMessage struct {
	ID     string            `json:"id,omitempty"`
	Role   domain.Role       `json:"role"`
	Blocks []json.RawMessage `json:"blocks"`
}

// DecodeDocument reads a Document and splits it into a conversation and its
// blocks. Messages and blocks without ids get positional ids so tool-call
// ids derived from them stay stable across imports.
func DecodeDocument(r io.Reader) (*Conversation, []domain.Block, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("decode conversation document: %w", err)
	}
	if doc.ID == "" {
		doc.ID = "conversation"
	}

	conv := &Conversation{ID: doc.ID, Model: doc.Model}
	var blocks []domain.Block
	for i, dm := range doc.Messages {
		if !dm.Role.Valid() {
			return nil, nil, fmt.Errorf("message %d: invalid role %q", i, dm.Role)
		}
		msgID := dm.ID
		if msgID == "" {
			msgID = doc.ID + "/" + strconv.Itoa(i)
		}

		msg := &domain.Message{ID: msgID, Role: dm.Role, BlockIDs: make([]string, 0, len(dm.Blocks))}
		for j, raw := range dm.Blocks {
			block, err := domain.UnmarshalBlock(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("message %s block %d: %w", msgID, j, err)
			}
			if block.BlockID() == "" {
				block = domain.WithID(block, msgID+"/"+strconv.Itoa(j))
			}
			msg.BlockIDs = append(msg.BlockIDs, block.BlockID())
			blocks = append(blocks, block)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, blocks, nil
}

// JoinText flattens text block contents the way every store does.
func JoinText(texts []string) string {
	var kept []string
	for _, t := range texts {
		if t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, "\n\n")
}
