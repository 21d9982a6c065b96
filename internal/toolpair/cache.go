// Package toolpair turns tool invocation blocks into matched call and result
// parts with stable identifiers.
package toolpair

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

// IDCache remembers synthesized tool-call ids for blocks that carry no
// ToolID. One cache belongs to one top-level compilation and must be
// cleared when it ends.
type IDCache struct {
	mu    sync.Mutex
	ids   map[any]string
	newID func() string
}

// NewIDCache creates an empty cache.
func NewIDCache() *IDCache {
	return &IDCache{
		ids: make(map[any]string),
		newID: func() string {
			return "call_" + uuid.NewString()
		},
	}
}

// Resolve returns the call id for block: its ToolID when set, otherwise the
// id cached for the block's identity, otherwise a fresh id that is cached.
func (c *IDCache) Resolve(block *domain.ToolBlock) string {
	if block.ToolID != "" {
		return block.ToolID
	}

	key := cacheKey(block)

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.ids[key]; ok {
		return id
	}
	id := c.newID()
	c.ids[key] = id
	return id
}

// Len returns the number of cached ids.
func (c *IDCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Clear drops every cached id.
func (c *IDCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.ids)
}

// cacheKey is the block's durable id, or the block pointer when the store
// handed out an anonymous block.
func cacheKey(block *domain.ToolBlock) any {
	if block.ID != "" {
		return block.ID
	}
	return block
}
