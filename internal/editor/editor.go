// Package editor is an in-memory document implementing the surface the write
// coordinator consumes: full-content get/set plus incremental streaming
// insertion at a position.
package editor

import (
	"fmt"
	"sync"

	"github.com/antonkrylov/docsync/internal/coordinator"
)

// Memory holds document content as a string. Positions are byte offsets,
// clamped to the document bounds.
type Memory struct {
	mu      sync.Mutex
	content string
	open    *inserter
}

// NewMemory returns an editor seeded with the given content.
func NewMemory(content string) *Memory {
	return &Memory{content: content}
}

// GetHTML returns the current full content.
func (m *Memory) GetHTML() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content
}

// SetHTML overwrites the full content.
func (m *Memory) SetHTML(html string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = html
}

// BeginStreamingInsert opens an insertion point. One insert may be open at a
// time; a second is refused until the first ends.
func (m *Memory) BeginStreamingInsert(position int) (coordinator.StreamInserter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open != nil {
		return nil, fmt.Errorf("editor: streaming insert already open")
	}
	if position < 0 {
		position = 0
	}
	if position > len(m.content) {
		position = len(m.content)
	}
	ins := &inserter{ed: m, position: position}
	m.open = ins
	return ins, nil
}

type inserter struct {
	ed       *Memory
	position int
	written  int
	ended    bool
}

// AppendToken splices the fragment at the live insertion point.
func (i *inserter) AppendToken(token string) error {
	i.ed.mu.Lock()
	defer i.ed.mu.Unlock()
	if i.ended {
		return fmt.Errorf("editor: append after end of streaming insert")
	}
	at := i.position + i.written
	i.ed.content = i.ed.content[:at] + token + i.ed.content[at:]
	i.written += len(token)
	return nil
}

// End closes the insertion point. Idempotent.
func (i *inserter) End() error {
	i.ed.mu.Lock()
	defer i.ed.mu.Unlock()
	if i.ended {
		return nil
	}
	i.ended = true
	i.ed.open = nil
	return nil
}
