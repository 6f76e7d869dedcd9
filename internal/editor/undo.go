package editor

import (
	"sync"

	"github.com/klauspost/compress/s2"
)

// Snapshot is an immutable full-document capture. Content is held
// s2-compressed; streamed documents snapshot twice per operation and the
// copies would otherwise double memory for large documents.
type Snapshot struct {
	compressed []byte
}

func newSnapshot(html string) Snapshot {
	return Snapshot{compressed: s2.Encode(nil, []byte(html))}
}

// HTML returns the captured content.
func (s Snapshot) HTML() string {
	out, err := s2.Decode(nil, s.compressed)
	if err != nil {
		// Snapshots are only ever produced by newSnapshot; a decode failure
		// means memory corruption, not bad input.
		panic(err)
	}
	return string(out)
}

// UndoStack is a cursor over an ordered snapshot list. Push appends and
// moves the cursor to the new snapshot; Undo and Redo walk the cursor and
// return the snapshot to restore.
type UndoStack struct {
	mu     sync.Mutex
	stack  []Snapshot
	cursor int
}

// NewUndoStack returns an empty stack.
func NewUndoStack() *UndoStack {
	return &UndoStack{cursor: -1}
}

// Push captures the content and truncates any redo branch.
func (u *UndoStack) Push(html string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stack = append(u.stack[:u.cursor+1], newSnapshot(html))
	u.cursor = len(u.stack) - 1
}

// Undo steps the cursor back and returns the snapshot to restore.
func (u *UndoStack) Undo() (Snapshot, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cursor <= 0 {
		return Snapshot{}, false
	}
	u.cursor--
	return u.stack[u.cursor], true
}

// Redo steps the cursor forward and returns the snapshot to restore.
func (u *UndoStack) Redo() (Snapshot, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cursor < 0 || u.cursor >= len(u.stack)-1 {
		return Snapshot{}, false
	}
	u.cursor++
	return u.stack[u.cursor], true
}

// Len reports how many snapshots the stack holds.
func (u *UndoStack) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.stack)
}
