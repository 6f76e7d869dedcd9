// Package coordinator applies streamed document mutations delivered over the
// bridge: one state machine per target document, bracketing each streamed
// mutation between two undo snapshots and rejecting conflicting writes while
// a stream is active.
package coordinator

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/antonkrylov/docsync/internal/bridge"
)

// Editor is the document surface the coordinator mutates. Implementations
// live outside this package; internal/editor provides the in-memory one.
type Editor interface {
	// BeginStreamingInsert opens an insertion point at the given position.
	// The document stays readable while the insert is open.
	BeginStreamingInsert(position int) (StreamInserter, error)
	SetHTML(html string)
	GetHTML() string
}

// StreamInserter is a live insertion handle. End restores normal
// editability; tokens appended before End stay applied either way.
type StreamInserter interface {
	AppendToken(token string) error
	End() error
}

// History receives full-document snapshots. The coordinator pushes exactly
// two per stream: one before the first token, one after the terminal event.
type History interface {
	Push(html string)
}

// State is the per-document machine: Idle -> Active -> Idle.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// Outcome is how an operation ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type operation struct {
	id       string
	inserter StreamInserter
	tokens   int
}

// Coordinator drives one document. Handlers are safe for the single-threaded
// dispatch the bridge provides; the mutex additionally covers direct calls
// from tests and callers.
type Coordinator struct {
	editor  Editor
	history History
	logger  *slog.Logger

	mu    sync.Mutex
	state State
	op    *operation
}

// New builds an idle coordinator over the given editor and history.
func New(editor Editor, history History, logger *slog.Logger) (*Coordinator, error) {
	if editor == nil {
		return nil, fmt.Errorf("coordinator: editor is required")
	}
	if history == nil {
		return nil, fmt.Errorf("coordinator: history is required")
	}
	if logger == nil {
		logger = discardLogger
	}
	return &Coordinator{editor: editor, history: history, logger: logger, state: StateIdle}, nil
}

// State returns the current machine state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveOperation returns the operationId currently streaming, or "".
func (c *Coordinator) ActiveOperation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.op == nil {
		return ""
	}
	return c.op.id
}

// HandleStart transitions Idle -> Active: pre-mutation snapshot plus the
// insertion handle. A start while already active is a caller protocol
// error; it is logged and dropped without touching the live operation.
func (c *Coordinator) HandleStart(evt bridge.StreamStart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		c.logger.Error("stream start while active",
			"operation", evt.OperationID, "active", c.op.id)
		return
	}
	// Capture the pre-mutation content before opening the insert, but push
	// it only once the insert is open: a failed begin must not leave a
	// snapshot with no stream to bracket.
	before := c.editor.GetHTML()
	inserter, err := c.editor.BeginStreamingInsert(evt.TargetPosition)
	if err != nil {
		c.logger.Error("begin streaming insert",
			"operation", evt.OperationID, "position", evt.TargetPosition, "err", err)
		return
	}
	c.history.Push(before)
	c.op = &operation{id: evt.OperationID, inserter: inserter}
	c.state = StateActive
}

// HandleToken appends one fragment in the order delivered. Tokens for an
// operation other than the active one are rejected silently and logged.
func (c *Coordinator) HandleToken(evt bridge.StreamToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		c.logger.Warn("stream token while idle", "operation", evt.OperationID, "index", evt.Index)
		return
	}
	if evt.OperationID != c.op.id {
		c.logger.Warn("stream token for foreign operation",
			"operation", evt.OperationID, "active", c.op.id, "index", evt.Index)
		return
	}
	if err := c.op.inserter.AppendToken(evt.Token); err != nil {
		c.logger.Error("append stream token", "operation", evt.OperationID, "err", err)
		return
	}
	c.op.tokens++
}

// HandleEnd closes the active operation. Cancellation is a stop signal, not
// a rollback: applied tokens stay, and the same close/snapshot sequence runs
// so the partial result is undoable as one unit.
func (c *Coordinator) HandleEnd(evt bridge.StreamEnd) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		c.logger.Warn("stream end while idle", "operation", evt.OperationID)
		return
	}
	if evt.OperationID != c.op.id {
		c.logger.Warn("stream end for foreign operation",
			"operation", evt.OperationID, "active", c.op.id)
		return
	}
	if err := c.op.inserter.End(); err != nil {
		c.logger.Error("end streaming insert", "operation", evt.OperationID, "err", err)
	}
	c.history.Push(c.editor.GetHTML())
	outcome := OutcomeCompleted
	if evt.Cancelled {
		outcome = OutcomeCancelled
	}
	c.logger.Info("stream closed",
		"operation", evt.OperationID, "outcome", outcome, "tokens", c.op.tokens)
	c.op = nil
	c.state = StateIdle
}

// HandleReplace swaps full document content. While a stream is active the
// replace is rejected, not queued: the caller retries after the stream ends.
func (c *Coordinator) HandleReplace(evt bridge.DocumentReplaced) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		c.logger.Warn("document replace rejected while streaming",
			"operation", evt.OperationID, "active", c.op.id)
		return
	}
	c.history.Push(c.editor.GetHTML())
	c.editor.SetHTML(evt.HTML)
	c.history.Push(c.editor.GetHTML())
}

// Subscriber is the slice of the bridge the coordinator needs.
type Subscriber interface {
	Subscribe(event string, fn bridge.Handler) (func(), error)
}

// Attach wires the coordinator to a bridge. The returned function removes
// all four subscriptions.
func (c *Coordinator) Attach(sub Subscriber) (func(), error) {
	var offs []func()
	detach := func() {
		for _, off := range offs {
			off()
		}
	}
	wire := func(event string, fn bridge.Handler) error {
		off, err := sub.Subscribe(event, fn)
		if err != nil {
			detach()
			return err
		}
		offs = append(offs, off)
		return nil
	}
	if err := wire(bridge.EventStreamStart, c.decodeStart); err != nil {
		return nil, err
	}
	if err := wire(bridge.EventStreamToken, c.decodeToken); err != nil {
		return nil, err
	}
	if err := wire(bridge.EventStreamEnd, c.decodeEnd); err != nil {
		return nil, err
	}
	if err := wire(bridge.EventDocumentReplaced, c.decodeReplace); err != nil {
		return nil, err
	}
	return detach, nil
}

func (c *Coordinator) decodeStart(payload json.RawMessage) {
	var evt bridge.StreamStart
	if err := json.Unmarshal(payload, &evt); err != nil {
		c.logger.Error("decode stream start", "err", err)
		return
	}
	c.HandleStart(evt)
}

func (c *Coordinator) decodeToken(payload json.RawMessage) {
	var evt bridge.StreamToken
	if err := json.Unmarshal(payload, &evt); err != nil {
		c.logger.Error("decode stream token", "err", err)
		return
	}
	c.HandleToken(evt)
}

func (c *Coordinator) decodeEnd(payload json.RawMessage) {
	var evt bridge.StreamEnd
	if err := json.Unmarshal(payload, &evt); err != nil {
		c.logger.Error("decode stream end", "err", err)
		return
	}
	c.HandleEnd(evt)
}

func (c *Coordinator) decodeReplace(payload json.RawMessage) {
	var evt bridge.DocumentReplaced
	if err := json.Unmarshal(payload, &evt); err != nil {
		c.logger.Error("decode document replace", "err", err)
		return
	}
	c.HandleReplace(evt)
}
