package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// channelPrefix namespaces every bridge channel so unrelated traffic on a
// shared transport can never collide with ours.
const channelPrefix = "docsync"

// ChannelName derives the transport channel for a context identifier.
// Two bridges built from the same context string are always peers.
func ChannelName(context string) string {
	return fmt.Sprintf("%s-%s", channelPrefix, strings.TrimSpace(context))
}

// Event names exchanged between contexts. The set is closed: Emit rejects
// anything outside it.
const (
	EventStreamStart      = "document_stream_start"
	EventStreamToken      = "document_stream_token"
	EventStreamEnd        = "document_stream_end"
	EventDocumentReplaced = "document_replaced"
	EventSelectionChanged = "selection_changed"
)

var knownEvents = map[string]bool{
	EventStreamStart:      true,
	EventStreamToken:      true,
	EventStreamEnd:        true,
	EventDocumentReplaced: true,
	EventSelectionChanged: true,
}

// Message is the wire envelope. Sender is a per-instance id used by receivers
// to drop their own broadcasts; genuinely broadcast transports (NATS, Redis)
// deliver to the publisher's subscription too.
type Message struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Sender  string          `json:"sender,omitempty"`
}

// OperationType enumerates how a streamed result lands in the document.
type OperationType string

const (
	OperationInsert  OperationType = "insert"
	OperationReplace OperationType = "replace"
	OperationDiff    OperationType = "diff"
)

// StreamStart announces a new streamed mutation against a document position.
type StreamStart struct {
	OperationID    string        `json:"operationId"`
	TargetPosition int           `json:"targetPosition"`
	OperationType  OperationType `json:"operationType"`
}

// StreamToken carries one incremental text fragment. Index is 0-based and
// monotonic per operation.
type StreamToken struct {
	OperationID string `json:"operationId"`
	Token       string `json:"token"`
	Index       int    `json:"index"`
}

// StreamEnd closes an operation. Cancelled means the producer stopped early;
// tokens already delivered stay applied.
type StreamEnd struct {
	OperationID string `json:"operationId"`
	Cancelled   bool   `json:"cancelled"`
	TotalTokens int    `json:"totalTokens"`
}

// DocumentReplaced swaps the full document content outside of a stream.
type DocumentReplaced struct {
	OperationID       string `json:"operationId"`
	HTML              string `json:"html"`
	PreviousVersionID string `json:"previousVersionId,omitempty"`
}

// SelectionChanged mirrors the user's selection to the peer context.
type SelectionChanged struct {
	Text    string `json:"text"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Context string `json:"context,omitempty"`
	Source  string `json:"source"`
}
