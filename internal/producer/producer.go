// Package producer runs in the generating context: it drives one SSE
// consumer against the generation endpoint and re-publishes everything it
// reads onto the bridge as stream events, token by token, never batching.
package producer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/antonkrylov/docsync/internal/bridge"
	"github.com/antonkrylov/docsync/internal/sse"
)

// Emitter is the slice of the bridge the producer needs.
type Emitter interface {
	Emit(event string, payload any) error
}

// Config describes one streamed generation operation.
type Config struct {
	Bridge Emitter

	// Endpoint and Body go to the generation endpoint verbatim.
	Endpoint string
	Body     []byte

	// OperationID defaults to a fresh UUID.
	OperationID    string
	TargetPosition int
	OperationType  bridge.OperationType

	Client *http.Client
	Logger *slog.Logger
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Producer owns one operation end to end.
type Producer struct {
	cfg      Config
	consumer *sse.Consumer
	logger   *slog.Logger

	opID   string
	tokens int
}

// New validates the config and prepares the SSE consumer.
func New(cfg Config) (*Producer, error) {
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("producer: bridge is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger
	}
	opID := cfg.OperationID
	if opID == "" {
		opID = uuid.NewString()
	}
	opType := cfg.OperationType
	if opType == "" {
		opType = bridge.OperationInsert
	}
	cfg.OperationType = opType
	p := &Producer{cfg: cfg, logger: logger, opID: opID}
	consumer, err := sse.New(sse.Config{
		Endpoint: cfg.Endpoint,
		Body:     cfg.Body,
		Client:   cfg.Client,
		Logger:   logger,
		OnChunk:  p.emitToken,
	})
	if err != nil {
		return nil, err
	}
	p.consumer = consumer
	return p, nil
}

// OperationID returns the id every event of this operation carries.
func (p *Producer) OperationID() string { return p.opID }

// Status exposes the underlying consumer state.
func (p *Producer) Status() sse.Status { return p.consumer.Status() }

// Run emits the start event, streams until the consumer reaches a terminal
// status, then emits the end event. A cancelled or failed stream still ends
// the operation so the consuming side closes its insertion handle; tokens
// already delivered stay applied there.
func (p *Producer) Run(ctx context.Context) error {
	if err := p.cfg.Bridge.Emit(bridge.EventStreamStart, bridge.StreamStart{
		OperationID:    p.opID,
		TargetPosition: p.cfg.TargetPosition,
		OperationType:  p.cfg.OperationType,
	}); err != nil {
		return err
	}

	if err := p.consumer.Start(ctx); err != nil {
		return err
	}

	status := p.consumer.Status()
	end := bridge.StreamEnd{
		OperationID: p.opID,
		Cancelled:   status != sse.StatusComplete,
		TotalTokens: p.tokens,
	}
	if err := p.cfg.Bridge.Emit(bridge.EventStreamEnd, end); err != nil {
		return err
	}
	p.logger.Info("stream produced",
		"operation", p.opID, "status", status, "tokens", p.tokens)
	if status == sse.StatusError {
		return fmt.Errorf("generation stream failed: %w", p.consumer.Err())
	}
	return nil
}

// Abort cancels the in-flight generation request.
func (p *Producer) Abort() { p.consumer.Abort() }

func (p *Producer) emitToken(fragment string) {
	evt := bridge.StreamToken{
		OperationID: p.opID,
		Token:       fragment,
		Index:       p.tokens,
	}
	if err := p.cfg.Bridge.Emit(bridge.EventStreamToken, evt); err != nil {
		p.logger.Error("emit stream token", "operation", p.opID, "index", evt.Index, "err", err)
		return
	}
	p.tokens++
}
