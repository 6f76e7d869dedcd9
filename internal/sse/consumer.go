// Package sse consumes a chunked generation response as a sequence of typed
// chunks: content fragments, a done sentinel, or an error. The owning context
// re-publishes what it reads onto the message bridge.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// Status is the consumer lifecycle. Terminal states are StatusComplete,
// StatusError and StatusAborted; Reset returns to StatusIdle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusStreaming  Status = "streaming"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
	StatusAborted    Status = "aborted"
)

// doneSentinel is the literal frame some providers send instead of a done field.
const doneSentinel = "[DONE]"

// chunk is one decoded data line from the wire.
type chunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config describes one streaming request.
type Config struct {
	// Endpoint is the generation URL. Required.
	Endpoint string

	// Body is posted as the request body, typically the generation prompt
	// encoded by the caller.
	Body []byte

	// OnChunk observes each content fragment as soon as it parses, before
	// it lands in the accumulator. Optional.
	OnChunk func(fragment string)

	Client *http.Client
	Logger *slog.Logger
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Consumer drives one streaming request at a time. Start blocks until a
// terminal status; Abort and Reset are safe from other goroutines.
type Consumer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	status  Status
	data    strings.Builder
	err     error
	cancel  context.CancelFunc
	aborted bool

	// gen identifies the current run. Reset bumps it, so a run it cancelled
	// cannot overwrite the fresh idle state when its read loop unwinds.
	gen int

	// pending buffers the trailing partial event across reads; a single
	// read may deliver zero, one, or a fractional event.
	pending []byte
}

// New validates the config and returns an idle consumer.
func New(cfg Config) (*Consumer, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("sse: endpoint is required")
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger
	}
	return &Consumer{cfg: cfg, client: client, logger: logger, status: StatusIdle}, nil
}

// Status returns the current lifecycle state.
func (c *Consumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Data returns the accumulated content so far.
func (c *Consumer) Data() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.String()
}

// Err returns the terminal error when Status is StatusError.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Start issues the request and consumes the response until a terminal
// status. Transport and protocol failures surface through Status and Err,
// not as a returned error; the only returned error is calling Start while
// not idle.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusIdle {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("sse: start while %s", status)
	}
	c.status = StatusConnecting
	ctx, c.cancel = context.WithCancel(ctx)
	gen := c.gen
	c.mu.Unlock()

	c.run(ctx, gen)
	return nil
}

// Abort cancels the in-flight request. The terminal status becomes
// StatusAborted, never StatusError, regardless of how the read loop fails
// afterwards. Idempotent and safe on an idle or finished consumer.
func (c *Consumer) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case StatusConnecting, StatusStreaming:
		c.aborted = true
		if c.cancel != nil {
			c.cancel()
		}
	case StatusIdle:
		// Nothing in flight.
	}
}

// Reset cancels anything outstanding and returns to StatusIdle with an
// empty accumulator. A run cancelled this way is superseded: nothing its
// read loop does afterwards can leave idle.
func (c *Consumer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.status = StatusIdle
	c.data.Reset()
	c.err = nil
	c.aborted = false
	c.pending = nil
}

func (c *Consumer) run(ctx context.Context, gen int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(c.cfg.Body))
	if err != nil {
		c.finish(gen, StatusError, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		c.finish(gen, StatusError, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		c.finish(gen, StatusError, fmt.Errorf("generation endpoint %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		return
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if done := c.consume(gen, buf[:n]); done {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Flush whatever is still buffered; a missing blank line
				// before EOF must not swallow the final event.
				if c.consume(gen, []byte("\n\n")) {
					return
				}
				c.finish(gen, StatusComplete, nil)
				return
			}
			c.finish(gen, StatusError, err)
			return
		}
	}
}

// consume appends one read's worth of bytes and parses every complete event
// now available. Returns true once a terminal status was reached.
func (c *Consumer) consume(gen int, data []byte) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return true
	}
	c.pending = append(c.pending, data...)
	var events [][]byte
	for {
		idx := bytes.Index(c.pending, []byte("\n\n"))
		if idx < 0 {
			break
		}
		events = append(events, c.pending[:idx])
		c.pending = c.pending[idx+2:]
	}
	c.mu.Unlock()

	for _, event := range events {
		if done := c.handleEvent(gen, event); done {
			return true
		}
	}
	return false
}

func (c *Consumer) handleEvent(gen int, event []byte) bool {
	for _, line := range strings.Split(string(event), "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			// Other SSE fields (event:, id:, retry:) and comments.
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			c.finish(gen, StatusComplete, nil)
			return true
		}
		var parsed chunk
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			// Not structured data: surface the literal line as content
			// rather than dropping it.
			c.append(gen, payload)
			continue
		}
		// Error beats done when both ride the same chunk.
		if parsed.Error != "" {
			c.finish(gen, StatusError, fmt.Errorf("generation stream: %s", parsed.Error))
			return true
		}
		if parsed.Content != "" {
			c.append(gen, parsed.Content)
		}
		if parsed.Done {
			c.finish(gen, StatusComplete, nil)
			return true
		}
	}
	return false
}

func (c *Consumer) append(gen int, fragment string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.data.WriteString(fragment)
	if c.status == StatusConnecting {
		c.status = StatusStreaming
	}
	c.mu.Unlock()
	if c.cfg.OnChunk != nil {
		c.cfg.OnChunk(fragment)
	}
}

// finish records the terminal status. An abort in flight wins over whatever
// the read loop reports, so a cancelled request never shows up as an error;
// a Reset in flight wins over both and the run's outcome is discarded.
func (c *Consumer) finish(gen int, status Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if c.aborted {
		c.status = StatusAborted
		c.err = nil
		return
	}
	c.status = status
	c.err = err
	if err != nil {
		c.logger.Error("sse terminal", "status", status, "err", err)
	}
}
