// Package bridge is the sole communication path between otherwise isolated
// execution contexts. A Bridge binds to a channel derived from a context
// identifier and exchanges typed events with every other live peer on the
// same channel, over whichever transport construction selected.
package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Config describes one bridge endpoint. Context is required; everything else
// feeds transport selection (see TransportKind).
type Config struct {
	// Context identifies the logical channel. Bridges with equal contexts
	// are peers; bridges with different contexts never see each other.
	Context string

	// Transport forces a variant, or TransportAuto to feature-detect.
	Transport TransportKind

	NATSURL      string
	NATSUser     string
	NATSPassword string

	RedisAddr     string
	RedisPassword string

	// RelayURL and AllowedOrigin configure the websocket fallback. The
	// origin is required there: the relay refuses peers it cannot match.
	RelayURL      string
	AllowedOrigin string

	// Registry enables the in-process transport for same-process peers.
	Registry *Registry

	Logger *slog.Logger
}

// Usage errors are deliberate hard failures so stale bridge references are
// caught during development instead of silently dropping traffic.
var (
	ErrEmitAfterDisconnect      = fmt.Errorf("emit after disconnect")
	ErrSubscribeAfterDisconnect = fmt.Errorf("subscribe after disconnect")
	ErrUnknownEvent             = fmt.Errorf("unknown event")
)

// Handler receives the raw payload of one message. Panics are contained per
// handler and never reach the transport or sibling handlers.
type Handler func(payload json.RawMessage)

type subscription struct {
	id int64
	fn Handler
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Bridge is one endpoint on a channel. Emit and Subscribe are synchronous
// with respect to the caller; delivery to peers is asynchronous.
type Bridge struct {
	channel   string
	sender    string
	transport Transport
	logger    *slog.Logger

	mu           sync.Mutex
	handlers     map[string][]*subscription
	nextSubID    int64
	disconnected bool

	dispatchDone chan struct{}
}

// Connect selects a transport for the configured context and joins the
// channel. Forcing an unavailable transport fails here, never later.
func Connect(cfg Config) (*Bridge, error) {
	if cfg.Context == "" {
		return nil, fmt.Errorf("bridge context is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger
	}
	channel := ChannelName(cfg.Context)
	transport, err := newTransport(cfg, channel)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		channel:      channel,
		sender:       uuid.NewString(),
		transport:    transport,
		logger:       logger,
		handlers:     make(map[string][]*subscription),
		dispatchDone: make(chan struct{}),
	}
	go b.dispatchLoop()
	logger.Debug("bridge connected", "channel", channel, "transport", transport.Name())
	return b, nil
}

// Channel returns the derived channel name.
func (b *Bridge) Channel() string { return b.channel }

// TransportName reports which variant construction selected.
func (b *Bridge) TransportName() string { return b.transport.Name() }

// Emit serializes the payload and broadcasts it to every other live peer on
// the channel. The emitting bridge never receives its own message.
func (b *Bridge) Emit(event string, payload any) error {
	b.mu.Lock()
	disconnected := b.disconnected
	b.mu.Unlock()
	if disconnected {
		return fmt.Errorf("%w: channel %s", ErrEmitAfterDisconnect, b.channel)
	}
	if !knownEvents[event] {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", event, err)
		}
		raw = data
	}
	if err := scanPayload(event, raw); err != nil {
		return err
	}
	frame, err := json.Marshal(Message{
		Channel: b.channel,
		Event:   event,
		Payload: raw,
		Sender:  b.sender,
	})
	if err != nil {
		return err
	}
	return b.transport.Publish(frame)
}

// Subscribe registers a handler for one event name and returns its
// unsubscribe function. Handlers for the same message run in registration
// order.
func (b *Bridge) Subscribe(event string, fn Handler) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: handler is nil", event)
	}
	if !knownEvents[event] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disconnected {
		return nil, fmt.Errorf("%w: channel %s", ErrSubscribeAfterDisconnect, b.channel)
	}
	sub := &subscription{id: b.nextSubID, fn: fn}
	b.nextSubID++
	b.handlers[event] = append(b.handlers[event], sub)
	return func() { b.unsubscribe(event, sub.id) }, nil
}

func (b *Bridge) unsubscribe(event string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[event]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Disconnect releases the transport and drops all handlers. Idempotent.
// Messages in flight at disconnect time are not delivered.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		return
	}
	b.disconnected = true
	b.handlers = make(map[string][]*subscription)
	b.mu.Unlock()
	_ = b.transport.Close()
	<-b.dispatchDone
	b.logger.Debug("bridge disconnected", "channel", b.channel)
}

func (b *Bridge) dispatchLoop() {
	defer close(b.dispatchDone)
	for frame := range b.transport.Frames() {
		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			b.logger.Error("bridge frame decode", "channel", b.channel, "err", err)
			continue
		}
		if msg.Channel != b.channel || msg.Sender == b.sender {
			continue
		}
		b.dispatch(msg)
	}
}

func (b *Bridge) dispatch(msg Message) {
	b.mu.Lock()
	subs := make([]*subscription, len(b.handlers[msg.Event]))
	copy(subs, b.handlers[msg.Event])
	b.mu.Unlock()
	for _, sub := range subs {
		b.invoke(msg, sub)
	}
}

// invoke runs one handler, containing any panic so siblings still see the
// message and nothing propagates to the transport.
func (b *Bridge) invoke(msg Message, sub *subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bridge handler panic",
				"channel", b.channel, "event", msg.Event, "panic", r)
		}
	}()
	sub.fn(msg.Payload)
}
