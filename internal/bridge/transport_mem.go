package bridge

import (
	"sync"
)

// Registry tracks in-process peers per channel for the memory transport.
// It is explicit process-scoped state: callers create one, hand it to every
// Bridge that should share a namespace, and drop it when done. Nothing is
// stored globally.
type Registry struct {
	mu    sync.Mutex
	peers map[string]map[*memTransport]bool
}

// NewRegistry creates an empty peer registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]map[*memTransport]bool)}
}

func (r *Registry) add(t *memTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[t.channel] == nil {
		r.peers[t.channel] = make(map[*memTransport]bool)
	}
	r.peers[t.channel][t] = true
}

func (r *Registry) remove(t *memTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set := r.peers[t.channel]; set != nil {
		delete(set, t)
		if len(set) == 0 {
			delete(r.peers, t.channel)
		}
	}
}

// broadcast enqueues the frame on every live peer of the channel except the
// sender. Enqueueing under the registry lock keeps per-producer FIFO order.
func (r *Registry) broadcast(from *memTransport, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for peer := range r.peers[from.channel] {
		if peer == from {
			continue
		}
		peer.queue.enqueue(frame)
	}
}

// memTransport delivers frames between bridges in the same process.
type memTransport struct {
	registry *Registry
	channel  string
	queue    *frameQueue

	mu     sync.Mutex
	closed bool
}

func newMemoryTransport(registry *Registry, channel string) *memTransport {
	t := &memTransport{
		registry: registry,
		channel:  channel,
		queue:    newFrameQueue(),
	}
	registry.add(t)
	return t
}

func (t *memTransport) Name() string { return string(TransportMemory) }

func (t *memTransport) Publish(frame []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errTransportClosed
	}
	// Copy: the caller may reuse the buffer.
	dup := make([]byte, len(frame))
	copy(dup, frame)
	t.registry.broadcast(t, dup)
	return nil
}

func (t *memTransport) Frames() <-chan []byte { return t.queue.frames() }

func (t *memTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.registry.remove(t)
	t.queue.close()
	return nil
}
