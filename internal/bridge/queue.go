package bridge

import "sync"

// frameQueue is an unbounded FIFO between a transport's receive path and the
// bridge's dispatch loop. Unbounded so a burst of token frames is never
// dropped and enqueue never blocks the medium's delivery goroutine; close is
// safe concurrently with enqueue.
type frameQueue struct {
	mu      sync.Mutex
	pending [][]byte
	closed  bool
	signal  chan struct{}

	out  chan []byte
	done chan struct{}
}

func newFrameQueue() *frameQueue {
	q := &frameQueue{
		signal: make(chan struct{}, 1),
		out:    make(chan []byte),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *frameQueue) enqueue(frame []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, frame)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *frameQueue) frames() <-chan []byte { return q.out }

func (q *frameQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()
}

func (q *frameQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		var next []byte
		ok := len(q.pending) > 0
		if ok {
			next = q.pending[0]
			q.pending = q.pending[1:]
		}
		q.mu.Unlock()

		if !ok {
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}
		select {
		case q.out <- next:
		case <-q.done:
			return
		}
	}
}
