package bridge

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// natsTransport rides NATS core pub/sub with the channel name as the subject.
// NATS preserves per-publisher order on a subject and invokes subscription
// callbacks sequentially, which carries the bridge's FIFO guarantee through
// to the frame queue.
type natsTransport struct {
	conn  *nats.Conn
	sub   *nats.Subscription
	queue *frameQueue

	closeOnce sync.Once
}

func newNATSTransport(cfg Config, channel string) (*natsTransport, error) {
	opts := []nats.Option{nats.Name("docsync-bridge")}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	conn, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
	}
	t := &natsTransport{conn: conn, queue: newFrameQueue()}
	sub, err := conn.Subscribe(channel, func(msg *nats.Msg) {
		t.queue.enqueue(msg.Data)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	t.sub = sub
	return t, nil
}

func (t *natsTransport) Name() string { return string(TransportNATS) }

func (t *natsTransport) Publish(frame []byte) error {
	if t.conn.IsClosed() {
		return errTransportClosed
	}
	return t.conn.Publish(t.sub.Subject, frame)
}

func (t *natsTransport) Frames() <-chan []byte { return t.queue.frames() }

func (t *natsTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.sub.Unsubscribe()
		t.conn.Drain()
		t.conn.Close()
		t.queue.close()
	})
	return nil
}
