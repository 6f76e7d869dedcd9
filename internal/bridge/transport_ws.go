package bridge

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// wsTransport is the frame-messaging fallback: a websocket connection to a
// relay that forwards frames between peers on the same channel. The relay
// enforces the origin allow-list at upgrade time; the client identifies
// itself with the configured origin.
type wsTransport struct {
	conn  *websocket.Conn
	queue *frameQueue

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newWebSocketTransport(cfg Config, channel string) (*wsTransport, error) {
	u := strings.TrimRight(cfg.RelayURL, "/") + "/channels/" + channel
	header := http.Header{"Origin": []string{cfg.AllowedOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("relay rejected origin %q: %w", cfg.AllowedOrigin, err)
		}
		return nil, fmt.Errorf("relay dial %s: %w", u, err)
	}
	t := &wsTransport{
		conn:   conn,
		queue:  newFrameQueue(),
		closed: make(chan struct{}),
	}
	go t.receive()
	return t, nil
}

func (t *wsTransport) receive() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.queue.close()
			return
		}
		t.queue.enqueue(data)
	}
}

func (t *wsTransport) Name() string { return string(TransportWebSocket) }

func (t *wsTransport) Publish(frame []byte) error {
	select {
	case <-t.closed:
		return errTransportClosed
	default:
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Frames() <-chan []byte { return t.queue.frames() }

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.writeMu.Lock()
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		_ = t.conn.Close()
		t.queue.close()
	})
	return nil
}
