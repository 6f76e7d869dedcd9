package bridge

import (
	"fmt"
	"strings"
)

// TransportKind selects the cross-context delivery primitive.
type TransportKind string

const (
	// TransportAuto feature-detects: the first broadcast-capable transport
	// configured in the environment wins, the websocket relay is the fallback.
	TransportAuto      TransportKind = "auto"
	TransportNATS      TransportKind = "nats"
	TransportRedis     TransportKind = "redis"
	TransportWebSocket TransportKind = "websocket"
	TransportMemory    TransportKind = "memory"
)

// errTransportClosed reports a publish against a released transport.
var errTransportClosed = fmt.Errorf("transport closed")

// Transport is the capability interface behind a Bridge. A transport carries
// opaque frames for exactly one channel; variant selection happens once at
// construction, never inside Emit/Subscribe.
type Transport interface {
	// Publish hands one frame to the medium. Must not block on slow peers.
	Publish(frame []byte) error
	// Frames yields incoming frames in arrival order. The channel is closed
	// when the transport closes.
	Frames() <-chan []byte
	// Close releases the underlying resource. Idempotent.
	Close() error
	// Name identifies the variant for logs and doctor output.
	Name() string
}

// newTransport performs construction-time selection. A forced kind whose
// prerequisites are missing fails immediately; auto walks the preference
// order and picks the first variant the config can actually reach.
func newTransport(cfg Config, channel string) (Transport, error) {
	kind := cfg.Transport
	if kind == "" {
		kind = TransportAuto
	}
	switch kind {
	case TransportNATS:
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("transport %q forced but no NATS URL configured", kind)
		}
		return newNATSTransport(cfg, channel)
	case TransportRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("transport %q forced but no Redis address configured", kind)
		}
		return newRedisTransport(cfg, channel)
	case TransportWebSocket:
		if cfg.RelayURL == "" {
			return nil, fmt.Errorf("transport %q forced but no relay URL configured", kind)
		}
		if cfg.AllowedOrigin == "" {
			return nil, fmt.Errorf("transport %q requires an allowed origin", kind)
		}
		return newWebSocketTransport(cfg, channel)
	case TransportMemory:
		if cfg.Registry == nil {
			return nil, fmt.Errorf("transport %q forced but no peer registry supplied", kind)
		}
		return newMemoryTransport(cfg.Registry, channel), nil
	case TransportAuto:
		switch {
		case cfg.NATSURL != "":
			return newNATSTransport(cfg, channel)
		case cfg.RedisAddr != "":
			return newRedisTransport(cfg, channel)
		case cfg.RelayURL != "":
			if cfg.AllowedOrigin == "" {
				return nil, fmt.Errorf("websocket fallback requires an allowed origin")
			}
			return newWebSocketTransport(cfg, channel)
		case cfg.Registry != nil:
			return newMemoryTransport(cfg.Registry, channel), nil
		default:
			return nil, fmt.Errorf("no transport reachable: configure a NATS URL, Redis address, relay URL, or peer registry")
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q (want %s)", kind,
			strings.Join([]string{string(TransportAuto), string(TransportNATS), string(TransportRedis), string(TransportWebSocket), string(TransportMemory)}, "|"))
	}
}
