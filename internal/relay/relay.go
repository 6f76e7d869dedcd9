// Package relay is the rendezvous point for the websocket bridge transport:
// it upgrades one connection per peer per channel and forwards every frame to
// the other live peers on that channel. No history is kept; a peer that
// joins after a frame was sent never sees it.
package relay

import (
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Config configures the relay.
type Config struct {
	// AllowedOrigins is the exact-match origin allow-list enforced at
	// upgrade time. Required: an empty list refuses every peer.
	AllowedOrigins []string

	Logger *slog.Logger
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Server forwards frames between websocket peers grouped by channel name.
type Server struct {
	logger   *slog.Logger
	origins  map[string]bool
	upgrader websocket.Upgrader

	mu       sync.Mutex
	channels map[string]map[*peer]bool
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) send(messageType int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(messageType, data)
}

// New builds a relay server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger
	}
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	s := &Server{
		logger:   logger,
		origins:  origins,
		channels: make(map[string]map[*peer]bool),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.origins[r.Header.Get("Origin")]
		},
	}
	return s
}

// Router exposes the relay routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/channels/{channel}", s.handleChannel)
	return r
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response (403 on origin mismatch).
		s.logger.Warn("relay upgrade refused",
			"channel", channel, "origin", r.Header.Get("Origin"), "err", err)
		return
	}
	p := &peer{conn: conn}
	s.join(channel, p)
	s.logger.Debug("relay peer joined", "channel", channel)
	defer func() {
		s.leave(channel, p)
		_ = conn.Close()
		s.logger.Debug("relay peer left", "channel", channel)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.forward(channel, p, messageType, data)
	}
}

func (s *Server) join(channel string, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[channel] == nil {
		s.channels[channel] = make(map[*peer]bool)
	}
	s.channels[channel][p] = true
}

func (s *Server) leave(channel string, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.channels[channel]; set != nil {
		delete(set, p)
		if len(set) == 0 {
			delete(s.channels, channel)
		}
	}
}

// forward delivers one frame to every other peer on the channel. The sender
// never gets its own frame back.
func (s *Server) forward(channel string, from *peer, messageType int, data []byte) {
	s.mu.Lock()
	targets := make([]*peer, 0, len(s.channels[channel]))
	for p := range s.channels[channel] {
		if p != from {
			targets = append(targets, p)
		}
	}
	s.mu.Unlock()
	for _, p := range targets {
		if err := p.send(messageType, data); err != nil {
			s.logger.Warn("relay forward", "channel", channel, "err", err)
		}
	}
}
