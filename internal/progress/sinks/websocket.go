package sinks

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/progress"
)

const (
	wsClientBuffer = 64
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

type wsClient struct {
	conn    *websocket.Conn
	send    chan []progress.Event
	batchID string
	once    sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// WebsocketSink broadcasts events to connected websocket clients. A client
// may pass ?batch={id} to receive a single batch. Clients that fall behind
// lose events rather than slowing the hub.
type WebsocketSink struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewWebsocketSink builds a sink. checkOrigin may be nil to accept any origin.
func NewWebsocketSink(checkOrigin func(*http.Request) bool, logger *zap.Logger) *WebsocketSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WebsocketSink{
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (s *WebsocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{
		conn:    conn,
		send:    make(chan []progress.Event, wsClientBuffer),
		batchID: r.URL.Query().Get("batch"),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.readLoop(c)
	s.writeLoop(c)
}

// readLoop discards client messages and detects disconnects.
func (s *WebsocketSink) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.remove(c)
			return
		}
	}
}

func (s *WebsocketSink) writeLoop(c *wsClient) {
	ping := time.NewTicker(wsPingInterval)
	defer func() {
		ping.Stop()
		s.remove(c)
		_ = c.conn.Close()
	}()
	for {
		select {
		case batch, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			for _, evt := range batch {
				if err := c.conn.WriteJSON(evt); err != nil {
					return
				}
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebsocketSink) remove(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.close()
	}
}

// Clients reports the number of connected clients.
func (s *WebsocketSink) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Consume fans the batch out to every client without blocking.
func (s *WebsocketSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		events := batch
		if c.batchID != "" {
			events = make([]progress.Event, 0, len(batch))
			for _, evt := range batch {
				if evt.BatchID == c.batchID {
					events = append(events, evt)
				}
			}
		}
		if len(events) == 0 {
			continue
		}
		select {
		case c.send <- events:
		default:
			s.logger.Debug("websocket client lagging, dropping events", zap.Int("events", len(events)))
		}
	}
	return nil
}

// Close disconnects every client.
func (s *WebsocketSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
	return nil
}
