package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lawsker/lawsker/internal/sequencer"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// wsMessage is a server-to-client websocket message.
//
//	{"type":"snapshot","state":{...}}   sent once on connect
//	{"type":"event","event":{...}}      every sequencer event
//	{"type":"reload","file":"x.html"}   site file changed
//	{"type":"error","error":"..."}      rejected command
type wsMessage struct {
	Type  string              `json:"type"`
	State *sequencer.Snapshot `json:"state,omitempty"`
	Event *sequencer.Event    `json:"event,omitempty"`
	File  string              `json:"file,omitempty"`
	Error string              `json:"error,omitempty"`
}

// wsConn serializes writes to a websocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// close sends a close frame and closes the connection. The read loop of the
// owning handler then exits.
func (c *wsConn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(shutdownGrace))
	_ = c.conn.Close()
}

// checkOrigin accepts same-host pages, requests without an Origin header
// (non-browser clients) and origins allowed by the CORS configuration.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && u.Host == r.Host {
		return true
	}
	for _, o := range s.config.API.GetCORSOrigins() {
		if o == "*" || o == origin {
			return true
		}
	}
	s.logger.Warn("websocket origin rejected", zap.String("origin", origin))
	return false
}

// serveWebSocket streams demo events to the client and applies its commands.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.seq == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "demo not available")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsConn{conn: conn}
	s.registerConnection(c)
	defer s.unregisterConnection(c)

	events, cancel := s.seq.Subscribe()
	snap := s.seq.Snapshot()
	if err := c.writeJSON(wsMessage{Type: "snapshot", State: &snap}); err != nil {
		cancel()
		conn.Close()
		return
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pumpEvents(c, events, done)
	}()

	s.readCommands(c, getClientIP(r))

	close(done)
	cancel()
	wg.Wait()
	conn.Close()
}

// pumpEvents forwards sequencer events and keeps the connection alive with
// pings until done is closed or a write fails.
func (s *Server) pumpEvents(c *wsConn, events <-chan sequencer.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.close(websocket.CloseGoingAway, "demo closed")
				return
			}
			if err := c.writeJSON(wsMessage{Type: "event", Event: &ev}); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// readCommands applies client commands until the connection fails.
func (s *Server) readCommands(c *wsConn, ip string) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = c.writeJSON(wsMessage{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}
		if !s.commands.allow(ip) {
			_ = c.writeJSON(wsMessage{Type: "error", Error: errTooManyCommands.Error()})
			continue
		}
		if err := dispatch(s.seq, cmd); err != nil {
			_ = c.writeJSON(wsMessage{Type: "error", Error: err.Error()})
			continue
		}
		s.logger.Debug("websocket command", zap.String("action", cmd.Action), zap.Int("step", cmd.Step), zap.String("key", cmd.Key))
	}
}
