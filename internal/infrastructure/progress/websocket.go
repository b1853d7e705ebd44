// Package progress provides a websocket-backed ProgressSink, the optional
// front-end-facing mirror of Runner progress events named in SPEC_FULL.md's
// Domain Stack, grounded on the teacher's hub/observer broadcast pattern
// (internal/infrastructure/websocket before this module's transform): a
// Hub guards its connection set with a plain mutex, and Register,
// Unregister, and Broadcast all take it directly rather than funneling
// through an owning goroutine.
package progress

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ti-toolbox/tit-core/internal/infrastructure/monitoring"
)

// Hub owns a set of websocket connections subscribed to one subject's
// simulation progress and broadcasts ProgressEvents to all of them.
type Hub struct {
	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	maxSend int
}

// NewHub returns an empty Hub. Broadcast sets no write deadline, so a
// slow client holds up the broadcast until its write returns.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// Register adds a connection to the broadcast set.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

// Unregister removes and closes a connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		_ = conn.Close()
	}
}

// Broadcast writes payload to every registered connection. A write error
// on one connection only drops that connection; it never aborts the rest
// of the broadcast, matching the Runner's "one failure is not the whole
// run" discipline at the transport layer.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.Unregister(c)
		}
	}
}

// Sink adapts a Hub into a monitoring.ProgressSink, JSON-encoding every
// ProgressEvent before broadcasting it. Encoding failures are swallowed:
// a malformed event must not take down the Runner, matching spec §4.7's
// "visualization/progress sinks are non-fatal" posture generalized to
// every sink, not just the built-in log one.
type Sink struct {
	hub *Hub
}

// NewSink wraps hub as a ProgressSink.
func NewSink(hub *Hub) *Sink {
	return &Sink{hub: hub}
}

func (s *Sink) OnProgress(ev monitoring.ProgressEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.hub.Broadcast(body)
}
