package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/apmd/internal/job"
)

// Compile-time interface guard.
var _ job.Observer = (*Hub)(nil)

const eventWriteTimeout = 5 * time.Second

// Event is the message sent to websocket subscribers.
type Event struct {
	Type       string         `json:"type"`
	Transition job.Transition `json:"transition"`
}

type subscriber struct {
	ch chan []byte
}

// Hub fans job transitions out to websocket subscribers. Delivery is best
// effort: a subscriber whose buffer is full misses events.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	buffer int
	logger *slog.Logger
}

// NewHub creates a Hub with the given per-subscriber buffer size.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
		logger: logger.With("component", "gateway.events"),
	}
}

// ObserveTransition implements job.Observer. It never blocks.
func (h *Hub) ObserveTransition(t job.Transition) {
	data, err := json.Marshal(Event{Type: "job.transition", Transition: t})
	if err != nil {
		h.logger.Error("marshal event failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- data:
		default:
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}

func (h *Hub) subscribe() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	s := &subscriber{ch: make(chan []byte, h.buffer)}
	h.subs[s] = struct{}{}
	return s, true
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	s, ok := h.subscribe()
	if !ok {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unsubscribe(s)

	// Subscribers only listen; CloseRead handles control frames and cancels
	// ctx when the client disconnects.
	ctx := conn.CloseRead(r.Context())
	h.logger.Debug("event subscriber connected", "remote_addr", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event subscriber disconnected", "remote_addr", r.RemoteAddr)
			return
		case data, ok := <-s.ch:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, conn, data); err != nil {
				h.logger.Warn("write event failed", "error", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
