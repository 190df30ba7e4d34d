package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"bullionwatch/internal/notify"
	"bullionwatch/internal/rates"
)

const (
	clientBuffer = 8
	writeTimeout = 5 * time.Second
)

// Hub pushes refresh outcomes to connected websocket clients. A new client
// receives the most recent outcome first: the failure when the last refresh
// failed, otherwise the last snapshot stamped fresh or stale.
type Hub struct {
	logger         zerolog.Logger
	originPatterns []string
	ttl            time.Duration
	now            func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *notify.Message
	lastAt  time.Time
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithFreshness sets how long a replayed snapshot counts as fresh. Zero
// keeps every replay fresh.
func WithFreshness(ttl time.Duration, clock func() time.Time) HubOption {
	return func(h *Hub) {
		h.ttl = ttl
		if clock != nil {
			h.now = clock
		}
	}
}

type client struct {
	send chan []byte
}

// NewHub builds an empty hub.
func NewHub(originPatterns []string, logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		logger:         logger.With().Str("component", "ws_hub").Logger(),
		originPatterns: originPatterns,
		now:            time.Now,
		clients:        make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) OnSnapshotReady(s rates.Snapshot) {
	msg := notify.SnapshotMessage(s)
	msg.Status = StatusFresh
	h.publish(msg)
}

func (h *Hub) OnRefreshFailed(err error) {
	h.publish(notify.FailureMessage(err))
}

func (h *Hub) publish(msg notify.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("failed to encode message")
		return
	}
	h.mu.Lock()
	h.last = &msg
	h.lastAt = h.now()
	h.mu.Unlock()
	h.broadcast(data)
}

// replay encodes the last outcome for a joining client. Callers hold h.mu.
func (h *Hub) replay() []byte {
	if h.last == nil {
		return nil
	}
	msg := *h.last
	if msg.Type == notify.TypeSnapshot && h.ttl > 0 && h.now().Sub(h.lastAt) >= h.ttl {
		msg.Status = StatusStale
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode replay")
		return nil
	}
	return data
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug().Msg("slow websocket client, dropping message")
		}
	}
}

func (h *Hub) add() *client {
	c := &client{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if data := h.replay(); data != nil {
		c.send <- data
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams messages until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	c := h.add()
	defer h.remove(c)

	// CloseRead discards inbound frames; ctx ends when the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
					h.logger.Debug().Err(err).Msg("websocket write failed")
				}
				return
			}
		}
	}
}

var _ notify.Listener = (*Hub)(nil)
