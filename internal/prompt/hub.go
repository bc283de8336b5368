package prompt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrNoClient   = errors.New("client is not connected")
	ErrClientGone = errors.New("client disconnected before answering")
)

const writeTimeout = 15 * time.Second

var upgrader = ws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wire format shared by both directions
type message struct {
	Type     string  `json:"type"`
	ID       string  `json:"id"`
	Label    string  `json:"label,omitempty"`
	Hostname string  `json:"hostname,omitempty"`
	Answer   *string `json:"answer"`
}

type client struct {
	conn *ws.Conn
	mu   sync.Mutex // serializes writes
}

func (c *client) send(m message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(m)
}

type reply struct {
	answer *string
	err    error
}

type pendingEntry struct {
	ch     chan reply
	client *client
}

// Hub is a Channel backed by websocket connections, one per client id.
type Hub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[string]*client
	pending map[string]*pendingEntry // question id -> waiter
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log.With().Str("component", "prompt").Logger(),
		clients: map[string]*client{},
		pending: map[string]*pendingEntry{},
	}
}

// Handle upgrades GET /client/connect?clientID=... and serves answers until
// the socket closes.
func (h *Hub) Handle(c *gin.Context) {
	clientID := c.Query("clientID")
	if clientID == "" {
		c.String(http.StatusBadRequest, "clientID required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	cl := &client{conn: conn}
	h.mu.Lock()
	if old, ok := h.clients[clientID]; ok {
		_ = old.conn.Close()
	}
	h.clients[clientID] = cl
	h.mu.Unlock()
	h.log.Debug().Str("client", clientID).Msg("client connected")

	defer h.drop(clientID, cl)

	for {
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		if m.Type != "answer" {
			continue
		}
		h.resolve(m.ID, reply{answer: m.Answer})
	}
}

func (h *Hub) drop(clientID string, cl *client) {
	_ = cl.conn.Close()

	h.mu.Lock()
	if h.clients[clientID] == cl {
		delete(h.clients, clientID)
	}
	var orphaned []*pendingEntry
	for id, p := range h.pending {
		if p.client == cl {
			orphaned = append(orphaned, p)
			delete(h.pending, id)
		}
	}
	h.mu.Unlock()

	for _, p := range orphaned {
		p.ch <- reply{err: ErrClientGone}
	}
	h.log.Debug().Str("client", clientID).Int("failed", len(orphaned)).Msg("client disconnected")
}

func (h *Hub) resolve(id string, r reply) bool {
	h.mu.Lock()
	p, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	p.ch <- r
	return true
}

// Ask sends q to clientID and blocks for its answer or ctx cancellation.
func (h *Hub) Ask(ctx context.Context, clientID string, q Question) (*string, error) {
	h.mu.Lock()
	cl, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoClient, clientID)
	}
	id := uuid.New().String()
	p := &pendingEntry{ch: make(chan reply, 1), client: cl}
	h.pending[id] = p
	h.mu.Unlock()

	err := cl.send(message{Type: "askPassword", ID: id, Label: q.Label, Hostname: q.Hostname})
	if err != nil {
		h.forget(id)
		return nil, fmt.Errorf("send question: %w", err)
	}

	select {
	case r := <-p.ch:
		return r.answer, r.err
	case <-ctx.Done():
		h.forget(id)
		return nil, ctx.Err()
	}
}

func (h *Hub) forget(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// Connected reports whether clientID currently has a socket.
func (h *Hub) Connected(clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[clientID]
	return ok
}
