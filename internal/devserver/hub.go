package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/mirrorchat/internal/state"
	"github.com/user/mirrorchat/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// envelope mirrors the client's wire frame.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub tracks websocket connections per user and pushes events to them.
type Hub struct {
	accounts *state.AccountStore
	welcome  string
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool
}

type client struct {
	hub  *Hub
	user string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewHub creates a hub that authenticates sockets against accounts and
// greets each one with welcome, if set.
func NewHub(accounts *state.AccountStore, welcome string) *Hub {
	return &Hub{
		accounts: accounts,
		welcome:  welcome,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP upgrades GET /ws?token=T. Unknown tokens are rejected with 401
// before the upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accounts.ByToken(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, user: acc.Username, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}
	slog.Info("socket connected", "user", c.user)

	go c.writePump()
	if h.welcome != "" {
		c.enqueue(types.EventWelcome, types.Welcome{UserData: c.user, Text: h.welcome})
	}
	c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.user]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.user] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.user]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.user)
		}
	}
	h.mu.Unlock()
	c.close()
}

// Push sends an event to every socket of user and returns how many were
// reached. Sockets with a full buffer are skipped.
func (h *Hub) Push(user, event string, payload any) int {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[user]))
	for c := range h.clients[user] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.enqueue(event, payload) {
			n++
		}
	}
	return n
}

// Connected returns the number of open sockets for user.
func (h *Hub) Connected(user string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[user])
}

// Close disconnects every socket and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

func (c *client) enqueue(event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal push payload", "event", event, "error", err)
		return false
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		slog.Warn("push dropped, client too slow", "user", c.user, "event", event)
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	c.conn.Close()
}

// readPump consumes inbound events until the socket closes. message-sent is
// relayed to the author's other sockets.
func (c *client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("socket read failed", "user", c.user, "error", err)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("malformed socket frame", "user", c.user, "error", err)
			continue
		}
		switch env.Event {
		case types.EventMessageSent:
			var m types.MessageSent
			if err := json.Unmarshal(env.Data, &m); err != nil {
				slog.Warn("malformed message-sent", "user", c.user, "error", err)
				continue
			}
			slog.Debug("message-sent", "user", c.user, "body", m.Body)
			c.hub.relay(c, env.Event, m)
		default:
			slog.Debug("ignoring socket event", "user", c.user, "event", env.Event)
		}
	}
}

func (h *Hub) relay(from *client, event string, payload any) {
	h.mu.RLock()
	var targets []*client
	for c := range h.clients[from.user] {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(event, payload)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
