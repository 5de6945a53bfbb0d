package broadcast

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"temple-safety/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Hub bridges websocket clients onto bus subscriptions. A client picks its
// topics with ?site=<id> (repeatable or comma separated) and ?global=1.
type Hub struct {
	bus      *Bus
	monitor  *monitoring.Monitor
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]*Subscription
}

func NewHub(bus *Bus, monitor *monitoring.Monitor) *Hub {
	return &Hub{
		bus:     bus,
		monitor: monitor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]*Subscription),
	}
}

// TopicsFromQuery parses the subscription topics of a websocket request.
func TopicsFromQuery(r *http.Request) []string {
	q := r.URL.Query()
	var topics []string
	for _, raw := range q["site"] {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				topics = append(topics, SiteTopic(id))
			}
		}
	}
	if global, err := strconv.ParseBool(q.Get("global")); err == nil && global {
		topics = append(topics, GlobalTopic)
	}
	return topics
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics := TopicsFromQuery(r)
	if len(topics) == 0 {
		http.Error(w, "subscribe to at least one site or global", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := h.bus.Subscribe(topics...)
	h.track(conn, sub)

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
}

func (h *Hub) track(conn *websocket.Conn, sub *Subscription) {
	h.mu.Lock()
	h.conns[conn] = sub
	n := len(h.conns)
	h.mu.Unlock()
	h.monitor.SetWebSocketClients(n)
}

func (h *Hub) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	n := len(h.conns)
	h.mu.Unlock()
	h.monitor.SetWebSocketClients(n)
}

// readPump only watches for the client going away; clients do not send commands.
func (h *Hub) readPump(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.untrack(conn)
		_ = conn.Close()
	}()

	for {
		select {
		case env, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				sub.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.Close()
				return
			}
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown ends every client subscription; the write pumps then send a
// close frame and release the connections.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.conns))
	for _, sub := range h.conns {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
