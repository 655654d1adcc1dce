package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is same-origin; kiosk deployments sit behind a
	// reverse proxy that rewrites the origin anyway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// markEvent is pushed to every dashboard when attendance is marked.
type markEvent struct {
	Type       string `json:"type"`
	RollNumber string `json:"roll_number"`
	Name       string `json:"name"`
	Branch     string `json:"branch"`
	Time       string `json:"time"`
}

// Hub fans attendance events out to connected dashboard sockets.
type Hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop it rather than stall the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
		case <-h.done:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// Stop disconnects all clients and ends the Run loop.
func (h *Hub) Stop() {
	close(h.done)
}

// BroadcastMark pushes a marked-attendance event to all dashboards.
func (h *Hub) BroadcastMark(rec store.AttendanceRecord) {
	payload, err := json.Marshal(markEvent{
		Type:       "attendance_marked",
		RollNumber: rec.RollNumber,
		Name:       rec.Name,
		Branch:     rec.Branch,
		Time:       rec.Time,
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// serveWS upgrades the request and attaches the socket to the hub.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Component("hub").WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 16)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// detach hands the client back to the hub for removal, or gives up
// immediately when the hub has already stopped so a late disconnect
// never blocks.
func (c *wsClient) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump drains inbound frames so pings and close frames are
// handled; dashboards never send application data.
func (c *wsClient) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
