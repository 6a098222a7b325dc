package main

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"collabtext/observability"
)

// Client is one connected browser tab.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of browser clients and broadcasts UI messages to
// them.
type Hub struct {
	log        observability.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	direct     chan directMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

type directMessage struct {
	client  *Client
	message []byte
}

func newHub(log observability.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		direct:     make(chan directMessage, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.log.Info("client registered", map[string]interface{}{"clients": len(h.clients)})
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Info("client unregistered", map[string]interface{}{"clients": len(h.clients)})
			}
		case m := <-h.direct:
			if !h.clients[m.client] {
				continue
			}
			select {
			case m.client.send <- m.message:
			default:
				close(m.client.send)
				delete(h.clients, m.client)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Broadcast queues message for every client.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// SendTo queues message for one client, if it is still registered.
func (h *Hub) SendTo(client *Client, message []byte) {
	select {
	case h.direct <- directMessage{client: client, message: message}:
	case <-h.done:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWs upgrades a browser connection. onMessage runs on the client's
// read goroutine; onJoin runs once the client is registered.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request, onJoin func(*Client), onMessage func([]byte)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("upgrade failed", map[string]interface{}{"error": err})
		return
	}
	client := &Client{conn: conn, send: make(chan []byte, 256)}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}
	go client.writePump()
	onJoin(client)
	go client.readPump(hub, onMessage)
}

func (c *Client) readPump(hub *Hub, onMessage func([]byte)) {
	defer func() {
		select {
		case hub.unregister <- c:
		case <-hub.done:
		}
		c.conn.Close()
	}()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		onMessage(message)
	}
}

func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for {
		message, ok := <-c.send
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
