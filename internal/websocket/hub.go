package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// Client is a WebSocket subscriber to one project
type Client struct {
	ProjectID string
	Conn      *websocket.Conn
	Send      chan []byte
}

// Hub fans project progress events out to subscribed connections
type Hub struct {
	// Clients grouped by project ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	stop       chan struct{}

	mu sync.RWMutex
}

// BroadcastMessage is a serialized message for one project's subscribers
type BroadcastMessage struct {
	ProjectID string
	Message   []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		stop:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ProjectID] == nil {
				h.clients[client.ProjectID] = make(map[*Client]bool)
			}
			h.clients[client.ProjectID][client] = true
			h.mu.Unlock()
			log.Printf("[WebSocket] client subscribed to project %s", client.ProjectID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			log.Printf("[WebSocket] client unsubscribed from project %s", client.ProjectID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.ProjectID] {
				select {
				case client.Send <- msg.Message:
				default:
					// Slow consumer
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop terminates Run and closes every subscriber's Send channel.
func (h *Hub) Stop() {
	close(h.stop)
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.ProjectID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.Send)
		if len(clients) == 0 {
			delete(h.clients, client.ProjectID)
		}
	}
}

// Register subscribes client. Once the hub is stopped the client is turned
// away with its Send channel closed.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stop:
		close(client.Send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// Subscribers returns the number of connections watching projectID.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[projectID])
}

// Notify sends an event to all subscribers of the project. It never blocks
// the caller; events are dropped when the hub is saturated.
func (h *Hub) Notify(projectID, msgType string, data interface{}) {
	payload, err := json.Marshal(model.WSMessage{
		Type:      msgType,
		ProjectID: projectID,
		Data:      data,
	})
	if err != nil {
		log.Printf("[WebSocket] failed to marshal %s message: %v", msgType, err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{ProjectID: projectID, Message: payload}:
	default:
		log.Printf("[WebSocket] broadcast buffer full, dropping %s event for project %s", msgType, projectID)
	}
}

// HandleConnection serves one subscriber until it disconnects
func (h *Hub) HandleConnection(c *websocket.Conn, projectID string) {
	client := &Client{
		ProjectID: projectID,
		Conn:      c,
		Send:      make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Subscribers only listen; reads detect disconnects.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] read error: %v", err)
			}
			return
		}
	}
}
