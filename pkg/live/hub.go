// Package live republishes raw readings as they arrive: to websocket
// subscribers, an MQTT broker and a Kafka topic.
package live

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/reading"
)

// TopicAll receives every reading.
const TopicAll = "all"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = non-browser client
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// DeviceTopic is the topic of one device's readings.
func DeviceTopic(id string) string { return "device:" + id }

// CounterTopic is the topic of one counter's readings.
func CounterTopic(name string) string { return "counter:" + strings.ToLower(name) }

// Topics lists the topics a reading is delivered on.
func Topics(r reading.Reading) []string {
	topics := []string{TopicAll, DeviceTopic(r.DeviceID)}
	if r.CounterName != "" {
		topics = append(topics, CounterTopic(r.CounterName))
	}
	return topics
}

type client struct {
	id     string
	conn   *websocket.Conn
	topics map[string]bool
}

func (c *client) wants(topics []string) bool {
	for _, t := range topics {
		if c.topics[t] {
			return true
		}
	}
	return false
}

type message struct {
	topics  []string
	payload []byte
}

// Event is what subscribers receive for each reading.
type Event struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Reading   map[string]any `json:"reading"`
}

// Hub manages websocket subscribers.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan message

	mu sync.RWMutex
}

// NewHub creates a hub. Call Run to start delivering.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client, config.WSChannelBuffer),
		unregister: make(chan *client, config.WSChannelBuffer),
		broadcast:  make(chan message, config.WSBroadcastBuffer),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.conn.Close()
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client %s connected (total: %d)", c.id, count)
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client %s disconnected (total: %d)", c.id, count)
		case msg := <-h.broadcast:
			h.mu.RLock()
			var failed []*client
			for c := range h.clients {
				if !c.wants(msg.topics) {
					continue
				}
				c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
					log.Printf("WebSocket write error for %s: %v", c.id, err)
					failed = append(failed, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range failed {
				select {
				case h.unregister <- c:
				default:
					h.mu.Lock()
					delete(h.clients, c)
					h.mu.Unlock()
					c.conn.Close()
				}
			}
		}
	}
}

// Publish implements Publisher. Readings are dropped when nobody is
// subscribed or the broadcast queue is full.
func (h *Hub) Publish(_ context.Context, r reading.Reading) error {
	if !h.HasClients() {
		return nil
	}
	payload, err := json.Marshal(Event{
		Type:      "reading",
		Timestamp: time.Now().Unix(),
		Reading:   r.Payload(),
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message{topics: Topics(r), payload: payload}:
	default:
		log.Printf("Broadcast channel full, dropping reading from %s", r.DeviceID)
	}
	return nil
}

// Name implements Publisher.
func (h *Hub) Name() string { return "websocket" }

// HasClients reports whether any subscriber is connected.
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// subscriptions turns ?device=a,b&counter=x into topics. No filter
// subscribes to everything.
func subscriptions(r *http.Request) map[string]bool {
	topics := make(map[string]bool)
	q := r.URL.Query()
	for _, v := range q["device"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				topics[DeviceTopic(id)] = true
			}
		}
	}
	for _, v := range q["counter"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				topics[CounterTopic(name)] = true
			}
		}
	}
	if len(topics) == 0 {
		topics[TopicAll] = true
	}
	return topics
}

// ServeHTTP upgrades the request and streams matching readings until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, topics: subscriptions(r)}
	h.register <- c

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// WriteControl is safe alongside the hub's writer.
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline)); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		h.unregister <- c
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}
