package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/maogitmao/billions-dollars/models"
)

// Constants for websocket hub configuration
const (
	MaxWebSocketClients   = 100
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = 30 * time.Second
)

// WebSocketMessage is the envelope sent to websocket clients.
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// wsEnvelope pairs an outgoing message with the symbol it concerns so
// the hub can route it to subscribed clients only. An empty symbol
// means broadcast to everyone.
type wsEnvelope struct {
	symbol  string
	message WebSocketMessage
}

// Client represents a connected websocket client.
type Client struct {
	id         string
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

// wants reports whether the client should receive messages for this
// symbol. A client with no explicit subscriptions receives everything.
func (c *Client) wants(symbol string) bool {
	if symbol == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscribed) == 0 {
		return true
	}
	return c.subscribed[symbol]
}

// RealtimeService streams quote updates, cycle reports and alerts to
// websocket clients. It consumes pipeline events from the bus; slow
// clients are disconnected rather than allowed to stall delivery.
type RealtimeService struct {
	cache *QuoteCache

	clients    map[*Client]bool
	broadcast  chan wsEnvelope
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	isRunning  bool
}

// NewRealtimeService creates the hub. Start must be called before
// clients connect.
func NewRealtimeService(cache *QuoteCache) *RealtimeService {
	return &RealtimeService{
		cache:      cache,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan wsEnvelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Start launches the hub goroutine.
func (s *RealtimeService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		log.Println("[Realtime] hub already running")
		return
	}
	s.isRunning = true
	go s.run()
	log.Println("[Realtime] websocket hub started")
}

// Shutdown stops the hub and closes all client connections.
func (s *RealtimeService) Shutdown() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.shutdown)

	s.mu.Lock()
	for client := range s.clients {
		close(client.send)
		client.conn.Close()
	}
	s.clients = make(map[*Client]bool)
	s.mu.Unlock()

	log.Println("[Realtime] websocket hub shutdown complete")
}

// GetClientCount returns the number of connected clients.
func (s *RealtimeService) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// QuoteSubscriber returns a bus handler that streams accepted quote
// updates to subscribed clients.
func (s *RealtimeService) QuoteSubscriber() EventHandler {
	return func(kind models.EventKind, payload interface{}) {
		q, ok := payload.(*models.Quote)
		if !ok {
			return
		}
		s.enqueue(q.Symbol, WebSocketMessage{
			Type: "quote",
			Data: q,
			Time: time.Now().Format(time.RFC3339),
		})
	}
}

// CycleSubscriber returns a bus handler that streams cycle reports to
// every client.
func (s *RealtimeService) CycleSubscriber() EventHandler {
	return func(kind models.EventKind, payload interface{}) {
		r, ok := payload.(*models.CycleReport)
		if !ok {
			return
		}
		s.enqueue("", WebSocketMessage{
			Type: "cycle_report",
			Data: r,
			Time: time.Now().Format(time.RFC3339),
		})
	}
}

// AlertSubscriber returns a bus handler that streams triggered alerts
// to every client.
func (s *RealtimeService) AlertSubscriber() EventHandler {
	return func(kind models.EventKind, payload interface{}) {
		ev, ok := payload.(models.AlertEvent)
		if !ok {
			return
		}
		s.enqueue("", WebSocketMessage{
			Type: "alert",
			Data: ev,
			Time: time.Now().Format(time.RFC3339),
		})
	}
}

// enqueue hands a message to the hub without blocking the publisher.
// When the hub backlog is full the message is dropped; realtime
// consumers tolerate gaps.
func (s *RealtimeService) enqueue(symbol string, message WebSocketMessage) {
	select {
	case s.broadcast <- wsEnvelope{symbol: symbol, message: message}:
	default:
	}
}

// run is the hub loop. It owns the client set.
func (s *RealtimeService) run() {
	for {
		select {
		case <-s.shutdown:
			return

		case client := <-s.register:
			s.mu.Lock()
			if len(s.clients) >= MaxWebSocketClients {
				s.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("[Realtime] client rejected: max clients reached (%d)", MaxWebSocketClients)
				continue
			}
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			log.Printf("[Realtime] client %s connected. Total clients: %d", client.id, clientCount)

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			clientCount := len(s.clients)
			s.mu.Unlock()
			log.Printf("[Realtime] client %s disconnected. Total clients: %d", client.id, clientCount)

		case envelope := <-s.broadcast:
			data, err := json.Marshal(envelope.message)
			if err != nil {
				log.Printf("[Realtime] marshal %s message failed: %v", envelope.message.Type, err)
				continue
			}

			s.mu.Lock()
			deadClients := make([]*Client, 0)
			for client := range s.clients {
				if !client.wants(envelope.symbol) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// Client buffer full, mark for removal
					deadClients = append(deadClients, client)
				}
			}
			for _, client := range deadClients {
				delete(s.clients, client)
				close(client.send)
			}
			s.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request to a websocket connection.
func (s *RealtimeService) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	atCapacity := len(s.clients) >= MaxWebSocketClients
	running := s.isRunning
	s.mu.RUnlock()

	if !running || atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Realtime] websocket upgrade error: %v", err)
		return
	}

	client := &Client{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, 256),
		subscribed: make(map[string]bool),
	}

	s.register <- client

	go client.writePump()
	go client.readPump(s)
}

// writePump writes messages to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads subscription commands from the websocket connection.
func (c *Client) readPump(s *RealtimeService) {
	defer func() {
		s.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Realtime] websocket read error: %v", err)
			}
			break
		}

		var cmd struct {
			Action  string   `json:"action"`
			Symbols []string `json:"symbols"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.mu.Lock()
			for _, symbol := range cmd.Symbols {
				c.subscribed[symbol] = true
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, symbol := range cmd.Symbols {
				delete(c.subscribed, symbol)
			}
			c.mu.Unlock()
		case "snapshot":
			s.sendSnapshot(c)
		}
	}
}

// sendSnapshot pushes the current cache contents to one client.
func (s *RealtimeService) sendSnapshot(c *Client) {
	data, err := json.Marshal(WebSocketMessage{
		Type: "snapshot",
		Data: s.cache.Snapshot(),
		Time: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("[Realtime] marshal snapshot failed: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
