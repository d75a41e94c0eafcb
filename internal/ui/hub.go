// Package ui implements the live push channel to dashboard listeners: a
// single cooperative worker owns the listener set and broadcasts every
// state-change event fanned out during command execution, while relaying
// inbound listener messages as configuration commands.
package ui

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/climateguard/climateguard/internal/bus"
	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Envelope is the JSON shape of every outbound message: {type, payload}.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client wraps one connected dashboard's duplex stream.
type Client struct {
	conn *websocket.Conn
	send chan Envelope

	closeOnce sync.Once
	closed    atomic.Bool
}

// SafeSend enqueues env for delivery without panicking if the client's
// send channel has already been closed by Hub.Run (InitializeDisplayCommand
// runs c.Push on the executor goroutine, which races Hub.Run's own
// unregister/shutdown handling of the same client).
func (c *Client) SafeSend(env Envelope) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Close closes the client's send channel exactly once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// Hub is the UI fan-out's single cooperative worker (U): it owns the
// listener set, serializes every broadcast onto its own loop, and turns
// a newly-registered listener and each of its inbound messages into
// commands on the shared command queue.
type Hub struct {
	commands *bus.CommandQueue

	mu      sync.Mutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan Envelope
}

func NewHub(commands *bus.CommandQueue) *Hub {
	return &Hub{
		commands:   commands,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 8),
		unregister: make(chan *Client, 8),
		broadcast:  make(chan Envelope, 256),
	}
}

// Run is U's event loop; it owns the listener set exclusively and must
// run on a single goroutine.
func (h *Hub) Run(stop *bus.StopSignal) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.commands.Enqueue(bus.InitializeDisplayCommand{Push: func(snap store.Snapshot) {
				h.pushSnapshot(c, snap)
			}})

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.Close()
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- env:
				default:
					log.Printf("ui: client send buffer full, dropping %s", env.Type)
				}
			}
			h.mu.Unlock()

		case <-ticker.C:
			if stop.IsSet() {
				h.mu.Lock()
				for c := range h.clients {
					delete(h.clients, c)
					c.Close()
				}
				h.mu.Unlock()
				return
			}
		}
	}
}

func (h *Hub) pushSnapshot(c *Client, snap store.Snapshot) {
	for kind, m := range snap.Measures {
		c.SafeSend(Envelope{Type: "measure/updateTemperature", Payload: temperaturePayload{Timestamp: m.Timestamp, Kind: kind.String(), Temperature: m.Temperature}})
		if m.Humidity != nil {
			c.SafeSend(Envelope{Type: "measure/updateHumidity", Payload: humidityPayload{Timestamp: m.Timestamp, Kind: kind.String(), Humidity: *m.Humidity}})
		}
	}
	for kind, status := range snap.Statuses {
		c.SafeSend(Envelope{Type: "device/updateStatus", Payload: statusPayload{Kind: kind.String(), IsWorking: status == domain.On}})
	}
	for kind, p := range snap.Pings {
		c.SafeSend(Envelope{Type: "device/ping", Payload: pingPayload{Kind: kind.String(), Timestamp: p.Timestamp}})
	}
	for _, th := range snap.Thresholds {
		c.SafeSend(Envelope{Type: "device/updateThresholdTemperature", Payload: thresholdPayload{Kind: th.DeviceKind.String(), Mode: th.OperatingMode.String(), Temperature: th.Celsius()}})
	}
	c.SafeSend(Envelope{Type: "device/updateAwayStatus", Payload: snap.Away == domain.On})
}

// broadcastEnvelope marshals an event onto the hub's own loop; safe to call from
// any goroutine (the executor, in practice).
func (h *Hub) broadcastEnvelope(env Envelope) {
	select {
	case h.broadcast <- env:
	default:
		log.Printf("ui: broadcast queue full, dropping %s", env.Type)
	}
}

// ServeHTTP upgrades the connection and runs the per-client read/write
// pumps; each client gets its own pair of pump goroutines, but the
// shared listener set is only ever touched through h.register/unregister
// so it stays single-writer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ui: upgrade failed: %v", err)
		return
	}

	c := &Client{conn: conn, send: make(chan Envelope, 64)}
	h.register <- c

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
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

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		payload, err := parseConfigPayload(data)
		if err != nil {
			log.Printf("ui: dropping unparseable listener message: %v", err)
			continue
		}
		h.commands.Enqueue(bus.UpdateConfigurationCommand{Payload: payload})
	}
}

func parseConfigPayload(data []byte) (bus.ConfigPayload, error) {
	var raw rawConfigPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return bus.ConfigPayload{}, err
	}
	return raw.toPayload()
}
