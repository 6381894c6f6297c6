package websocket

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// broadcastAcquireTimeout bounds how long a broadcast goroutine waits for
// a connection's acquire lock before giving up on that one recipient,
// per spec.md §5's "only the acquire-lock holder may write" invariant.
const broadcastAcquireTimeout = 2 * time.Second

// Hub fans a message out to every connection currently bound to a Chat
// protocol clone (spec.md §4.9). It is the multi-client broadcast
// collaborator a ChatProtocol's OnFrame callback closes over; the
// protocol itself only ever sees one connection at a time.
//
// Example usage:
//
//	hub := websocket.NewHub()
//	go hub.Run()
//	defer hub.Close()
//
//	chat := websocket.NewChatProtocol(func(conn *websocket.Connection, frame *websocket.Frame) {
//	    hub.Broadcast(frame.Opcode, frame.Payload)
//	})
//	registry.Add(chat)
//
// A connection registers itself with the Hub once its protocol has been
// negotiated (normally from inside the handshake handler, right after
// CloneByName) and unregisters when its server loop exits.
type Hub struct {
	clients map[*Connection]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan hubMessage

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	mu sync.RWMutex
}

type hubMessage struct {
	opcode  byte
	payload []byte
}

// NewHub creates a Hub. Run must be started in a goroutine before the Hub
// does anything useful.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan hubMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run is the Hub's event loop. It blocks and should be started with
// `go hub.Run()`; it returns once Close is called.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				go func(c *Connection, m hubMessage) {
					if !c.TryAcquire(broadcastAcquireTimeout) {
						return
					}
					defer c.Release()

					if err := sendFrame(c.conn, c.writer, m.opcode, m.payload); err != nil {
						h.Unregister(c)
					}
				}(conn, msg)
			}
			h.mu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Register adds conn to the broadcast set. A no-op once the Hub is
// closed.
func (h *Hub) Register(conn *Connection) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	h.register <- conn
}

// Unregister removes conn from the broadcast set. Does not close the
// connection itself — that remains the server loop's responsibility.
// Safe to call multiple times for the same connection.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	h.unregister <- conn
}

// Broadcast queues opcode/payload for async delivery to every registered
// connection. A write failure on one connection unregisters it without
// affecting delivery to the rest.
func (h *Hub) Broadcast(opcode byte, payload []byte) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	h.broadcast <- hubMessage{opcode: opcode, payload: payload}
}

// BroadcastText broadcasts text as a single text frame to every
// registered connection.
func (h *Hub) BroadcastText(text string) {
	h.Broadcast(opcodeText, []byte(text))
}

// BroadcastJSON marshals v and broadcasts it as a text frame.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(opcodeText, data)
	return nil
}

// ClientCount returns the number of connections currently registered.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the event loop and releases the Hub's broadcast set. It
// does not close member connections — the server that owns them is
// responsible for that. Safe to call multiple times.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	h.clients = make(map[*Connection]bool)
	h.mu.Unlock()

	close(h.register)
	close(h.unregister)
	close(h.broadcast)

	return nil
}
