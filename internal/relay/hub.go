// Package relay pushes book snapshots to browser clients over websockets.
package relay

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quoteflow/internal/book"
	"quoteflow/logger"
	"quoteflow/models"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Message is the JSON frame sent to clients.
type Message struct {
	Symbol    string               `json:"symbol"`
	Kind      string               `json:"kind"`
	TopOfBook models.TopOfBook     `json:"top_of_book"`
	Depth     models.DepthSnapshot `json:"order_book_depth"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	id     string
	symbol string // empty receives every symbol
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans book updates out to connected clients. A client whose buffer is
// full misses the frame instead of slowing the publisher down.
type Hub struct {
	buffer       int
	writeTimeout time.Duration
	log          *logger.Log

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  map[string][]byte
	closed  bool

	dropped atomic.Int64
}

func NewHub(buffer int, writeTimeout time.Duration) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		buffer:       buffer,
		writeTimeout: writeTimeout,
		log:          logger.GetLogger(),
		clients:      make(map[*client]struct{}),
		latest:       make(map[string][]byte),
	}
}

// OnBookUpdate implements book.Observer.
func (h *Hub) OnBookUpdate(u book.Update) error {
	symbol := u.Snapshot.TopOfBook.Symbol
	if symbol == "" {
		symbol = u.Snapshot.Depth.Symbol
	}
	msg := Message{
		Symbol:    symbol,
		Kind:      u.Kind.String(),
		TopOfBook: u.Snapshot.TopOfBook,
		Depth:     u.Snapshot.Depth,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.publish(strings.ToUpper(symbol), data)
	return nil
}

func (h *Hub) publish(symbol string, data []byte) {
	h.mu.Lock()
	h.latest[symbol] = data
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.symbol != "" && c.symbol != symbol {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			h.log.WithComponent("relay").WithSymbol(symbol).WithFields(logger.Fields{"client": c.id}).Debug("dropping frame for slow client")
		}
	}
}

// Latest returns the last frame published for symbol.
func (h *Hub) Latest(symbol string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, ok := h.latest[strings.ToUpper(symbol)]
	return data, ok
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped reports how many frames were skipped for slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// Routes mounts the websocket and snapshot endpoints.
func (h *Hub) Routes(r gin.IRouter) {
	r.GET("/ws", func(c *gin.Context) { h.HandleWS(c.Writer, c.Request) })
	r.GET("/api/book/:symbol", func(c *gin.Context) {
		data, ok := h.Latest(c.Param("symbol"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no data for symbol"})
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	})
}

// HandleWS upgrades the request and streams frames until the client leaves.
// The optional symbol query parameter restricts the stream to one pair.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("relay").WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		id:     uuid.NewString(),
		symbol: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol"))),
		conn:   conn,
		send:   make(chan []byte, h.buffer),
	}
	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	log := h.log.WithComponent("relay").WithFields(logger.Fields{"client": c.id, "symbol": c.symbol})
	log.WithFields(logger.Fields{"clients": h.Clients()}).Info("relay client connected")

	go h.writePump(c)
	h.readPump(c)

	h.unregister(c)
	log.Info("relay client disconnected")
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	for symbol, data := range h.latest {
		if c.symbol != "" && c.symbol != symbol {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readPump only services control frames; clients do not send data.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
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

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
