package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// State is the lifecycle of a relay connection.
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateRelaying
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateRelaying:
		return "relaying"
	case StateLeft:
		return "left"
	}
	return "unknown"
}

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	log  zerolog.Logger

	mu     sync.RWMutex
	state  State
	roomID string
	role   models.Role

	closeOnce sync.Once
}

// NewClient wraps conn. conn may be nil for connections driven in-process.
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:    id,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		done:  make(chan struct{}),
		log:   log.With().Str("client_id", id).Logger(),
		state: StateConnecting,
	}
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Room returns the room the client relays in, or "".
func (c *Client) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Client) Role() models.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Outbox exposes queued frames. Only used when there is no websocket.
func (c *Client) Outbox() <-chan []byte {
	return c.send
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) enterRoom(roomID string, role models.Role) {
	c.mu.Lock()
	c.roomID = roomID
	c.role = role
	c.state = StateRelaying
	c.mu.Unlock()
}

func (c *Client) exitRoom() {
	c.mu.Lock()
	c.roomID = ""
	c.role = ""
	if c.state == StateRelaying {
		c.state = StateJoined
	}
	c.mu.Unlock()
}

// trySend queues a frame without blocking. Broadcast delivery is best effort.
func (c *Client) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn().Msg("Failed to send message, buffer full")
		return false
	}
}

// sendWait queues a frame, waiting up to timeout for buffer space.
func (c *Client) sendWait(ctx context.Context, data []byte, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.send <- data:
		return true
	case <-c.done:
	case <-ctx.Done():
	case <-timer.C:
		c.log.Warn().Dur("timeout", timeout).Msg("Dropped signal, client not draining")
	}
	return false
}

func (c *Client) emit(kind models.EventType, data any) {
	frame, err := encodeEvent(kind, data)
	if err != nil {
		c.log.Error().Err(err).Str("event", string(kind)).Msg("Failed to marshal message")
		return
	}
	c.trySend(frame)
}

// Close stops the write pump, which sends a close frame and closes the
// socket. Safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump(ctx context.Context, r *Relay) {
	defer r.Unregister(ctx, c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		var ev models.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			c.log.Debug().Err(err).Msg("Failed to parse message")
			continue
		}

		r.Handle(ctx, c, ev)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("Failed to write message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func encodeEvent(kind models.EventType, data any) ([]byte, error) {
	ev, err := models.NewEvent(kind, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}
