package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outgoingSize   = 64
)

var (
	ErrGaveUp       = errors.New("signaling server unreachable")
	ErrNotConnected = errors.New("not connected to signaling server")
	ErrClosed       = errors.New("transport closed")
)

// Status is the connection state reported to the call.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// Update is either a status change or an inbound event, delivered in order.
type Update struct {
	Status Status
	Event  models.Event
}

type Options struct {
	// ReconnectAttempts is how many times a lost or failed connection is
	// retried before giving up.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Dialer            *websocket.Dialer
}

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	url      string
	opts     Options
	updates  chan Update
	outgoing chan []byte
	done     chan struct{}

	status    atomic.Value
	closeOnce sync.Once
}

// NewClient creates a new signaling client
func NewClient(serverURL string, opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	c := &Client{
		url:      serverURL,
		opts:     opts,
		updates:  make(chan Update, 64),
		outgoing: make(chan []byte, outgoingSize),
		done:     make(chan struct{}),
	}
	c.status.Store(StatusConnecting)
	return c
}

// Updates returns the ordered stream of status changes and events. It is
// closed when Run returns.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

func (c *Client) Status() Status {
	return c.status.Load().(Status)
}

// Send queues an event for the server.
func (c *Client) Send(kind models.EventType, data any) error {
	if c.Status() != StatusConnected {
		return ErrNotConnected
	}

	ev, err := models.NewEvent(kind, data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Close ends Run after the current connection is torn down.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run connects and keeps the connection alive, retrying with a fixed delay.
// It returns nil after Close or ctx cancellation and ErrGaveUp once the
// retry budget is spent.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.updates)

	failures := 0
	for {
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if c.stopped(ctx) {
				c.publishStatus(ctx, StatusDisconnected)
				return nil
			}

			failures++
			log.Warn().Err(err).Int("attempt", failures).Msg("Signaling connection failed")
			if failures > c.opts.ReconnectAttempts {
				c.publishStatus(ctx, StatusDisconnected)
				return fmt.Errorf("%w: %v", ErrGaveUp, err)
			}

			c.publishStatus(ctx, StatusReconnecting)
			if !c.wait(ctx) {
				c.publishStatus(ctx, StatusDisconnected)
				return nil
			}
			continue
		}

		failures = 0
		c.publishStatus(ctx, StatusConnected)

		err = c.serve(ctx, conn)
		if c.stopped(ctx) {
			c.publishStatus(ctx, StatusDisconnected)
			return nil
		}

		log.Warn().Err(err).Msg("Signaling connection lost")
		c.publishStatus(ctx, StatusReconnecting)
		if !c.wait(ctx) {
			c.publishStatus(ctx, StatusDisconnected)
			return nil
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stopWriter := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn, stopWriter)
	}()

	// Unblock the reader when we are told to stop.
	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		case <-stopWriter:
			return
		}
		conn.Close()
	}()

	err := c.readPump(ctx, conn)

	close(stopWriter)
	<-writerDone
	conn.Close()
	return err
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev models.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed frame")
			continue
		}

		select {
		case c.updates <- Update{Event: ev}:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-stop:
			return
		}
	}
}

func (c *Client) publishStatus(ctx context.Context, s Status) {
	if c.Status() == s {
		return
	}
	c.status.Store(s)

	if s != StatusConnected {
		c.drainOutgoing()
	}

	if !c.stopped(ctx) {
		select {
		case c.updates <- Update{Status: s}:
			return
		case <-ctx.Done():
		case <-c.done:
		}
	}

	// Still report the final state if there is room for it.
	select {
	case c.updates <- Update{Status: s}:
	default:
	}
}

// drainOutgoing discards frames addressed to a connection that is gone.
func (c *Client) drainOutgoing() {
	for {
		select {
		case <-c.outgoing:
		default:
			return
		}
	}
}

func (c *Client) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.opts.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Client) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
