package signaling

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/mossy-p/consult-signaling/internal/registry"
	"github.com/rs/zerolog/log"
)

const defaultSignalTimeout = 5 * time.Second

// Relay routes signaling frames between connections of the same room.
//
// Membership lives in the registry; each client carries its own room index
// (Client.Room) which is only changed from inside registry callbacks, so the
// two never disagree. Join and leave broadcasts are emitted from those same
// callbacks while the room lock is held.
type Relay struct {
	registry      *registry.Registry
	signalTimeout time.Duration
	now           func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client
}

type Option func(*Relay)

// WithSignalTimeout bounds how long a direct signal waits for a slow receiver.
func WithSignalTimeout(d time.Duration) Option {
	return func(r *Relay) { r.signalTimeout = d }
}

func NewRelay(reg *registry.Registry, opts ...Option) *Relay {
	r := &Relay{
		registry:      reg,
		signalTimeout: defaultSignalTimeout,
		now:           time.Now,
		clients:       make(map[string]*Client),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Serve runs a websocket connection until it closes.
func (r *Relay) Serve(ctx context.Context, conn *websocket.Conn) {
	c := NewClient(uuid.New().String(), conn)
	r.Register(c)

	go c.writePump()
	c.readPump(ctx, r)
}

// Register moves a freshly connected client to the joined state.
func (r *Relay) Register(c *Client) {
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()

	c.setState(StateJoined)
	c.emit(models.EventWelcome, models.Welcome{ID: c.ID})
	c.log.Info().Msg("Client connected")
}

// Unregister runs the leave path and discards all relay state of c.
func (r *Relay) Unregister(ctx context.Context, c *Client) {
	if c.State() == StateLeft {
		return
	}

	r.leave(context.WithoutCancel(ctx), c)

	r.mu.Lock()
	delete(r.clients, c.ID)
	r.mu.Unlock()

	c.setState(StateLeft)
	c.Close()
	c.log.Info().Msg("Client disconnected")
}

// Handle dispatches one inbound frame.
func (r *Relay) Handle(ctx context.Context, c *Client, ev models.Event) {
	switch c.State() {
	case StateJoined, StateRelaying:
	default:
		return
	}

	switch ev.Event {
	case models.EventJoinRoom:
		var roomID string
		if err := ev.Decode(&roomID); err != nil {
			c.log.Debug().Err(err).Msg("Malformed join-room")
			return
		}
		r.join(ctx, c, strings.TrimSpace(roomID))

	case models.EventLeaveRoom:
		r.leave(ctx, c)

	case models.EventSignal:
		r.forward(ctx, c, ev)

	case models.EventChat:
		r.chat(ctx, c, ev)

	default:
		c.log.Debug().Str("event", string(ev.Event)).Msg("Unknown message type")
	}
}

// Client returns the live connection with the given id.
func (r *Relay) Client(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Shutdown closes every connection. Their read pumps run the leave path.
func (r *Relay) Shutdown() {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
	log.Info().Int("clients", len(clients)).Msg("Relay shut down")
}

func (r *Relay) join(ctx context.Context, c *Client, roomID string) {
	if roomID == "" {
		return
	}

	current := c.Room()
	if current == roomID {
		return
	}
	if current != "" {
		r.leave(ctx, c)
	}

	_, err := r.registry.Join(ctx, roomID, c.ID, func(res registry.JoinResult) {
		c.enterRoom(roomID, res.Member.Role)

		c.emit(models.EventAllUsers, res.OtherIDs())
		c.emit(models.EventUserRole, models.UserRole{
			Role:    res.Member.Role,
			IsFirst: res.IsFirst(),
		})

		frame, err := encodeEvent(models.EventUserJoined, c.ID)
		if err != nil {
			return
		}
		r.broadcast(res.OtherIDs(), frame)
	})
	if err != nil {
		c.log.Error().Err(err).Str("room_id", roomID).Msg("Failed to join room")
	}
}

func (r *Relay) leave(ctx context.Context, c *Client) {
	roomID := c.Room()
	if roomID == "" {
		return
	}

	_, err := r.registry.Leave(ctx, roomID, c.ID, func(res registry.LeaveResult) {
		c.exitRoom()

		frame, err := encodeEvent(models.EventUserDisconnected, c.ID)
		if err != nil {
			return
		}
		r.broadcast(res.RemainingIDs(), frame)
	})
	if err != nil {
		c.log.Error().Err(err).Str("room_id", roomID).Msg("Failed to leave room")
	}

	// The registry may not have known the member (store reset); drop the index anyway.
	c.exitRoom()
}

// forward relays a signal to a peer of the same room. Anything else is
// dropped without telling the sender.
func (r *Relay) forward(ctx context.Context, c *Client, ev models.Event) {
	roomID := c.Room()
	if roomID == "" {
		return
	}

	var sig models.Signal
	if err := ev.Decode(&sig); err != nil || sig.To == "" || sig.To == c.ID {
		c.log.Debug().Msg("Dropped malformed signal")
		return
	}

	var kind models.SignalKind
	if err := json.Unmarshal(sig.Data, &kind); err != nil || !kind.Type.Valid() {
		c.log.Debug().Str("to", sig.To).Msg("Dropped signal with unknown type")
		return
	}

	target, ok := r.Client(sig.To)
	if !ok || target.Room() != roomID {
		c.log.Debug().Str("to", sig.To).Str("room_id", roomID).Msg("Dropped signal outside room")
		return
	}

	frame, err := encodeEvent(models.EventSignal, models.Signal{From: c.ID, Data: sig.Data})
	if err != nil {
		return
	}
	target.sendWait(ctx, frame, r.signalTimeout)
}

func (r *Relay) chat(ctx context.Context, c *Client, ev models.Event) {
	roomID := c.Room()
	if roomID == "" {
		return
	}

	var req models.ChatRequest
	if err := ev.Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return
	}

	members, err := r.registry.MembersOf(ctx, roomID)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to read room members")
		return
	}

	frame, err := encodeEvent(models.EventChat, models.ChatMessage{
		From:   c.ID,
		Role:   c.Role(),
		Text:   req.Text,
		SentAt: r.now().UTC(),
	})
	if err != nil {
		return
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.ID != c.ID {
			ids = append(ids, m.ID)
		}
	}
	r.broadcast(ids, frame)
}

// broadcast is fire-and-forget: a full queue drops the frame for that client.
// Members connected to another instance are skipped.
func (r *Relay) broadcast(ids []string, frame []byte) {
	for _, id := range ids {
		if target, ok := r.Client(id); ok {
			target.trySend(frame)
		}
	}
}
