// Package call joins a consultation room: it owns the local media, the
// signaling transport and the peer sessions of one participant.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/consult-signaling/config"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/mossy-p/consult-signaling/internal/peer"
	"github.com/mossy-p/consult-signaling/internal/speaker"
	"github.com/mossy-p/consult-signaling/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDeviceAcquisition = errors.New("could not access camera or microphone")
	ErrEmptyRoom         = errors.New("room id is required")
	ErrNotInCall         = errors.New("call is not running")
)

// LocalSpeaker is the detector id of the local microphone.
const LocalSpeaker = "local"

const noticeBuffer = 64

// NoticeKind tells which field of a Notice is set.
type NoticeKind string

const (
	NoticeStatus   NoticeKind = "status"
	NoticeRole     NoticeKind = "role"
	NoticeRoster   NoticeKind = "roster"
	NoticePeerLeft NoticeKind = "peer-left"
	NoticeChat     NoticeKind = "chat"
	NoticeSpeaker  NoticeKind = "speaker"
	NoticeVideo    NoticeKind = "video"
)

// Notice is a change the user interface may want to show.
type Notice struct {
	Kind    NoticeKind
	Status  transport.Status
	Role    models.Role
	IsFirst bool
	Roster  []string
	Peer    string
	Enabled bool
	Chat    models.ChatMessage
}

type Options struct {
	Config *config.ClientConfig
	RoomID string

	// Media defaults to Synthetic.
	Media MediaSource
	// Factory defaults to pion with the configured ICE servers.
	Factory peer.Factory
	Dialer  *websocket.Dialer
}

// Call is one participant's connection to a room.
type Call struct {
	cfg      *config.ClientConfig
	roomID   string
	media    MediaSource
	factory  peer.Factory
	dialer   *websocket.Dialer
	detector *speaker.Detector
	notices  chan Notice
	log      zerolog.Logger

	mu      sync.Mutex
	status  transport.Status
	localID string
	role    models.Role
	isFirst bool
	chat    []models.ChatMessage
	tr      *transport.Client
	manager *peer.Manager
	local   LocalMedia
	left    bool
}

func New(opts Options) (*Call, error) {
	roomID := strings.TrimSpace(opts.RoomID)
	if roomID == "" {
		return nil, ErrEmptyRoom
	}
	if opts.Config == nil {
		return nil, errors.New("client config is required")
	}

	c := &Call{
		cfg:     opts.Config,
		roomID:  roomID,
		media:   opts.Media,
		factory: opts.Factory,
		dialer:  opts.Dialer,
		notices: make(chan Notice, noticeBuffer),
		status:  transport.StatusConnecting,
		log:     log.With().Str("room_id", roomID).Logger(),
	}
	if c.media == nil {
		c.media = Synthetic
	}
	if c.factory == nil {
		f, err := peer.NewFactory(opts.Config)
		if err != nil {
			return nil, err
		}
		c.factory = f
	}

	c.detector = speaker.New(
		speaker.WithInterval(opts.Config.SpeakerInterval),
		speaker.WithThreshold(opts.Config.SpeakerThreshold),
		speaker.OnChange(func(id string) {
			c.notify(Notice{Kind: NoticeSpeaker, Peer: id})
		}),
	)
	return c, nil
}

// Notices streams user-visible changes. Notices are dropped when the
// reader falls behind.
func (c *Call) Notices() <-chan Notice {
	return c.notices
}

// Run acquires local media, connects to the relay and joins the room. It
// returns after Leave, ctx cancellation, or when the relay stays unreachable.
// Sessions are always closed before local media is released.
func (c *Call) Run(ctx context.Context) error {
	local, err := c.media(ctx)
	if err != nil {
		c.setStatus(transport.StatusDisconnected)
		return fmt.Errorf("%w: %v", ErrDeviceAcquisition, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr := transport.NewClient(c.cfg.ServerURL, transport.Options{
		ReconnectAttempts: c.cfg.ReconnectAttempts,
		ReconnectDelay:    c.cfg.ReconnectDelay,
		Dialer:            c.dialer,
	})
	mgr := peer.NewManager("", c.factory, relaySignaler{tr: tr},
		peer.WithLocalTracks(local.Tracks()...),
		peer.WithDetector(c.detector),
		peer.WithMuteTimeout(c.cfg.MuteTimeout),
		peer.OnRosterChange(func(roster []string) {
			c.notify(Notice{Kind: NoticeRoster, Roster: roster})
		}),
		peer.OnRemoteVideo(func(id string, enabled bool) {
			c.notify(Notice{Kind: NoticeVideo, Peer: id, Enabled: enabled})
		}),
	)
	c.detector.Track(LocalSpeaker, local.Meter())

	c.mu.Lock()
	c.tr = tr
	c.manager = mgr
	c.local = local
	left := c.left
	c.mu.Unlock()
	if left {
		tr.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tr.Run(gctx)
	})
	g.Go(func() error {
		c.detector.Run(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		c.dispatch(tr, mgr)
		return nil
	})
	err = g.Wait()

	mgr.CloseAll()
	c.detector.Untrack(LocalSpeaker)
	if cerr := local.Close(); cerr != nil {
		c.log.Warn().Err(cerr).Msg("Failed to release local media")
	}

	c.log.Info().Msg("Left call")
	return err
}

// Leave ends Run. Calling it before Run makes Run return right after connecting.
func (c *Call) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.left = true
	if c.tr != nil {
		c.tr.Close()
	}
}

// SendChat sends text to the room and records it in the local chat log.
func (c *Call) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return ErrNotInCall
	}

	if err := tr.Send(models.EventChat, models.ChatRequest{Text: text}); err != nil {
		return err
	}

	c.mu.Lock()
	c.chat = append(c.chat, models.ChatMessage{
		From:   c.localID,
		Role:   c.role,
		Text:   text,
		SentAt: time.Now().UTC(),
	})
	c.mu.Unlock()
	return nil
}

// ToggleAudio flips the microphone and returns the new state.
func (c *Call) ToggleAudio() (bool, error) {
	local, err := c.localMedia()
	if err != nil {
		return false, err
	}
	enabled := !local.AudioEnabled()
	local.SetAudioEnabled(enabled)
	return enabled, nil
}

// ToggleVideo flips the camera and returns the new state.
func (c *Call) ToggleVideo() (bool, error) {
	local, err := c.localMedia()
	if err != nil {
		return false, err
	}
	enabled := !local.VideoEnabled()
	local.SetVideoEnabled(enabled)
	return enabled, nil
}

func (c *Call) localMedia() (LocalMedia, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return nil, ErrNotInCall
	}
	return c.local, nil
}

func (c *Call) Status() transport.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Role is the role assigned by the relay, empty until the room is joined.
func (c *Call) Role() (models.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, c.isFirst
}

func (c *Call) LocalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

// Roster is the list of remote peers with a live session.
func (c *Call) Roster() []string {
	c.mu.Lock()
	mgr := c.manager
	c.mu.Unlock()
	if mgr == nil {
		return nil
	}
	return mgr.Roster()
}

func (c *Call) ChatLog() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.chat)
}

// ActiveSpeaker is the current loudest participant, LocalSpeaker for the
// local microphone, or "" when nobody is speaking.
func (c *Call) ActiveSpeaker() string {
	return c.detector.Current()
}

func (c *Call) dispatch(tr *transport.Client, mgr *peer.Manager) {
	for u := range tr.Updates() {
		if u.Status != "" {
			c.handleStatus(u.Status, tr, mgr)
			continue
		}
		c.handleEvent(u.Event, mgr)
	}
}

func (c *Call) handleStatus(status transport.Status, tr *transport.Client, mgr *peer.Manager) {
	c.setStatus(status)

	switch status {
	case transport.StatusConnected:
		if err := tr.Send(models.EventJoinRoom, c.roomID); err != nil {
			c.log.Error().Err(err).Msg("Failed to join room")
		}

	case transport.StatusReconnecting, transport.StatusDisconnected:
		// The relay forgets us with the connection; peers will see us as new.
		mgr.CloseAll()
		c.mu.Lock()
		c.role = ""
		c.isFirst = false
		c.mu.Unlock()
	}
}

func (c *Call) handleEvent(ev models.Event, mgr *peer.Manager) {
	switch ev.Event {
	case models.EventWelcome:
		var w models.Welcome
		if err := ev.Decode(&w); err != nil {
			c.log.Warn().Err(err).Msg("Malformed welcome")
			return
		}
		mgr.SetLocalID(w.ID)
		c.mu.Lock()
		c.localID = w.ID
		c.mu.Unlock()

	case models.EventAllUsers:
		var ids []string
		if err := ev.Decode(&ids); err != nil {
			c.log.Warn().Err(err).Msg("Malformed all-users")
			return
		}
		for _, id := range ids {
			c.ensure(mgr, id)
		}

	case models.EventUserJoined:
		var id string
		if err := ev.Decode(&id); err != nil {
			c.log.Warn().Err(err).Msg("Malformed user-joined")
			return
		}
		c.ensure(mgr, id)

	case models.EventUserRole:
		var r models.UserRole
		if err := ev.Decode(&r); err != nil {
			c.log.Warn().Err(err).Msg("Malformed user-role")
			return
		}
		c.mu.Lock()
		c.role = r.Role
		c.isFirst = r.IsFirst
		c.mu.Unlock()
		c.log.Info().Str("role", string(r.Role)).Bool("is_first", r.IsFirst).Msg("Role assigned")
		c.notify(Notice{Kind: NoticeRole, Role: r.Role, IsFirst: r.IsFirst})

	case models.EventUserDisconnected:
		var id string
		if err := ev.Decode(&id); err != nil {
			c.log.Warn().Err(err).Msg("Malformed user-disconnected")
			return
		}
		mgr.Remove(id)
		c.notify(Notice{Kind: NoticePeerLeft, Peer: id})

	case models.EventSignal:
		var sig models.Signal
		if err := ev.Decode(&sig); err != nil {
			c.log.Warn().Err(err).Msg("Malformed signal")
			return
		}
		var data peer.SignalData
		if err := json.Unmarshal(sig.Data, &data); err != nil {
			c.log.Warn().Err(err).Str("peer_id", sig.From).Msg("Malformed signal data")
			return
		}
		if err := mgr.HandleSignal(sig.From, data); err != nil {
			c.log.Error().Err(err).Str("peer_id", sig.From).Msg("Signal error")
		}

	case models.EventChat:
		var msg models.ChatMessage
		if err := ev.Decode(&msg); err != nil {
			c.log.Warn().Err(err).Msg("Malformed chat")
			return
		}
		c.mu.Lock()
		c.chat = append(c.chat, msg)
		c.mu.Unlock()
		c.notify(Notice{Kind: NoticeChat, Chat: msg})

	default:
		c.log.Debug().Str("event", string(ev.Event)).Msg("Unknown message type")
	}
}

func (c *Call) ensure(mgr *peer.Manager, id string) {
	if _, err := mgr.Ensure(id); err != nil && !errors.Is(err, peer.ErrSelfSession) {
		c.log.Error().Err(err).Str("peer_id", id).Msg("Failed to create peer session")
	}
}

func (c *Call) setStatus(status transport.Status) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	c.mu.Unlock()

	if changed {
		c.log.Info().Str("status", string(status)).Msg("Connection status changed")
		c.notify(Notice{Kind: NoticeStatus, Status: status})
	}
}

func (c *Call) notify(n Notice) {
	select {
	case c.notices <- n:
	default:
	}
}

// relaySignaler sends peer signals through the relay connection.
type relaySignaler struct {
	tr *transport.Client
}

func (s relaySignaler) Signal(to string, data peer.SignalData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.tr.Send(models.EventSignal, models.Signal{To: to, Data: raw})
}
