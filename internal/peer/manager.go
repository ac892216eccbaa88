// Package peer keeps one WebRTC session per remote participant.
package peer

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/mossy-p/consult-signaling/internal/speaker"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DefaultMuteTimeout is how long remote video may stay silent before it is
// reported as muted.
const DefaultMuteTimeout = 1500 * time.Millisecond

// Manager owns the sessions of the local participant and the roster of
// remote ids. All methods are safe for concurrent use.
type Manager struct {
	localID     string
	factory     Factory
	signaler    Signaler
	tracks      []webrtc.TrackLocal
	detector    *speaker.Detector
	muteTimeout time.Duration

	onRoster func(roster []string)
	onVideo  func(id string, enabled bool)

	mu       sync.Mutex
	sessions map[string]*Session
	roster   []string
}

type ManagerOption func(*Manager)

// WithLocalTracks sends tracks to every peer. Without local tracks the
// sessions are receive-only.
func WithLocalTracks(tracks ...webrtc.TrackLocal) ManagerOption {
	return func(m *Manager) { m.tracks = append(m.tracks, tracks...) }
}

// WithDetector feeds the remote audio levels into d.
func WithDetector(d *speaker.Detector) ManagerOption {
	return func(m *Manager) { m.detector = d }
}

func WithMuteTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.muteTimeout = d
		}
	}
}

// OnRosterChange is called with a copy of the roster after every change.
func OnRosterChange(fn func(roster []string)) ManagerOption {
	return func(m *Manager) { m.onRoster = fn }
}

// OnRemoteVideo is called when a remote video track mutes or unmutes.
func OnRemoteVideo(fn func(id string, enabled bool)) ManagerOption {
	return func(m *Manager) { m.onVideo = fn }
}

func NewManager(localID string, factory Factory, signaler Signaler, opts ...ManagerOption) *Manager {
	m := &Manager{
		localID:     localID,
		factory:     factory,
		signaler:    signaler,
		muteTimeout: DefaultMuteTimeout,
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) LocalID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localID
}

// SetLocalID changes the identity used for new sessions. The relay assigns a
// fresh id on every connection.
func (m *Manager) SetLocalID(id string) {
	m.mu.Lock()
	m.localID = id
	m.mu.Unlock()
}

// Ensure returns the session for remoteID, creating it if needed. Repeated
// calls never create a second connection.
func (m *Manager) Ensure(remoteID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if remoteID == "" || remoteID == m.localID {
		return nil, ErrSelfSession
	}
	if s, ok := m.sessions[remoteID]; ok {
		return s, nil
	}

	pc, err := m.factory()
	if err != nil {
		return nil, err
	}

	s := newSession(m.localID, remoteID, pc, m.signaler, m.release)
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.handleTrack(s, track, receiver)
	})

	if err := m.attachMedia(pc); err != nil {
		pc.Close()
		return nil, err
	}

	m.sessions[remoteID] = s
	if !slices.Contains(m.roster, remoteID) {
		m.roster = append(m.roster, remoteID)
	}
	m.notifyRosterLocked()

	log.Info().
		Str("peer_id", remoteID).
		Bool("offerer", !s.Polite()).
		Msg("Peer session created")

	return s, nil
}

func (m *Manager) attachMedia(pc PeerConnection) error {
	if len(m.tracks) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			_, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
			if err != nil {
				return fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
		return nil
	}

	for _, track := range m.tracks {
		if _, err := pc.AddTrack(track); err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
	}
	return nil
}

// Session looks up an existing session.
func (m *Manager) Session(remoteID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[remoteID]
	return s, ok
}

// HandleSignal routes a signal to the session of its sender. Sessions are
// only created from the roster, so signals from unknown peers are dropped.
func (m *Manager) HandleSignal(from string, data SignalData) error {
	s, ok := m.Session(from)
	if !ok {
		log.Debug().Str("peer_id", from).Str("type", string(data.Type)).Msg("Dropping signal for unknown peer")
		return nil
	}

	err := s.HandleSignal(data)
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// Remove closes the session for remoteID and drops it from the roster.
func (m *Manager) Remove(remoteID string) {
	s, ok := m.Session(remoteID)
	if ok {
		s.Close()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(remoteID)
}

// CloseAll tears every session down and empties the roster.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.roster) > 0 {
		m.roster = nil
		m.notifyRosterLocked()
	}
}

// Roster returns the remote ids in the order they were added.
func (m *Manager) Roster() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.roster)
}

// release is the close hook of every session.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[s.RemoteID()]; ok && cur == s {
		m.dropLocked(s.RemoteID())
	}
}

func (m *Manager) dropLocked(remoteID string) {
	delete(m.sessions, remoteID)
	if m.detector != nil {
		m.detector.Untrack(remoteID)
	}

	before := len(m.roster)
	m.roster = slices.DeleteFunc(m.roster, func(id string) bool { return id == remoteID })
	if len(m.roster) != before {
		m.notifyRosterLocked()
	}
}

func (m *Manager) notifyRosterLocked() {
	if m.onRoster != nil {
		m.onRoster(slices.Clone(m.roster))
	}
}

func (m *Manager) handleTrack(s *Session, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	log.Info().
		Str("peer_id", s.RemoteID()).
		Str("kind", track.Kind().String()).
		Str("codec", track.Codec().MimeType).
		Msg("Remote track received")

	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		meter := speaker.NewLevelMeter()
		if !m.trackAudio(s, meter) {
			return
		}
		go readAudio(track, meter, audioLevelExtensionID(receiver))

	case webrtc.RTPCodecTypeVideo:
		m.setRemoteVideo(s, true)
		go m.watchVideo(s, track)
	}
}

// trackAudio registers the peer's meter with the detector while the session
// is still live. The check runs under m.mu so release cannot untrack first.
func (m *Manager) trackAudio(s *Session, meter speaker.Sampler) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[s.RemoteID()]; !ok || cur != s || s.State() == StateClosed {
		log.Debug().Str("peer_id", s.RemoteID()).Msg("Ignoring audio track of closed session")
		return false
	}
	if m.detector != nil {
		m.detector.Track(s.RemoteID(), meter)
	}
	return true
}

func readAudio(track *webrtc.TrackRemote, meter *speaker.LevelMeter, extID uint8) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		meter.ObservePacket(pkt, extID)
	}
}

// watchVideo reports the remote video as muted while no packets arrive.
func (m *Manager) watchVideo(s *Session, track *webrtc.TrackRemote) {
	for s.State() != StateClosed {
		if err := track.SetReadDeadline(time.Now().Add(m.muteTimeout)); err != nil {
			return
		}

		_, _, err := track.ReadRTP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				m.setRemoteVideo(s, false)
				continue
			}
			return
		}
		m.setRemoteVideo(s, true)
	}
}

func (m *Manager) setRemoteVideo(s *Session, enabled bool) {
	if s.RemoteVideoEnabled() == enabled {
		return
	}
	s.setRemoteVideo(enabled)
	if m.onVideo != nil {
		m.onVideo(s.RemoteID(), enabled)
	}
}
