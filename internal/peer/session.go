package peer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionClosed = errors.New("peer session closed")
	ErrSelfSession   = errors.New("cannot open a session to self")
	ErrMissingSDP    = errors.New("signal without session description")
)

// State is the lifecycle of a peer session.
type State int

const (
	StateAbsent State = iota
	StateCreated
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateCreated:
		return "created"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session negotiates media with one remote peer over one PeerConnection.
type Session struct {
	localID  string
	remoteID string
	polite   bool
	pc       PeerConnection
	signaler Signaler
	log      zerolog.Logger
	onClose  func(*Session)

	// negMu serializes offer/answer handling. It is never held by pion callbacks.
	negMu sync.Mutex

	mu          sync.Mutex
	state       State
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	remoteVideo bool
}

func newSession(localID, remoteID string, pc PeerConnection, signaler Signaler, onClose func(*Session)) *Session {
	s := &Session{
		localID:  localID,
		remoteID: remoteID,
		polite:   !IsOfferer(localID, remoteID),
		pc:       pc,
		signaler: signaler,
		onClose:  onClose,
		state:    StateCreated,
		log:      log.With().Str("peer_id", remoteID).Logger(),
	}

	pc.OnICECandidate(s.handleLocalCandidate)
	pc.OnConnectionStateChange(s.handleConnectionState)
	pc.OnNegotiationNeeded(func() {
		go func() {
			if err := s.Negotiate(); err != nil && !errors.Is(err, ErrSessionClosed) {
				s.log.Error().Err(err).Msg("Error during negotiation")
			}
		}()
	})

	return s
}

func (s *Session) RemoteID() string { return s.remoteID }

// Polite is true when this side answers rather than offers.
func (s *Session) Polite() bool { return s.polite }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteVideoEnabled is the last observed mute state of the remote video.
func (s *Session) RemoteVideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteVideo
}

// PendingCandidates is the number of remote candidates waiting for the
// remote description.
func (s *Session) PendingCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Negotiate creates and sends an offer when this side is the offerer.
// The polite side waits for the remote offer instead.
func (s *Session) Negotiate() error {
	if s.polite {
		return nil
	}

	s.negMu.Lock()
	defer s.negMu.Unlock()

	if !s.transition(StateNegotiating) {
		return ErrSessionClosed
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	s.log.Debug().Msg("Sending offer")
	return s.signaler.Signal(s.remoteID, SignalData{Type: models.SignalTypeOffer, SDP: &offer})
}

// HandleSignal applies one signal received from the remote peer.
func (s *Session) HandleSignal(data SignalData) error {
	switch data.Type {
	case models.SignalTypeOffer:
		return s.handleOffer(data.SDP)
	case models.SignalTypeAnswer:
		return s.handleAnswer(data.SDP)
	case models.SignalTypeCandidate:
		if data.Candidate == nil {
			return nil
		}
		return s.handleRemoteCandidate(*data.Candidate)
	}
	return fmt.Errorf("unexpected signal type %q", data.Type)
}

func (s *Session) handleOffer(offer *webrtc.SessionDescription) error {
	if offer == nil {
		return ErrMissingSDP
	}

	s.negMu.Lock()
	defer s.negMu.Unlock()

	// The impolite side never yields to a colliding offer.
	if !s.polite && s.pc.SignalingState() != webrtc.SignalingStateStable {
		s.log.Debug().Msg("Ignoring colliding offer")
		return nil
	}

	if !s.transition(StateNegotiating) {
		return ErrSessionClosed
	}

	if err := s.pc.SetRemoteDescription(*offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	s.flushCandidates()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	s.settle()

	s.log.Debug().Msg("Sending answer")
	return s.signaler.Signal(s.remoteID, SignalData{Type: models.SignalTypeAnswer, SDP: &answer})
}

func (s *Session) handleAnswer(answer *webrtc.SessionDescription) error {
	if answer == nil {
		return ErrMissingSDP
	}

	s.negMu.Lock()
	defer s.negMu.Unlock()

	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	if err := s.pc.SetRemoteDescription(*answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	s.flushCandidates()
	s.settle()
	return nil
}

// settle returns a renegotiated session to connected. ICE stays up across a
// renegotiation, so no new connected event arrives.
func (s *Session) settle() {
	if s.pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
		s.transition(StateConnected)
	}
}

// handleRemoteCandidate applies a candidate, or buffers it until the remote
// description is known.
func (s *Session) handleRemoteCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (s *Session) flushCandidates() {
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.log.Warn().Err(err).Msg("Failed to apply buffered candidate")
		}
	}
}

// handleLocalCandidate trickles a gathered candidate straight to the peer.
func (s *Session) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil || s.State() == StateClosed {
		return
	}

	init := c.ToJSON()
	if err := s.signaler.Signal(s.remoteID, SignalData{Type: models.SignalTypeCandidate, Candidate: &init}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send candidate")
	}
}

func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	s.log.Debug().Str("state", state.String()).Msg("Connection state changed")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.transition(StateConnected)
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		s.Close()
	}
}

func (s *Session) setRemoteVideo(enabled bool) {
	s.mu.Lock()
	s.remoteVideo = enabled
	s.mu.Unlock()
}

// transition moves to next unless the session is closed.
func (s *Session) transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = next
	return true
}

// Close releases the connection. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.pending = nil
	s.mu.Unlock()

	err := s.pc.Close()
	if s.onClose != nil {
		s.onClose(s)
	}
	s.log.Info().Msg("Peer session closed")
	return err
}
