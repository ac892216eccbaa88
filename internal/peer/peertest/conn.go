// Package peertest provides an in-memory PeerConnection for tests.
package peertest

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

var ErrNoRemoteDescription = errors.New("remote description not set")

// Conn records what a session does to its connection. It fires
// negotiation-needed asynchronously when media is attached, like pion.
type Conn struct {
	mu sync.Mutex

	onICE         func(*webrtc.ICECandidate)
	onState       func(webrtc.PeerConnectionState)
	onNegotiation func()
	onTrack       func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	local        *webrtc.SessionDescription
	remote       *webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	tracks       []webrtc.TrackLocal
	transceivers []webrtc.RTPCodecType
	signaling    webrtc.SignalingState
	state        webrtc.PeerConnectionState
	closed       int
}

func NewConn() *Conn {
	return &Conn{
		signaling: webrtc.SignalingStateStable,
		state:     webrtc.PeerConnectionStateNew,
	}
}

func (c *Conn) OnICECandidate(f func(*webrtc.ICECandidate)) {
	c.mu.Lock()
	c.onICE = f
	c.mu.Unlock()
}

func (c *Conn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = f
	c.mu.Unlock()
}

func (c *Conn) OnNegotiationNeeded(f func()) {
	c.mu.Lock()
	c.onNegotiation = f
	c.mu.Unlock()
}

func (c *Conn) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = f
	c.mu.Unlock()
}

func (c *Conn) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	c.tracks = append(c.tracks, track)
	c.mu.Unlock()
	c.FireNegotiationNeeded()
	return nil, nil
}

func (c *Conn) AddTransceiverFromKind(kind webrtc.RTPCodecType, _ ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	c.mu.Lock()
	c.transceivers = append(c.transceivers, kind)
	c.mu.Unlock()
	c.FireNegotiationNeeded()
	return nil, nil
}

func (c *Conn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (c *Conn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return webrtc.SessionDescription{}, ErrNoRemoteDescription
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		c.signaling = webrtc.SignalingStateHaveLocalOffer
	} else {
		c.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		c.signaling = webrtc.SignalingStateHaveRemoteOffer
	} else {
		c.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (c *Conn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return ErrNoRemoteDescription
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signaling
}

func (c *Conn) ConnectionState() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed++
	c.state = webrtc.PeerConnectionStateClosed
	c.mu.Unlock()
	return nil
}

// FireNegotiationNeeded invokes the negotiation-needed handler on a new goroutine.
func (c *Conn) FireNegotiationNeeded() {
	c.mu.Lock()
	f := c.onNegotiation
	c.mu.Unlock()
	if f != nil {
		go f()
	}
}

// FireConnectionState invokes the connection state handler synchronously.
func (c *Conn) FireConnectionState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	c.state = state
	f := c.onState
	c.mu.Unlock()
	if f != nil {
		f(state)
	}
}

// FireICECandidate invokes the candidate handler synchronously.
func (c *Conn) FireICECandidate(candidate *webrtc.ICECandidate) {
	c.mu.Lock()
	f := c.onICE
	c.mu.Unlock()
	if f != nil {
		f(candidate)
	}
}

func (c *Conn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *Conn) Tracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}

func (c *Conn) Transceivers() []webrtc.RTPCodecType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.RTPCodecType(nil), c.transceivers...)
}

// Closed is the number of Close calls.
func (c *Conn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pool hands out Conns and remembers them.
type Pool struct {
	mu    sync.Mutex
	conns []*Conn
}

func (p *Pool) New() *Conn {
	c := NewConn()
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	return c
}

func (p *Pool) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Conn(nil), p.conns...)
}
