package peer

import (
	"fmt"

	"github.com/mossy-p/consult-signaling/config"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of *webrtc.PeerConnection a session drives.
type PeerConnection interface {
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnNegotiationNeeded(f func())
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))

	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)

	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

// Factory creates one PeerConnection per remote peer.
type Factory func() (PeerConnection, error)

// SignalData is the "data" member of a signal envelope.
type SignalData struct {
	Type      models.SignalType          `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Signaler delivers signals to a remote peer through the relay.
type Signaler interface {
	Signal(to string, data SignalData) error
}

// NewFactory builds a pion API with the default codecs and interceptors plus
// the ssrc-audio-level header extension used for speaker detection.
func NewFactory(cfg *config.ClientConfig) (Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir))
	conf := webrtc.Configuration{ICEServers: ICEServers(cfg)}

	return func() (PeerConnection, error) {
		pc, err := api.NewPeerConnection(conf)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		return pc, nil
	}, nil
}

// ICEServers converts the configured STUN/TURN endpoints.
func ICEServers(cfg *config.ClientConfig) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}
	if len(cfg.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       cfg.TURNServers,
			Username:   cfg.TURNUser,
			Credential: cfg.TURNPass,
		})
	}
	return servers
}

// IsOfferer reports whether local initiates the offer towards remote. The
// greater id is the impolite side; exactly one of any pair offers.
func IsOfferer(localID, remoteID string) bool {
	return localID > remoteID
}

// audioLevelExtensionID returns the negotiated id of the audio level
// extension on r, or 0 when it was not negotiated.
func audioLevelExtensionID(r *webrtc.RTPReceiver) uint8 {
	for _, ext := range r.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}
