package call

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/consult-signaling/config"
	"github.com/mossy-p/consult-signaling/internal/handlers"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/mossy-p/consult-signaling/internal/peer"
	"github.com/mossy-p/consult-signaling/internal/peer/peertest"
	"github.com/mossy-p/consult-signaling/internal/registry"
	"github.com/mossy-p/consult-signaling/internal/signaling"
	"github.com/mossy-p/consult-signaling/internal/speaker"
	"github.com/mossy-p/consult-signaling/internal/transport"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	tracks  []webrtc.TrackLocal
	audioOn atomic.Bool
	videoOn atomic.Bool
	closed  atomic.Int32
	onClose func()
}

func newFakeMedia(t *testing.T) *fakeMedia {
	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	require.NoError(t, err)

	m := &fakeMedia{tracks: []webrtc.TrackLocal{audio, video}}
	m.audioOn.Store(true)
	m.videoOn.Store(true)
	return m
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return m.tracks }
func (m *fakeMedia) Meter() speaker.Sampler {
	return speaker.SamplerFunc(func([]byte) {})
}
func (m *fakeMedia) AudioEnabled() bool           { return m.audioOn.Load() }
func (m *fakeMedia) VideoEnabled() bool           { return m.videoOn.Load() }
func (m *fakeMedia) SetAudioEnabled(enabled bool) { m.audioOn.Store(enabled) }
func (m *fakeMedia) SetVideoEnabled(enabled bool) { m.videoOn.Store(enabled) }
func (m *fakeMedia) Close() error {
	if m.onClose != nil {
		m.onClose()
	}
	m.closed.Add(1)
	return nil
}

func (m *fakeMedia) source() MediaSource {
	return func(context.Context) (LocalMedia, error) { return m, nil }
}

func newRelayServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New(registry.NewMemoryStore())
	relay := signaling.NewRelay(reg)
	srv := httptest.NewServer(handlers.NewRouter(handlers.Deps{Relay: relay, Rooms: reg}))
	t.Cleanup(func() {
		relay.Shutdown()
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"
}

func testConfig(serverURL string) *config.ClientConfig {
	return &config.ClientConfig{
		ServerURL:         serverURL,
		ReconnectAttempts: 1,
		ReconnectDelay:    10 * time.Millisecond,
		SpeakerInterval:   20 * time.Millisecond,
		SpeakerThreshold:  config.DefaultSpeakerThreshold,
		MuteTimeout:       config.DefaultMuteTimeout,
	}
}

type participant struct {
	call  *Call
	pool  *peertest.Pool
	media *fakeMedia
	done  chan error
}

func join(t *testing.T, serverURL, roomID string) *participant {
	t.Helper()

	p := &participant{pool: &peertest.Pool{}, media: newFakeMedia(t), done: make(chan error, 1)}
	c, err := New(Options{
		Config:  testConfig(serverURL),
		RoomID:  roomID,
		Media:   p.media.source(),
		Factory: func() (peer.PeerConnection, error) { return p.pool.New(), nil },
	})
	require.NoError(t, err)
	p.call = c

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { p.done <- c.Run(ctx) }()
	return p
}

func TestNewRequiresRoom(t *testing.T) {
	_, err := New(Options{Config: testConfig("ws://unused"), RoomID: "  "})
	assert.ErrorIs(t, err, ErrEmptyRoom)
}

func TestDeviceFailureNeverDials(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c, err := New(Options{
		Config: testConfig("ws" + strings.TrimPrefix(srv.URL, "http")),
		RoomID: "1234",
		Media: func(context.Context) (LocalMedia, error) {
			return nil, errors.New("permission denied")
		},
		Factory: func() (peer.PeerConnection, error) { return peertest.NewConn(), nil },
	})
	require.NoError(t, err)

	err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrDeviceAcquisition)
	assert.Zero(t, hits.Load())
	assert.Equal(t, transport.StatusDisconnected, c.Status())
}

func TestGivesUpWhenRelayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	media := newFakeMedia(t)
	c, err := New(Options{
		Config:  testConfig(url),
		RoomID:  "1234",
		Media:   media.source(),
		Factory: func() (peer.PeerConnection, error) { return peertest.NewConn(), nil },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.Run(ctx)
	assert.ErrorIs(t, err, transport.ErrGaveUp)
	assert.Equal(t, transport.StatusDisconnected, c.Status())
	assert.EqualValues(t, 1, media.closed.Load())
}

func TestTwoParticipantsConnect(t *testing.T) {
	url := newRelayServer(t)

	doctor := join(t, url, "1234")
	require.Eventually(t, func() bool {
		role, _ := doctor.call.Role()
		return role == models.RoleDoctor
	}, 2*time.Second, 10*time.Millisecond)

	patient := join(t, url, "1234")
	require.Eventually(t, func() bool {
		role, _ := patient.call.Role()
		return role == models.RolePatient
	}, 2*time.Second, 10*time.Millisecond)

	_, isFirst := doctor.call.Role()
	assert.True(t, isFirst)
	_, isFirst = patient.call.Role()
	assert.False(t, isFirst)

	require.Eventually(t, func() bool {
		return slicesEqual(doctor.call.Roster(), patient.call.LocalID()) &&
			slicesEqual(patient.call.Roster(), doctor.call.LocalID())
	}, 2*time.Second, 10*time.Millisecond)

	// Exactly one side offers; both end up with a remote description.
	require.Eventually(t, func() bool {
		return hasRemote(doctor.pool) && hasRemote(patient.pool)
	}, 2*time.Second, 10*time.Millisecond)

	offerer, answerer := doctor, patient
	if !peer.IsOfferer(doctor.call.LocalID(), patient.call.LocalID()) {
		offerer, answerer = patient, doctor
	}
	assert.Equal(t, webrtc.SDPTypeAnswer, offerer.pool.Conns()[0].RemoteDescription().Type)
	assert.Equal(t, webrtc.SDPTypeOffer, answerer.pool.Conns()[0].RemoteDescription().Type)
	assert.Equal(t, 2, offerer.pool.Conns()[0].Tracks())

	require.NoError(t, patient.call.SendChat("hello doctor"))
	require.Eventually(t, func() bool { return len(doctor.call.ChatLog()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := doctor.call.ChatLog()[0]
	assert.Equal(t, "hello doctor", msg.Text)
	assert.Equal(t, patient.call.LocalID(), msg.From)
	assert.Equal(t, models.RolePatient, msg.Role)
	assert.Len(t, patient.call.ChatLog(), 1)

	on, err := patient.call.ToggleAudio()
	require.NoError(t, err)
	assert.False(t, on)

	// Sessions are released before the media they carry.
	patient.media.onClose = func() {
		for _, conn := range patient.pool.Conns() {
			assert.Equal(t, 1, conn.Closed())
		}
	}
	patient.call.Leave()

	select {
	case err := <-patient.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Leave")
	}
	assert.EqualValues(t, 1, patient.media.closed.Load())

	require.Eventually(t, func() bool { return len(doctor.call.Roster()) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, doctor.pool.Conns()[0].Closed())
}

func slicesEqual(roster []string, id string) bool {
	return id != "" && len(roster) == 1 && roster[0] == id
}

func hasRemote(pool *peertest.Pool) bool {
	conns := pool.Conns()
	return len(conns) == 1 && conns[0].RemoteDescription() != nil
}
