package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mossy-p/consult-signaling/internal/speaker"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// LocalMedia is the captured camera and microphone of the local participant.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	// Meter samples the local microphone for speaker detection.
	Meter() speaker.Sampler
	AudioEnabled() bool
	VideoEnabled() bool
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Close() error
}

// MediaSource acquires local media. An error means the devices are unavailable.
type MediaSource func(ctx context.Context) (LocalMedia, error)

const (
	opusFrame     = 20 * time.Millisecond
	opusFrameTime = 960 // 20 ms at 48 kHz
	silenceLevel  = 127

	videoFrame     = 100 * time.Millisecond
	videoFrameTime = 9000 // 100 ms at 90 kHz
)

// Opus DTX silence frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// darkKeyframe is a single-packet VP8 payload: the payload descriptor (start
// of partition 0) followed by a 16x16 keyframe header and a zeroed first
// partition.
var darkKeyframe = []byte{
	0x10,                   // descriptor: S=1, PID=0
	0x50, 0x01, 0x00,       // frame tag: keyframe, version 0, shown, first partition 10 bytes
	0x9d, 0x01, 0x2a,       // start code
	0x10, 0x00, 0x10, 0x00, // 16x16, no scaling
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// SyntheticMedia is a headless media source: an opus track carrying silence
// and a VP8 track repeating a dark keyframe. It lets the client negotiate full
// audio/video sessions without capture devices. Disabling a kind stops its
// packets, which the remote side reads as a muted track.
type SyntheticMedia struct {
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP
	meter *speaker.LevelMeter

	audioOn atomic.Bool
	videoOn atomic.Bool

	cancel    context.CancelFunc
	writers   sync.WaitGroup
	closeOnce sync.Once
}

// Synthetic is the default MediaSource.
func Synthetic(ctx context.Context) (LocalMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "consult",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "consult",
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &SyntheticMedia{
		audio:  audio,
		video:  video,
		meter:  speaker.NewLevelMeter(),
		cancel: cancel,
	}
	m.audioOn.Store(true)
	m.videoOn.Store(true)

	m.writers.Add(2)
	go m.writeAudio(ctx)
	go m.writeVideo(ctx)
	return m, nil
}

func (m *SyntheticMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.audio, m.video}
}

func (m *SyntheticMedia) Meter() speaker.Sampler { return m.meter }

func (m *SyntheticMedia) AudioEnabled() bool { return m.audioOn.Load() }
func (m *SyntheticMedia) VideoEnabled() bool { return m.videoOn.Load() }

func (m *SyntheticMedia) SetAudioEnabled(enabled bool) { m.audioOn.Store(enabled) }
func (m *SyntheticMedia) SetVideoEnabled(enabled bool) { m.videoOn.Store(enabled) }

// Close stops the writers and waits for them.
func (m *SyntheticMedia) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.writers.Wait()
	})
	return nil
}

func (m *SyntheticMedia) writeAudio(ctx context.Context) {
	defer m.writers.Done()

	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	var (
		seq uint16
		ts  uint32
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ts += opusFrameTime
		if !m.audioOn.Load() {
			continue
		}

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload: opusSilence,
		}
		seq++

		if err := m.audio.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			log.Debug().Err(err).Msg("Failed to write audio")
		}
		m.meter.ObserveLevel(silenceLevel)
	}
}

func (m *SyntheticMedia) writeVideo(ctx context.Context) {
	defer m.writers.Done()

	ticker := time.NewTicker(videoFrame)
	defer ticker.Stop()

	var (
		seq uint16
		ts  uint32
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ts += videoFrameTime
		if !m.videoOn.Load() {
			continue
		}

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload: darkKeyframe,
		}
		seq++

		if err := m.video.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			log.Debug().Err(err).Msg("Failed to write video")
		}
	}
}
