package speaker

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Analyser range, as in a browser AnalyserNode with default settings:
// -100 dB maps to 0, -30 dB to 255.
const (
	minDecibels = -100
	maxDecibels = -30
	staleAfter  = time.Second
)

// LevelMeter turns RFC 6464 audio levels into byte magnitudes. It keeps the
// last BufferSize observations, so a Sample reflects roughly the last half
// second of a 20 ms packetised stream.
type LevelMeter struct {
	mu       sync.Mutex
	ring     [BufferSize]byte
	next     int
	lastSeen time.Time
	now      func() time.Time
}

func NewLevelMeter() *LevelMeter {
	return &LevelMeter{now: time.Now}
}

// ObserveLevel records a level in -dBov (0 loudest, 127 silence).
func (m *LevelMeter) ObserveLevel(level uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.next] = Magnitude(level)
	m.next = (m.next + 1) % BufferSize
	m.lastSeen = m.now()
}

// ObservePacket reads the audio level extension with the negotiated id.
// Packets without the extension are ignored.
func (m *LevelMeter) ObservePacket(pkt *rtp.Packet, extensionID uint8) {
	if extensionID == 0 || pkt == nil {
		return
	}
	payload := pkt.GetExtension(extensionID)
	if payload == nil {
		return
	}

	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(payload); err != nil {
		return
	}
	m.ObserveLevel(ext.Level)
}

// Sample copies the recent magnitudes into buf. A source that stopped sending
// reads as silence.
func (m *LevelMeter) Sample(buf []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastSeen.IsZero() || m.now().Sub(m.lastSeen) > staleAfter {
		clear(buf)
		return
	}
	copy(buf, m.ring[:])
}

// Magnitude maps -dBov to the analyser's byte scale.
func Magnitude(level uint8) byte {
	db := -int(level)
	switch {
	case db <= minDecibels:
		return 0
	case db >= maxDecibels:
		return 255
	}
	return byte(255 * (db - minDecibels) / (maxDecibels - minDecibels))
}
