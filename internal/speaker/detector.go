// Package speaker picks the loudest talker among the analysed audio sources.
package speaker

import (
	"context"
	"slices"
	"sync"
	"time"
)

// BufferSize is the number of frequency bins sampled per source.
const BufferSize = 32

const (
	DefaultInterval  = 200 * time.Millisecond
	DefaultThreshold = 30
)

// Sampler fills buf with the current byte magnitudes of a source.
type Sampler interface {
	Sample(buf []byte)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(buf []byte)

func (f SamplerFunc) Sample(buf []byte) { f(buf) }

// Detector selects, on a fixed cadence, the source whose peak magnitude is
// highest and strictly above the noise floor. The result is advisory only.
type Detector struct {
	interval  time.Duration
	threshold int
	onChange  func(id string)

	mu      sync.Mutex
	order   []string
	sources map[string]Sampler
	current string
	buf     []byte
}

type Option func(*Detector)

func WithInterval(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.interval = d
		}
	}
}

func WithThreshold(t int) Option {
	return func(det *Detector) { det.threshold = t }
}

// OnChange is called from Run whenever the selected speaker changes.
// An empty id means nobody is speaking.
func OnChange(fn func(id string)) Option {
	return func(det *Detector) { det.onChange = fn }
}

func New(opts ...Option) *Detector {
	d := &Detector{
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
		sources:   make(map[string]Sampler),
		buf:       make([]byte, BufferSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Track starts analysing s under id, replacing any previous source.
func (d *Detector) Track(id string, s Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sources[id]; !ok {
		d.order = append(d.order, id)
	}
	d.sources[id] = s
}

// Untrack drops the source. Unknown ids are ignored.
func (d *Detector) Untrack(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sources[id]; !ok {
		return
	}
	delete(d.sources, id)
	d.order = slices.DeleteFunc(d.order, func(s string) bool { return s == id })
	if d.current == id {
		d.current = ""
	}
}

// Current is the last selection made by Run.
func (d *Detector) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Select samples every source once and returns the loudest id above the
// threshold, or "" when every source is below it.
func (d *Detector) Select() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selectLocked()
}

func (d *Detector) selectLocked() string {
	maxVolume := 0
	loudest := ""

	for _, id := range d.order {
		clear(d.buf)
		d.sources[id].Sample(d.buf)

		volume := int(slices.Max(d.buf))
		if volume > maxVolume && volume > d.threshold {
			maxVolume = volume
			loudest = id
		}
	}
	return loudest
}

// Run samples on every tick until ctx is done.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Detector) tick() {
	d.mu.Lock()
	selected := d.selectLocked()
	changed := selected != d.current
	d.current = selected
	d.mu.Unlock()

	if changed && d.onChange != nil {
		d.onChange(selected)
	}
}
