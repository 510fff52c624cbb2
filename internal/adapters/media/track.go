// Package media provides the device backends: system capture through
// pion/mediadevices and synthetic sources for headless agents and tests.
package media

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Telecall/internal/core"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

// Track is the core.LocalTrack both backends hand out.
type Track struct {
	id    string
	kind  core.TrackKind
	local webrtc.TrackLocal
	state atomic.Int32 // TrackStateLive by default

	mu        sync.Mutex
	listeners []func(bool)
	stopOnce  sync.Once
	release   func()
}

var _ core.LocalTrack = (*Track)(nil)

// NewTrack wraps local. release is called once on Stop to free the source.
func NewTrack(kind core.TrackKind, local webrtc.TrackLocal, release func()) *Track {
	return &Track{id: local.ID(), kind: kind, local: local, release: release}
}

func (t *Track) ID() string { return t.id }
func (t *Track) Kind() core.TrackKind { return t.kind }
func (t *Track) RTC() webrtc.TrackLocal { return t.local }
func (t *Track) State() TrackState { return TrackState(t.state.Load()) }
func (t *Track) Enabled() bool { return t.State() == TrackStateLive }
func (t *Track) Live() bool { return t.State() != TrackStateStopped }

func (t *Track) SetEnabled(enabled bool) {
	next := TrackStateMuted
	if enabled {
		next = TrackStateLive
	}
	prev := TrackState(t.state.Load())
	if prev == TrackStateStopped || prev == next {
		return
	}
	if !t.state.CompareAndSwap(int32(prev), int32(next)) {
		return
	}
	t.mu.Lock()
	ls := slices.Clone(t.listeners)
	t.mu.Unlock()
	for _, fn := range ls {
		fn(enabled)
	}
}

func (t *Track) OnEnabledChange(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.state.Store(int32(TrackStateStopped))
		if t.release != nil {
			t.release()
		}
	})
}
