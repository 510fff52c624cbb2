package core

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// LocalStream groups the tracks returned by one capture attempt.
type LocalStream struct {
	ID     string
	tracks []LocalTrack
}

func NewLocalStream(id string, tracks ...LocalTrack) *LocalStream {
	return &LocalStream{ID: id, tracks: tracks}
}

func (s *LocalStream) Tracks() []LocalTrack {
	out := make([]LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *LocalStream) TracksOf(kind TrackKind) []LocalTrack {
	var out []LocalTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func (s *LocalStream) HasKind(kind TrackKind) bool {
	return len(s.TracksOf(kind)) > 0
}

// Stop stops every track.
func (s *LocalStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Live reports whether any track still holds its device.
func (s *LocalStream) Live() bool {
	for _, t := range s.tracks {
		if t.Live() {
			return true
		}
	}
	return false
}

// RemoteStream collects the peer's tracks of one negotiation.
type RemoteStream struct {
	ID string

	mu      sync.RWMutex
	tracks  []*webrtc.TrackRemote
	packets atomic.Uint64
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{ID: id}
}

func (s *RemoteStream) AddTrack(t *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// CountPacket is called by the reader draining the remote tracks.
func (s *RemoteStream) CountPacket() { s.packets.Add(1) }

// Packets is the number of RTP packets received so far.
func (s *RemoteStream) Packets() uint64 { return s.packets.Load() }
