package media

import (
	"context"
	"sync"
	"time"
)

// TrackKind tells video tracks from audio tracks
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Track is one captured input. Stop releases it and may be called repeatedly.
type Track interface {
	Kind() TrackKind
	Label() string
	Stop()
	Stopped() bool
}

// Stream groups the tracks that are encoded together.
type Stream struct {
	mu     sync.Mutex
	tracks []Track
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{tracks: tracks}
}

func (s *Stream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// Tracks returns a copy of the track list in insertion order.
func (s *Stream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Stream) VideoTracks() []Track { return s.byKind(TrackVideo) }
func (s *Stream) AudioTracks() []Track { return s.byKind(TrackAudio) }

func (s *Stream) byKind(kind TrackKind) []Track {
	var out []Track
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// StopAll releases every track.
func (s *Stream) StopAll() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Devices acquires capture streams. It only exists on the interface side.
type Devices interface {
	VideoStream(ctx context.Context, sourceID string, fps int) (*Stream, error)
	AudioStream(ctx context.Context) (*Stream, error)
}

// ChunkFunc receives encoded media. Chunks may be empty.
type ChunkFunc func(chunk []byte)

// Encoder turns a stream into chunks emitted once per timeslice.
// Stop returns only after the last chunk has been delivered.
type Encoder interface {
	Start(timeslice time.Duration) error
	Stop() error
}

type EncoderFactory func(stream *Stream, onChunk ChunkFunc) (Encoder, error)

// ExitNotifier is implemented by encoders that can end without Stop, such as
// an external process losing its capture device. fn runs at most once, on
// the encoder's goroutine, and never after Stop has been called.
type ExitNotifier interface {
	OnExit(fn func(err error))
}

// MimeType is the container every encoder produces.
const MimeType = "video/webm"
