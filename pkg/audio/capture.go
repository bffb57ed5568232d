// Package audio defines the capture and playback primitives used by the
// interview engine.
//
// The central abstraction is [Stream], the media handle returned by a
// [Source]. A Stream owns the captured tracks for one interview, fans audio
// frames out to its subscribers (the silence detector and the active
// transcription turn), and is released exactly once when the interview is
// torn down. Muting toggles track enablement on the held stream and never
// re-acquires the device.
//
// Capture backends (the WebSocket room, test fakes) implement [Source] and
// feed frames into the stream with [Stream.Push].
package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrPermissionDenied is returned by [Source.Acquire] when the user
	// refused microphone access.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable is returned by [Source.Acquire] when no capture
	// device could be opened or the client never answered.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")
)

// defaultSubscriberBuffer is the per-subscriber channel capacity. At 20 ms
// frames this holds roughly two seconds of audio.
const defaultSubscriberBuffer = 100

// Source acquires a capture stream for one interview.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Acquire obtains the capture stream. It returns an error wrapping
	// [ErrPermissionDenied] or [ErrDeviceUnavailable] on failure. Acquire is
	// called once per interview; callers keep the returned stream for the
	// lifetime of the session.
	Acquire(ctx context.Context) (*Stream, error)
}

// TrackKind classifies the media carried by a [Track].
type TrackKind int

const (
	// TrackAudio carries microphone audio.
	TrackAudio TrackKind = iota

	// TrackVideo carries camera video. The engine never reads video frames;
	// the track is held only so that it is stopped together with the stream.
	TrackVideo
)

// String returns the human-readable name of the track kind.
func (k TrackKind) String() string {
	switch k {
	case TrackAudio:
		return "audio"
	case TrackVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Track is a single media track owned by a [Stream].
type Track struct {
	ID   string
	Kind TrackKind

	enabled atomic.Bool
	stopped atomic.Bool
}

// Enabled reports whether the track currently delivers media.
func (t *Track) Enabled() bool { return t.enabled.Load() && !t.stopped.Load() }

// Stopped reports whether the track was stopped by [Stream.Release].
func (t *Track) Stopped() bool { return t.stopped.Load() }

// StreamOption configures a [Stream] during construction.
type StreamOption func(*Stream)

// WithVideoTrack adds a video track with the given ID to the stream.
func WithVideoTrack(id string) StreamOption {
	return func(s *Stream) {
		t := &Track{ID: id, Kind: TrackVideo}
		t.enabled.Store(true)
		s.tracks = append(s.tracks, t)
	}
}

// WithOnRelease registers fn to run once when the stream is released. Capture
// backends use it to stop the underlying device.
func WithOnRelease(fn func()) StreamOption {
	return func(s *Stream) {
		s.onRelease = fn
	}
}

// WithSubscriberBuffer sets the channel capacity of each subscriber.
// Frames are dropped for a subscriber whose buffer is full.
func WithSubscriberBuffer(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.subBuffer = n
		}
	}
}

// Stream is the media handle for one interview. It holds one audio track
// (plus optional video tracks) and distributes pushed audio frames to all
// current subscribers.
//
// All methods are safe for concurrent use.
type Stream struct {
	id        string
	format    Format
	tracks    []*Track
	audio     *Track
	subBuffer int
	onRelease func()

	mu       sync.Mutex
	subs     map[uint64]chan AudioFrame
	nextSub  uint64
	released bool

	releaseOnce sync.Once
	dropped     atomic.Int64
}

// NewStream creates a stream whose audio track delivers frames in format.
func NewStream(id string, format Format, opts ...StreamOption) *Stream {
	at := &Track{ID: id + "-audio", Kind: TrackAudio}
	at.enabled.Store(true)
	s := &Stream{
		id:        id,
		format:    format,
		tracks:    []*Track{at},
		audio:     at,
		subBuffer: defaultSubscriberBuffer,
		subs:      make(map[uint64]chan AudioFrame),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// Format returns the format of the frames delivered by the audio track.
func (s *Stream) Format() Format { return s.format }

// Tracks returns all tracks held by the stream, audio first.
func (s *Stream) Tracks() []*Track {
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// SetMuted enables or disables the audio track. While muted, pushed frames
// are discarded. Muting a released stream is a no-op.
func (s *Stream) SetMuted(muted bool) {
	if s.audio.Stopped() {
		return
	}
	s.audio.enabled.Store(!muted)
}

// Muted reports whether the audio track is disabled.
func (s *Stream) Muted() bool { return !s.audio.enabled.Load() }

// Dropped returns the number of frames discarded because a subscriber was
// not keeping up.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Subscribers returns the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Push delivers frame to every subscriber without blocking. It returns false
// when the frame was discarded because the stream is muted or released.
func (s *Stream) Push(frame AudioFrame) bool {
	if !s.audio.Enabled() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	for _, ch := range s.subs {
		select {
		case ch <- frame:
		default:
			s.dropped.Add(1)
		}
	}
	return true
}

// Subscribe registers a new reader of the audio track. The returned cancel
// function unregisters the reader and closes its channel; calling it more
// than once is safe. Subscribing to a released stream yields a closed
// channel.
func (s *Stream) Subscribe() (<-chan AudioFrame, func()) {
	ch := make(chan AudioFrame, s.subBuffer)

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Release stops every track, closes all subscriber channels and runs the
// release callback. Only the first call has any effect.
func (s *Stream) Release() {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		s.released = true
		for id, ch := range s.subs {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()

		for _, t := range s.tracks {
			t.stopped.Store(true)
			t.enabled.Store(false)
		}
		if s.onRelease != nil {
			s.onRelease()
		}
	})
}

// Released reports whether [Stream.Release] has been called.
func (s *Stream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
