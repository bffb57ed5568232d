// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts, and expose fields that control return values.
//
// Typical usage:
//
//	stream := audio.NewStream("mic", audio.SpeechFormat)
//	src := &mock.Source{Stream: stream}
//	got, err := src.Acquire(ctx)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Stream is returned by Acquire when Err is nil. If nil, a fresh 16 kHz
	// mono stream is created on each call.
	Stream *audio.Stream

	// Err is returned by Acquire when non-nil.
	Err error

	// Delay makes Acquire wait before returning, honouring ctx.
	Delay time.Duration

	// Gate, if non-nil, makes Acquire wait until it is closed, honouring ctx.
	Gate chan struct{}

	// AcquireCalls counts Acquire invocations.
	AcquireCalls int
}

// Acquire implements [audio.Source].
func (s *Source) Acquire(ctx context.Context) (*audio.Stream, error) {
	s.mu.Lock()
	s.AcquireCalls++
	delay, gate, err, stream := s.Delay, s.Gate, s.Err, s.Stream
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if stream == nil {
		stream = audio.NewStream("mock", audio.SpeechFormat)
	}
	return stream, nil
}

// Calls returns the number of Acquire invocations.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AcquireCalls
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink] that records written frames.
type Sink struct {
	mu sync.Mutex

	// Err is returned by WriteAudio when non-nil.
	Err error

	// Block makes WriteAudio wait until ctx is done, simulating a client that
	// stopped reading.
	Block bool

	// Frames records every accepted frame in write order.
	Frames []audio.AudioFrame
}

// WriteAudio implements [audio.Sink].
func (s *Sink) WriteAudio(ctx context.Context, frame audio.AudioFrame) error {
	s.mu.Lock()
	block, err := s.Block, s.Err
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, frame)
	return nil
}

// Written returns a copy of the recorded frames.
func (s *Sink) Written() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.Frames))
	copy(out, s.Frames)
	return out
}

// Bytes returns the total number of PCM bytes written.
func (s *Sink) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.Frames {
		n += len(f.Data)
	}
	return n
}
