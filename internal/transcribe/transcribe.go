// Package transcribe turns one listening turn of captured audio into text.
//
// Two strategies share the [Adapter] contract. [Incremental] streams audio to
// a continuous recognizer and reports partial and final results as they
// arrive. [Batch] records the turn into a [RecordingSession] and sends one
// clip to a batch transcriber when the turn is stopped.
//
// A turn is started with [Adapter.StartTurn] and ended with [Handle.Stop]
// (finalize and deliver the transcript) or [Handle.Abort] (discard). Results
// and completion are reported to a [Listener]; after Abort returns no further
// callbacks are made for that turn.
package transcribe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/parley/pkg/audio"
)

var (
	// ErrTranscriptionFailed is passed to [Listener.OnTurnDone] when the turn
	// produced no usable transcript because the backend failed.
	ErrTranscriptionFailed = errors.New("transcribe: transcription failed")

	// ErrClosed is returned by StartTurn after the adapter was closed.
	ErrClosed = errors.New("transcribe: adapter closed")
)

// Mode identifies an adapter strategy.
type Mode string

const (
	// ModeIncremental streams audio to a continuous recognizer.
	ModeIncremental Mode = "incremental"

	// ModeBatch records the turn and transcribes one clip remotely.
	ModeBatch Mode = "batch"
)

// ProcessingPlaceholder is the interim text emitted while a batch clip is
// being transcribed.
const ProcessingPlaceholder = "Processing your answer…"

// Result is one transcription update for a turn.
type Result struct {
	// TurnID identifies the turn the result belongs to.
	TurnID uint64

	// Text is the full transcript of the turn so far, interim text included.
	Text string

	// Fragment is the text that triggered this update: the new final fragment
	// or the current interim.
	Fragment string

	// Final is true when Fragment was committed to the transcript.
	Final bool

	// Pending is true for the batch placeholder emitted while waiting for the
	// remote transcriber.
	Pending bool
}

// Listener receives the results of a turn. Implementations must not block;
// callbacks run on adapter goroutines.
type Listener interface {
	// OnResult delivers an interim or final update.
	OnResult(r Result)

	// OnTurnDone is called once after Stop when the transcript is complete,
	// or when the turn failed on its own. err is nil on success and wraps
	// [ErrTranscriptionFailed] when no usable transcript could be produced.
	OnTurnDone(turnID uint64, err error)
}

// ListenerFuncs adapts plain functions to [Listener]. Nil fields are skipped.
type ListenerFuncs struct {
	Result   func(Result)
	TurnDone func(turnID uint64, err error)
}

// OnResult implements [Listener].
func (l ListenerFuncs) OnResult(r Result) {
	if l.Result != nil {
		l.Result(r)
	}
}

// OnTurnDone implements [Listener].
func (l ListenerFuncs) OnTurnDone(turnID uint64, err error) {
	if l.TurnDone != nil {
		l.TurnDone(turnID, err)
	}
}

// Handle controls one live turn.
type Handle interface {
	// ID returns the turn identifier carried in every Result.
	ID() uint64

	// Stop finalizes the turn. The transcript is delivered asynchronously and
	// the turn completes with OnTurnDone. Calling Stop more than once, or
	// after Abort, has no effect.
	Stop()

	// Abort discards the turn. No callbacks are made after Abort returns.
	// It is idempotent and may follow Stop.
	Abort()

	// HasUtterance reports whether the turn holds something worth
	// submitting: recognized text for incremental turns, recorded speech for
	// batch turns. The silence detector polls it.
	HasUtterance() bool

	// Transcript returns the committed transcript, interim text included.
	Transcript() string
}

// Adapter starts transcription turns.
type Adapter interface {
	// StartTurn begins a turn over stream. It fails when the backend cannot
	// be started; the caller counts such failures.
	StartTurn(ctx context.Context, stream *audio.Stream, l Listener) (Handle, error)

	// Mode reports the adapter strategy.
	Mode() Mode

	// Close aborts any live turn and releases adapter resources. Later
	// StartTurn calls fail with [ErrClosed].
	Close() error
}

var turnSeq atomic.Uint64

func nextTurnID() uint64 { return turnSeq.Add(1) }

// gate serializes listener callbacks with Abort so that no callback runs
// after Abort returns.
type gate struct {
	id       uint64
	listener Listener

	mu      sync.Mutex
	aborted bool
	done    bool
}

func (g *gate) result(r Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.aborted || g.done {
		return
	}
	r.TurnID = g.id
	g.listener.OnResult(r)
}

func (g *gate) finish(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.aborted || g.done {
		return
	}
	g.done = true
	g.listener.OnTurnDone(g.id, err)
}

// abort closes the gate and reports whether this call closed it.
func (g *gate) abort() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.aborted {
		return false
	}
	g.aborted = true
	return true
}

// turnSet tracks the live turns of an adapter so Close can abort them.
type turnSet struct {
	mu     sync.Mutex
	closed bool
	live   map[uint64]Handle
}

func (s *turnSet) add(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.live == nil {
		s.live = make(map[uint64]Handle)
	}
	s.live[h.ID()] = h
	return true
}

func (s *turnSet) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
}

func (s *turnSet) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *turnSet) closeAll() {
	s.mu.Lock()
	s.closed = true
	live := make([]Handle, 0, len(s.live))
	for _, h := range s.live {
		live = append(live, h)
	}
	s.live = nil
	s.mu.Unlock()
	for _, h := range live {
		h.Abort()
	}
}
