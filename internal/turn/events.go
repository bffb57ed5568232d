package turn

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/transcribe"
	"github.com/MrWong99/parley/pkg/audio"
)

// EventKind classifies an outbound [Event].
type EventKind string

const (
	// EventState reports a state change or a mute toggle.
	EventState EventKind = "state"

	// EventTranscript carries the live transcript of the current turn.
	EventTranscript EventKind = "transcript"

	// EventEntry carries a new conversation log entry.
	EventEntry EventKind = "entry"

	// EventNotice is an informational message for the candidate.
	EventNotice EventKind = "notice"

	// EventError reports a failure. Recoverable errors leave the interview
	// running.
	EventError EventKind = "error"

	// EventEnded is the last event of an interview.
	EventEnded EventKind = "ended"
)

// Event is a notification for the presentation layer.
type Event struct {
	Kind EventKind

	// State and Muted are set on every event.
	State State
	Muted bool

	// Transcript, Final and Pending describe EventTranscript.
	Transcript string
	Final      bool
	Pending    bool

	// Entry is set on EventEntry.
	Entry conversation.Entry

	// Message is the human-readable text of notices and errors.
	Message string

	// Err is the underlying error of EventError.
	Err error

	// Recoverable is false for errors that permanently disabled a feature.
	Recoverable bool

	// Answer carries the unsent answer of a failed submission so the UI can
	// offer to resend it.
	Answer string

	// ReportID is set on EventEnded when the backend produced a report.
	ReportID string
}

// eventKind identifies an inbound event of the loop.
type eventKind int

const (
	evReady eventKind = iota
	evSpeechFinished
	evTranscript
	evSilence
	evStopListening
	evTurnDone
	evSubmitted
	evTypedAnswer
	evMute
	evSettings
	evRetryListen
	evEnd
)

var eventNames = [...]string{
	evReady:          "ready",
	evSpeechFinished: "speech_finished",
	evTranscript:     "transcript",
	evSilence:        "silence",
	evStopListening:  "stop_listening",
	evTurnDone:       "turn_done",
	evSubmitted:      "submitted",
	evTypedAnswer:    "typed_answer",
	evMute:           "mute",
	evSettings:       "settings",
	evRetryListen:    "retry_listen",
	evEnd:            "end",
}

func (k eventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// event is a typed message to the loop. gen ties asynchronous completions to
// the playback, turn or submission that produced them; completions whose gen
// no longer matches are stale and dropped.
type event struct {
	kind eventKind
	gen  uint64

	text   string
	typed  bool
	err    error
	result transcribe.Result

	// evReady
	stream     *audio.Stream
	captureErr error
	started    gateway.Started
	ack        chan bool

	// evSubmitted
	reply   gateway.Reply
	elapsed time.Duration

	muted    bool
	settings SettingsUpdate

	// evEnd
	ctx    context.Context
	notify bool
}

// respond answers the sender of an acknowledged event. ack is buffered.
func (ev event) respond(ok bool) {
	if ev.ack != nil {
		ev.ack <- ok
	}
}

// mailbox is an unbounded FIFO of events. Posting never blocks, so callbacks
// from adapters, timers and network goroutines cannot stall on the loop.
type mailbox struct {
	mu     sync.Mutex
	queue  []event
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// post enqueues ev. It returns false once the mailbox is closed.
func (m *mailbox) post(ev event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// take removes and returns all queued events.
func (m *mailbox) take() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

// close rejects further posts and returns anything still queued.
func (m *mailbox) close() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	q := m.queue
	m.queue = nil
	return q
}
