// Package turn implements the turn-taking orchestrator of an interview.
//
// An [Orchestrator] sequences AI speech, candidate listening and answer
// processing so that exactly one actor holds the floor. All state lives in a
// single loop goroutine; the speech player, the transcription adapter, the
// silence detector, timers and gateway replies talk to it only by posting
// typed events. Every (state, event) pair that may change state has one
// entry in the transition table; anything else is logged and ignored, and
// completions from a superseded playback, turn or submission are dropped.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/silence"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/transcribe"
	"github.com/MrWong99/parley/internal/voicecmd"
	"github.com/MrWong99/parley/pkg/audio"
)

var (
	// ErrAlreadyStarted is returned by a second call to [Orchestrator.Start].
	ErrAlreadyStarted = errors.New("turn: already started")

	// ErrEnded is returned by operations on a finished interview.
	ErrEnded = errors.New("turn: interview ended")

	// ErrEmptyAnswer is returned by [Orchestrator.SubmitText] for blank text.
	ErrEmptyAnswer = errors.New("turn: empty answer")

	// ErrNotListening is carried by the error event of a typed answer that
	// arrived while the candidate did not hold the floor.
	ErrNotListening = errors.New("turn: not accepting answers")

	errNoCapture = errors.New("turn: no capture source")
)

const (
	defaultMaxStartFailures         = 3
	defaultMaxTranscriptionFailures = 3
	defaultAcquireTimeout           = 10 * time.Second
	defaultRetryDelay               = 500 * time.Millisecond
	defaultEndTimeout               = 10 * time.Second
	eventBuffer                     = 64
	endedEventTimeout               = 5 * time.Second
)

const (
	noticeCaptureLost   = "Microphone unavailable. You can continue by typing your answers."
	noticeVoiceDisabled = "Voice input is unavailable. Please type your answers."
	noticeHardToHear    = "We are having trouble understanding the audio. You can also type your answer."
	noticeNothingToRep  = "There is no question to repeat yet."
	noticeNotYourTurn   = "Please wait for the question to finish before answering."
)

// Speaker plays prompts. [*speech.Player] implements it.
type Speaker interface {
	Speak(ctx context.Context, text string, voice speech.Voice, prosody speech.Prosody) *speech.Playback
	Cancel()
}

// Settings is the runtime-configurable surface of an interview.
type Settings struct {
	TTSEnabled             bool
	UseRemoteTranscription bool
	SilenceThreshold       time.Duration
	Muted                  bool
}

// SettingsUpdate changes the non-nil fields of [Settings].
type SettingsUpdate struct {
	TTSEnabled             *bool
	UseRemoteTranscription *bool
	SilenceThreshold       *time.Duration
	Muted                  *bool
}

// Config holds the per-interview parameters.
type Config struct {
	InterviewID string
	Candidate   gateway.Candidate
	Settings    Settings

	Voice   speech.Voice
	Prosody speech.Prosody

	// MaxStartFailures is the number of consecutive adapter start failures
	// after which voice input is disabled. Default 3.
	MaxStartFailures int

	// MaxTranscriptionFailures is the number of consecutive failed turns
	// after which the candidate is told to consider typing. Default 3.
	MaxTranscriptionFailures int

	// AcquireTimeout bounds each microphone acquisition attempt. Default 10s.
	AcquireTimeout time.Duration

	// RetryDelay is the pause before restarting a turn whose adapter failed
	// to start. Default 500ms.
	RetryDelay time.Duration

	// EndTimeout bounds the end-of-interview notification. Default 10s.
	EndTimeout time.Duration

	// SilenceOptions are applied to every silence detector before the
	// threshold from Settings.
	SilenceOptions []silence.Option
}

func (c *Config) applyDefaults() {
	if c.MaxStartFailures <= 0 {
		c.MaxStartFailures = defaultMaxStartFailures
	}
	if c.MaxTranscriptionFailures <= 0 {
		c.MaxTranscriptionFailures = defaultMaxTranscriptionFailures
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = defaultAcquireTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.EndTimeout <= 0 {
		c.EndTimeout = defaultEndTimeout
	}
	if c.Settings.SilenceThreshold <= 0 {
		c.Settings.SilenceThreshold = silence.DefaultThreshold
	}
}

// Deps are the collaborators of an orchestrator. Gateway is required; a nil
// Source or NewAdapter means text-only input, a nil Player means prompts are
// never spoken.
type Deps struct {
	Source  audio.Source
	Player  Speaker
	Gateway gateway.Gateway

	// NewAdapter builds the transcription strategy. It is called again with
	// the new value whenever remote transcription is toggled.
	NewAdapter func(remote bool) transcribe.Adapter

	Commands *voicecmd.Matcher
	Archive  conversation.Archive
	Metrics  *observe.Metrics
}

// Orchestrator drives one interview.
//
// All exported methods are safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	metrics *observe.Metrics
	log     *conversation.Log

	ctx    context.Context
	cancel context.CancelFunc

	box     *mailbox
	events  chan Event
	done    chan struct{}
	started atomic.Bool

	stateView atomic.Int32
	mutedView atomic.Bool

	// Loop-owned state.
	state         State
	muted         bool
	ready         bool
	settings      Settings
	sessionID     string
	lastPrompt    string
	stream        *audio.Stream
	adapter       transcribe.Adapter
	detector      *silence.Detector
	handle        transcribe.Handle
	unsubscribe   func()
	retry         *time.Timer
	closedAt      time.Time
	listenGen     uint64
	playbackID    uint64
	submitSeq     uint64
	captureLost   bool
	voiceDisabled bool
	startFailures int
	lostTurns     int
	failedTurns   int
}

// New creates an orchestrator and starts its event loop. Call
// [Orchestrator.Start] to begin the interview and [Orchestrator.End] to
// release everything it holds.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()

	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	var logOpts []conversation.Option
	if deps.Archive != nil {
		logOpts = append(logOpts, conversation.WithArchive(deps.Archive))
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		metrics:  metrics,
		log:      conversation.NewLog(cfg.InterviewID, logOpts...),
		ctx:      ctx,
		cancel:   cancel,
		box:      newMailbox(),
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
		settings: cfg.Settings,
		muted:    cfg.Settings.Muted,
	}
	o.mutedView.Store(o.muted)
	o.detector = o.newDetector()

	go o.run()
	return o
}

// Start acquires the microphone and fetches the first prompt concurrently,
// then speaks the prompt. A capture failure degrades the interview to typed
// answers; a failure to start the interview on the backend ends it and is
// returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	select {
	case <-o.done:
		return ErrEnded
	default:
	}

	var (
		stream     *audio.Stream
		captureErr error
		started    gateway.Started
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stream, captureErr = o.acquire(gctx)
		return nil
	})
	g.Go(func() error {
		begin := time.Now()
		s, err := o.deps.Gateway.StartInterview(gctx, o.cfg.Candidate)
		o.metrics.RecordGatewayCall(ctx, "start_interview", time.Since(begin))
		if err != nil {
			return fmt.Errorf("turn: start interview: %w", err)
		}
		started = s
		return nil
	})
	if err := g.Wait(); err != nil {
		if stream != nil {
			stream.Release()
		}
		o.box.post(event{kind: evEnd, ctx: ctx})
		<-o.done
		return err
	}

	// End may have won the race while capture or the backend were pending.
	// The loop then never sees the stream or the session, so both are given
	// back here.
	ack := make(chan bool, 1)
	if !o.box.post(event{kind: evReady, stream: stream, captureErr: captureErr, started: started, ack: ack}) || !<-ack {
		o.abandon(ctx, stream, started.SessionID)
		return ErrEnded
	}
	return nil
}

// abandon releases what a Start that lost against End acquired.
func (o *Orchestrator) abandon(ctx context.Context, stream *audio.Stream, sessionID string) {
	if stream != nil {
		stream.Release()
	}
	if sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.EndTimeout)
	defer cancel()
	begin := time.Now()
	_, err := o.deps.Gateway.EndInterview(ctx, sessionID)
	o.metrics.RecordGatewayCall(ctx, "end_interview", time.Since(begin))
	if err != nil {
		slog.Warn("turn: end abandoned interview", "interview", o.cfg.InterviewID, "session", sessionID, "err", err)
	}
}

// acquire obtains the capture stream, retrying once when the device was
// unavailable.
func (o *Orchestrator) acquire(ctx context.Context) (*audio.Stream, error) {
	if o.deps.Source == nil {
		return nil, errNoCapture
	}
	for attempt := 0; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, o.cfg.AcquireTimeout)
		stream, err := o.deps.Source.Acquire(actx)
		cancel()
		if err == nil {
			return stream, nil
		}
		if attempt == 0 && errors.Is(err, audio.ErrDeviceUnavailable) && ctx.Err() == nil {
			slog.Info("turn: capture device unavailable, retrying", "interview", o.cfg.InterviewID, "err", err)
			continue
		}
		return nil, err
	}
}

// Mute toggles the microphone. Muting while listening discards the current
// turn; unmuting in the held state resumes listening.
func (o *Orchestrator) Mute(muted bool) {
	o.box.post(event{kind: evMute, muted: muted})
}

// StopListening ends the current turn as if silence had been detected, even
// when nothing was recognised yet.
func (o *Orchestrator) StopListening() {
	o.box.post(event{kind: evStopListening})
}

// SubmitText submits a typed answer. It is accepted while listening and in
// the muted wait. At other times the answer is handed back in a recoverable
// [EventError] wrapping [ErrNotListening].
func (o *Orchestrator) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyAnswer
	}
	if !o.box.post(event{kind: evTypedAnswer, text: text, typed: true}) {
		return ErrEnded
	}
	return nil
}

// UpdateSettings applies the non-nil fields of u.
func (o *Orchestrator) UpdateSettings(u SettingsUpdate) {
	o.box.post(event{kind: evSettings, settings: u})
}

// End tears the interview down: speech is canceled, the current turn is
// aborted, the microphone is released and the backend is told, best effort,
// that the interview is over. End waits until teardown completed or ctx is
// done. Calling End on a finished interview is a no-op.
func (o *Orchestrator) End(ctx context.Context) error {
	o.box.post(event{kind: evEnd, ctx: ctx, notify: true})
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (o *Orchestrator) State() State { return State(o.stateView.Load()) }

// Muted reports whether the microphone is muted.
func (o *Orchestrator) Muted() bool { return o.mutedView.Load() }

// Log returns the conversation log.
func (o *Orchestrator) Log() *conversation.Log { return o.log }

// Events returns the notification channel. It is closed after [EventEnded].
// Events are dropped when the consumer falls behind; EventEnded alone waits
// a few seconds for room in the buffer.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Done is closed once the interview ended.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// run is the event loop.
func (o *Orchestrator) run() {
	defer close(o.done)
	defer close(o.events)
	for range o.box.notify {
		batch := o.box.take()
		for i, ev := range batch {
			o.dispatch(ev)
			if o.state == StateEnded {
				for _, left := range append(batch[i+1:], o.box.close()...) {
					left.respond(false)
				}
				return
			}
		}
	}
}

func (o *Orchestrator) dispatch(ev event) {
	h, ok := transitions[transitionKey{o.state, ev.kind}]
	if !ok {
		h, ok = transitions[transitionKey{anyState, ev.kind}]
	}
	if !ok {
		slog.Debug("turn: event ignored", "interview", o.cfg.InterviewID, "state", o.state, "event", ev.kind)
		ev.respond(false)
		return
	}
	h(o, ev)
}

func (o *Orchestrator) setState(s State) {
	if s == o.state {
		return
	}
	from := o.state
	o.state = s
	o.stateView.Store(int32(s))
	o.metrics.RecordTransition(o.ctx, from.String(), s.String())
	slog.Debug("turn: transition", "interview", o.cfg.InterviewID, "from", from, "to", s)
	o.emit(Event{Kind: EventState})
}

// emit delivers e without blocking the loop.
func (o *Orchestrator) emit(e Event) {
	e.State = o.state
	e.Muted = o.muted
	select {
	case o.events <- e:
	default:
		slog.Warn("turn: event dropped, consumer too slow", "interview", o.cfg.InterviewID, "kind", e.Kind)
	}
}

// emitEnded delivers the final event, waiting a bounded time for a slow
// consumer so the report id is not lost.
func (o *Orchestrator) emitEnded(reportID string) {
	e := Event{Kind: EventEnded, State: o.state, Muted: o.muted, ReportID: reportID}
	t := time.NewTimer(endedEventTimeout)
	defer t.Stop()
	select {
	case o.events <- e:
	case <-t.C:
		slog.Warn("turn: ended event dropped, consumer too slow", "interview", o.cfg.InterviewID, "report", reportID)
	}
}

func (o *Orchestrator) notice(msg string) {
	o.emit(Event{Kind: EventNotice, Message: msg})
}

func (o *Orchestrator) newDetector() *silence.Detector {
	opts := append([]silence.Option(nil), o.cfg.SilenceOptions...)
	opts = append(opts, silence.WithThreshold(o.settings.SilenceThreshold))
	return silence.New(opts...)
}

// voiceInput reports whether listening turns can be started.
func (o *Orchestrator) voiceInput() bool {
	return !o.captureLost && !o.voiceDisabled && o.stream != nil && o.adapter != nil
}

func (o *Orchestrator) listener() transcribe.Listener {
	return transcribe.ListenerFuncs{
		Result: func(r transcribe.Result) {
			o.box.post(event{kind: evTranscript, gen: r.TurnID, result: r})
		},
		TurnDone: func(id uint64, err error) {
			o.box.post(event{kind: evTurnDone, gen: id, err: err})
		},
	}
}
