package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/voicecmd"
)

type transitionKey struct {
	state State
	kind  eventKind
}

type handler func(o *Orchestrator, ev event)

// transitions maps every legal (state, event) pair to its handler. Entries
// keyed by anyState apply in every state without a specific entry. The loop
// stops dispatching once Ended is reached.
var transitions map[transitionKey]handler

func init() {
	transitions = map[transitionKey]handler{
		{StateIdle, evReady}: (*Orchestrator).onReady,

		{StateAISpeaking, evSpeechFinished}: (*Orchestrator).onSpeechFinished,

		{StateListening, evTranscript}:    (*Orchestrator).onTranscript,
		{StateProcessing, evTranscript}:   (*Orchestrator).onTranscript,
		{StateListening, evSilence}:       (*Orchestrator).onSilence,
		{StateListening, evStopListening}: (*Orchestrator).onStopListening,
		{StateListening, evTurnDone}:      (*Orchestrator).onTurnLost,
		{StateListening, evRetryListen}:   (*Orchestrator).onRetryListen,
		{StateListening, evTypedAnswer}:   (*Orchestrator).onTypedAnswer,
		{StateIdle, evTypedAnswer}:        (*Orchestrator).onTypedAnswer,
		{StateAISpeaking, evTypedAnswer}:  (*Orchestrator).rejectAnswer,
		{StateProcessing, evTypedAnswer}:  (*Orchestrator).rejectAnswer,

		{StateProcessing, evTurnDone}:  (*Orchestrator).onTurnDone,
		{StateProcessing, evSubmitted}: (*Orchestrator).onSubmitted,

		{anyState, evMute}:     (*Orchestrator).onMute,
		{anyState, evSettings}: (*Orchestrator).onSettings,
		{anyState, evEnd}:      (*Orchestrator).onEnd,
	}
}

// onReady runs once capture and the first prompt are available.
func (o *Orchestrator) onReady(ev event) {
	ev.respond(true)
	o.ready = true
	o.sessionID = ev.started.SessionID
	o.metrics.ActiveInterviews.Add(o.ctx, 1)

	if ev.captureErr != nil {
		o.captureLost = true
		slog.Warn("turn: capture unavailable, continuing text-only", "interview", o.cfg.InterviewID, "err", ev.captureErr)
		o.emit(Event{Kind: EventError, Err: ev.captureErr, Message: noticeCaptureLost, Recoverable: true})
	} else {
		o.stream = ev.stream
		o.stream.SetMuted(o.muted)
		if o.deps.NewAdapter != nil {
			o.adapter = o.deps.NewAdapter(o.settings.UseRemoteTranscription)
		}
	}

	slog.Info("turn: interview started", "interview", o.cfg.InterviewID, "session", o.sessionID, "voice", o.voiceInput())
	o.prompt(ev.started.FirstPrompt)
}

// prompt logs an AI prompt and speaks it.
func (o *Orchestrator) prompt(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		o.enterListening()
		return
	}
	o.lastPrompt = text
	o.appendEntry(conversation.SpeakerAI, text, false)
	o.say(text)
}

// say speaks text, or goes straight to listening when speech is off.
func (o *Orchestrator) say(text string) {
	if !o.settings.TTSEnabled || o.deps.Player == nil {
		o.enterListening()
		return
	}
	pb := o.deps.Player.Speak(o.ctx, text, o.cfg.Voice, o.cfg.Prosody)
	o.playbackID = pb.ID()
	o.setState(StateAISpeaking)
	go func() {
		<-pb.Finished()
		o.box.post(event{kind: evSpeechFinished, gen: pb.ID(), err: pb.Err()})
	}()
}

func (o *Orchestrator) onSpeechFinished(ev event) {
	if ev.gen != o.playbackID {
		return
	}
	o.playbackID = 0
	if ev.err != nil && !errors.Is(ev.err, speech.ErrCanceled) {
		slog.Debug("turn: prompt ended early", "interview", o.cfg.InterviewID, "err", ev.err)
	}
	o.enterListening()
}

// enterListening hands the floor to the candidate, or parks in Idle while
// muted.
func (o *Orchestrator) enterListening() {
	if o.muted {
		o.setState(StateIdle)
		return
	}
	o.setState(StateListening)
	if o.voiceInput() {
		o.startTurn()
	}
}

// startTurn aborts whatever turn is live and opens a new one.
func (o *Orchestrator) startTurn() {
	o.abortTurn()
	o.listenGen++

	h, err := o.adapter.StartTurn(o.ctx, o.stream, o.listener())
	if err != nil {
		o.startFailures++
		o.metrics.RecordProviderError(o.ctx, string(o.adapter.Mode()), "stt")
		slog.Warn("turn: start transcription", "interview", o.cfg.InterviewID, "failures", o.startFailures, "err", err)
		if o.startFailures >= o.cfg.MaxStartFailures {
			o.disableVoice(err)
			return
		}
		gen := o.listenGen
		o.retry = time.AfterFunc(o.cfg.RetryDelay, func() {
			o.box.post(event{kind: evRetryListen, gen: gen})
		})
		return
	}
	o.startFailures = 0
	o.handle = h
	o.armDetector()
}

func (o *Orchestrator) onRetryListen(ev event) {
	if ev.gen != o.listenGen || o.handle != nil || !o.voiceInput() {
		return
	}
	o.startTurn()
}

// armDetector watches the live turn for the end of the utterance.
func (o *Orchestrator) armDetector() {
	o.stopDetector()
	frames, unsubscribe := o.stream.Subscribe()
	o.unsubscribe = unsubscribe
	h := o.handle
	id := h.ID()
	err := o.detector.Start(o.ctx, frames, h.HasUtterance, func() {
		o.box.post(event{kind: evSilence, gen: id})
	})
	if err != nil {
		// Manual stop and typed answers still end the turn.
		slog.Warn("turn: arm silence detector", "interview", o.cfg.InterviewID, "err", err)
	}
}

func (o *Orchestrator) stopDetector() {
	o.detector.Stop()
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
}

// abortTurn discards the live turn, its detector and any pending restart.
func (o *Orchestrator) abortTurn() {
	if o.retry != nil {
		o.retry.Stop()
		o.retry = nil
	}
	o.stopDetector()
	if o.handle != nil {
		o.handle.Abort()
		o.handle = nil
	}
}

func (o *Orchestrator) current(id uint64) bool {
	return o.handle != nil && o.handle.ID() == id
}

func (o *Orchestrator) onTranscript(ev event) {
	if !o.current(ev.gen) {
		return
	}
	r := ev.result
	o.emit(Event{Kind: EventTranscript, Transcript: r.Text, Final: r.Final, Pending: r.Pending})
}

func (o *Orchestrator) onSilence(ev event) {
	if !o.current(ev.gen) || !o.handle.HasUtterance() {
		return
	}
	o.metrics.RecordSilence(o.ctx)
	o.closeTurn()
}

func (o *Orchestrator) onStopListening(event) {
	if o.handle == nil {
		return
	}
	o.closeTurn()
}

// closeTurn stops the live turn and waits for its transcript in Processing.
func (o *Orchestrator) closeTurn() {
	o.stopDetector()
	o.closedAt = time.Now()
	o.handle.Stop()
	o.setState(StateProcessing)
}

// onTurnLost handles a turn that ended while still listening, which only
// happens when the recognizer gave up. A recognizer that keeps exhausting
// its restarts counts like one that cannot start at all.
func (o *Orchestrator) onTurnLost(ev event) {
	if !o.current(ev.gen) {
		return
	}
	o.handle = nil
	o.stopDetector()
	o.transcriptionFailed(ev.err)
	if errors.Is(ev.err, session.ErrRestartBudget) {
		o.lostTurns++
		slog.Warn("turn: recognizer gave up", "interview", o.cfg.InterviewID, "consecutive", o.lostTurns)
		if o.lostTurns >= o.cfg.MaxStartFailures {
			o.disableVoice(ev.err)
		}
	}
	o.enterListening()
}

// disableVoice stops starting listening turns for the rest of the interview.
func (o *Orchestrator) disableVoice(err error) {
	o.voiceDisabled = true
	o.emit(Event{Kind: EventError, Err: err, Message: noticeVoiceDisabled})
}

// onTurnDone receives the transcript of a closed turn.
func (o *Orchestrator) onTurnDone(ev event) {
	if !o.current(ev.gen) {
		return
	}
	text := strings.TrimSpace(o.handle.Transcript())
	o.handle = nil
	if !o.closedAt.IsZero() {
		o.metrics.STTDuration.Record(o.ctx, time.Since(o.closedAt).Seconds(),
			metric.WithAttributes(observe.Attr("mode", string(o.adapter.Mode()))))
	}

	if ev.err != nil {
		o.transcriptionFailed(ev.err)
		o.enterListening()
		return
	}
	o.failedTurns = 0
	o.lostTurns = 0
	if text == "" {
		o.enterListening()
		return
	}

	if o.deps.Commands != nil {
		if cmd, ok := o.deps.Commands.Match(text); ok && cmd == voicecmd.CommandRepeat {
			o.metrics.RecordVoiceCommand(o.ctx, string(cmd))
			slog.Info("turn: repeating prompt", "interview", o.cfg.InterviewID)
			if o.lastPrompt == "" {
				o.notice(noticeNothingToRep)
				o.enterListening()
				return
			}
			o.say(o.lastPrompt)
			return
		}
	}
	o.submit(text, false)
}

// transcriptionFailed counts a lost turn. The candidate only hears about it
// after repeated failures.
func (o *Orchestrator) transcriptionFailed(err error) {
	if err == nil {
		return
	}
	mode := ""
	if o.adapter != nil {
		mode = string(o.adapter.Mode())
	}
	o.failedTurns++
	o.metrics.RecordTranscriptionFailure(o.ctx, mode)
	slog.Warn("turn: transcription failed", "interview", o.cfg.InterviewID, "mode", mode, "consecutive", o.failedTurns, "err", err)
	if o.failedTurns >= o.cfg.MaxTranscriptionFailures {
		o.failedTurns = 0
		o.notice(noticeHardToHear)
	}
}

func (o *Orchestrator) onTypedAnswer(ev event) {
	if !o.ready {
		o.rejectAnswer(ev)
		return
	}
	o.abortTurn()
	o.submit(ev.text, true)
}

// rejectAnswer hands a typed answer back when the floor is not the
// candidate's.
func (o *Orchestrator) rejectAnswer(ev event) {
	slog.Debug("turn: typed answer rejected", "interview", o.cfg.InterviewID, "state", o.state)
	o.emit(Event{
		Kind:        EventError,
		Err:         ErrNotListening,
		Message:     noticeNotYourTurn,
		Recoverable: true,
		Answer:      ev.text,
	})
}

// submit sends an answer to the backend from a separate goroutine.
func (o *Orchestrator) submit(text string, typed bool) {
	o.setState(StateProcessing)
	o.submitSeq++
	seq, session, ctx := o.submitSeq, o.sessionID, o.ctx
	go func() {
		begin := time.Now()
		reply, err := o.deps.Gateway.SubmitAnswer(ctx, session, text)
		o.box.post(event{kind: evSubmitted, gen: seq, text: text, typed: typed, reply: reply, err: err, elapsed: time.Since(begin)})
	}()
}

func (o *Orchestrator) onSubmitted(ev event) {
	if ev.gen != o.submitSeq {
		return
	}
	source := "voice"
	if ev.typed {
		source = "typed"
	}

	if ev.err != nil {
		o.metrics.RecordSubmission(o.ctx, source, "error", ev.elapsed)
		slog.Warn("turn: submit answer", "interview", o.cfg.InterviewID, "err", ev.err)
		o.emit(Event{
			Kind:        EventError,
			Err:         ev.err,
			Message:     "Your answer could not be sent. Please try again.",
			Recoverable: true,
			Answer:      ev.text,
		})
		o.enterListening()
		return
	}
	o.metrics.RecordSubmission(o.ctx, source, "ok", ev.elapsed)
	o.appendEntry(conversation.SpeakerUser, ev.text, ev.typed)

	if ev.reply.Done() {
		slog.Info("turn: interview complete", "interview", o.cfg.InterviewID, "report", ev.reply.ReportID)
		o.finish(ev.reply.ReportID)
		return
	}
	o.prompt(ev.reply.NextPrompt)
}

func (o *Orchestrator) appendEntry(speaker conversation.Speaker, text string, typed bool) {
	e, err := o.log.Append(speaker, text, typed)
	if err != nil {
		slog.Debug("turn: log entry", "interview", o.cfg.InterviewID, "err", err)
		return
	}
	o.emit(Event{Kind: EventEntry, Entry: e})
}

func (o *Orchestrator) onMute(ev event) {
	if ev.muted == o.muted {
		return
	}
	o.muted = ev.muted
	o.mutedView.Store(ev.muted)
	if o.stream != nil {
		o.stream.SetMuted(ev.muted)
	}
	slog.Debug("turn: mute", "interview", o.cfg.InterviewID, "muted", ev.muted, "state", o.state)

	switch {
	case ev.muted && o.state == StateListening:
		o.abortTurn()
		o.setState(StateIdle)
	case !ev.muted && o.state == StateIdle && o.ready:
		o.enterListening()
	default:
		o.emit(Event{Kind: EventState})
	}
}

func (o *Orchestrator) onSettings(ev event) {
	u := ev.settings

	if u.TTSEnabled != nil && *u.TTSEnabled != o.settings.TTSEnabled {
		o.settings.TTSEnabled = *u.TTSEnabled
		if !o.settings.TTSEnabled && o.state == StateAISpeaking && o.deps.Player != nil {
			// The finished playback moves the loop on to listening.
			o.deps.Player.Cancel()
		}
	}

	if u.SilenceThreshold != nil && *u.SilenceThreshold > 0 && *u.SilenceThreshold != o.settings.SilenceThreshold {
		o.settings.SilenceThreshold = *u.SilenceThreshold
		o.detector.Stop()
		o.detector = o.newDetector()
		if o.state == StateListening && o.handle != nil {
			o.armDetector()
		}
	}

	if u.UseRemoteTranscription != nil && *u.UseRemoteTranscription != o.settings.UseRemoteTranscription {
		o.settings.UseRemoteTranscription = *u.UseRemoteTranscription
		o.swapAdapter()
	}

	if u.Muted != nil {
		o.onMute(event{kind: evMute, muted: *u.Muted})
	}
}

// swapAdapter tears the current transcription strategy down and builds the
// other one. A turn that was live is restarted on the new adapter.
func (o *Orchestrator) swapAdapter() {
	if o.captureLost || o.stream == nil || o.deps.NewAdapter == nil {
		return
	}
	hadTurn := o.handle != nil
	o.abortTurn()
	if o.adapter != nil {
		if err := o.adapter.Close(); err != nil {
			slog.Warn("turn: close transcription adapter", "interview", o.cfg.InterviewID, "err", err)
		}
	}
	o.adapter = o.deps.NewAdapter(o.settings.UseRemoteTranscription)
	o.startFailures = 0
	o.lostTurns = 0
	o.voiceDisabled = false
	slog.Info("turn: transcription strategy changed", "interview", o.cfg.InterviewID, "mode", o.adapter.Mode())

	switch {
	case o.state == StateListening:
		o.startTurn()
	case o.state == StateProcessing && hadTurn:
		// The transcript of the closed turn is gone with the old adapter.
		o.enterListening()
	}
}

func (o *Orchestrator) onEnd(ev event) {
	o.teardown()
	reportID := ""
	if ev.notify && o.sessionID != "" {
		ctx := ev.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.EndTimeout)
		begin := time.Now()
		ended, err := o.deps.Gateway.EndInterview(ctx, o.sessionID)
		cancel()
		o.metrics.RecordGatewayCall(context.Background(), "end_interview", time.Since(begin))
		if err != nil {
			slog.Warn("turn: end interview", "interview", o.cfg.InterviewID, "err", err)
		} else {
			reportID = ended.ReportID
		}
	}
	o.setState(StateEnded)
	o.emitEnded(reportID)
}

// finish ends the interview after the backend declared it complete.
func (o *Orchestrator) finish(reportID string) {
	o.teardown()
	o.setState(StateEnded)
	o.emitEnded(reportID)
}

// teardown releases everything the interview holds. The stream is released
// exactly once.
func (o *Orchestrator) teardown() {
	if o.deps.Player != nil {
		o.deps.Player.Cancel()
	}
	o.playbackID = 0
	o.abortTurn()
	if o.adapter != nil {
		if err := o.adapter.Close(); err != nil {
			slog.Debug("turn: close transcription adapter", "interview", o.cfg.InterviewID, "err", err)
		}
	}
	if o.stream != nil {
		o.stream.Release()
	}
	if o.ready {
		o.metrics.ActiveInterviews.Add(context.Background(), -1)
	}
	o.cancel()
	o.log.Close()
}
