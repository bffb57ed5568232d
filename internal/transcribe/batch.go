package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

var _ Adapter = (*Batch)(nil)

// Batch records each turn and sends the finished clip to a [stt.Transcriber].
// While the request is in flight a [ProcessingPlaceholder] result is emitted.
// A failed request yields an empty final result and an OnTurnDone error
// wrapping [ErrTranscriptionFailed]; it never fails the caller.
type Batch struct {
	transcriber stt.Transcriber
	opts        options
	turns       turnSet
}

// NewBatch creates a batch adapter backed by tr.
func NewBatch(tr stt.Transcriber, opts ...Option) *Batch {
	return &Batch{transcriber: tr, opts: buildOptions(opts)}
}

// Mode implements [Adapter].
func (a *Batch) Mode() Mode { return ModeBatch }

// Close implements [Adapter].
func (a *Batch) Close() error {
	a.turns.closeAll()
	return nil
}

// StartTurn implements [Adapter]. Recording starts immediately; nothing is
// sent to the transcriber before Stop.
func (a *Batch) StartTurn(ctx context.Context, stream *audio.Stream, l Listener) (Handle, error) {
	if a.turns.isClosed() {
		return nil, ErrClosed
	}
	tctx, cancel := context.WithCancel(ctx)
	frames, unsub := stream.Subscribe()
	t := &batchTurn{
		gate:     gate{id: nextTurnID(), listener: l},
		owner:    a,
		rec:      NewRecordingSession(audio.SpeechFormat, a.opts.maxRecording),
		ctx:      tctx,
		cancel:   cancel,
		unsub:    unsub,
		recorded: make(chan struct{}),
	}
	if !a.turns.add(t) {
		unsub()
		cancel()
		return nil, ErrClosed
	}
	go t.record(frames)
	return t, nil
}

type batchTurn struct {
	gate
	owner *Batch
	rec   *RecordingSession
	acc   Accumulator

	ctx      context.Context
	cancel   context.CancelFunc
	unsub    func()
	recorded chan struct{}
	stopOnce sync.Once
}

func (t *batchTurn) ID() uint64 { return t.id }

func (t *batchTurn) HasUtterance() bool { return t.rec.HasSpeech() }

func (t *batchTurn) Transcript() string { return t.acc.Text() }

func (t *batchTurn) record(frames <-chan audio.AudioFrame) {
	defer close(t.recorded)
	conv := audio.FormatConverter{Target: audio.SpeechFormat}
	for f := range frames {
		if f = conv.Convert(f); len(f.Data) > 0 {
			t.rec.Write(f)
		}
	}
}

func (t *batchTurn) Stop() {
	t.stopOnce.Do(func() {
		t.unsub()
		go t.transcribe()
	})
}

func (t *batchTurn) Abort() {
	if !t.gate.abort() {
		return
	}
	t.stopOnce.Do(func() {})
	t.unsub()
	t.cancel()
	t.rec.Discard()
	t.owner.turns.remove(t.id)
}

func (t *batchTurn) transcribe() {
	defer t.cancel()
	defer t.owner.turns.remove(t.id)

	<-t.recorded
	if !t.rec.HasSpeech() {
		t.rec.Discard()
		t.finish(nil)
		return
	}
	clip := t.rec.Flush(t.owner.opts.language)

	t.result(Result{Text: ProcessingPlaceholder, Fragment: ProcessingPlaceholder, Pending: true})

	ctx, cancel := context.WithTimeout(t.ctx, t.owner.opts.timeout)
	defer cancel()
	text, err := t.owner.transcriber.Transcribe(ctx, clip)
	if err != nil {
		if t.ctx.Err() != nil {
			return
		}
		slog.Warn("transcribe: batch transcription failed",
			"turn", t.id,
			"clip_duration", clip.Duration,
			"err", err,
		)
		t.result(Result{Final: true})
		t.finish(fmt.Errorf("%w: %w", ErrTranscriptionFailed, err))
		return
	}

	t.acc.AppendFinal(text)
	t.result(Result{Text: t.acc.Text(), Fragment: text, Final: true})
	t.finish(nil)
}
