package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

var _ Adapter = (*Incremental)(nil)

// Incremental streams turn audio to a continuous recognizer. Partials replace
// the interim text; finals are appended to the transcript in arrival order.
// When the recognizer ends a session on its own while the turn is still
// listening, a new session is started under a per-turn restart budget.
type Incremental struct {
	provider stt.Provider
	opts     options
	turns    turnSet
}

// NewIncremental creates an incremental adapter backed by p.
func NewIncremental(p stt.Provider, opts ...Option) *Incremental {
	return &Incremental{provider: p, opts: buildOptions(opts)}
}

// Mode implements [Adapter].
func (a *Incremental) Mode() Mode { return ModeIncremental }

// Close implements [Adapter].
func (a *Incremental) Close() error {
	a.turns.closeAll()
	return nil
}

// StartTurn implements [Adapter]. It opens a recognizer session and starts
// forwarding the stream's audio to it.
func (a *Incremental) StartTurn(ctx context.Context, stream *audio.Stream, l Listener) (Handle, error) {
	if a.turns.isClosed() {
		return nil, ErrClosed
	}
	tctx, cancel := context.WithCancel(ctx)
	sess, err := a.provider.StartStream(tctx, a.streamConfig())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transcribe: start recognizer: %w", err)
	}

	frames, unsub := stream.Subscribe()
	t := &incrementalTurn{
		gate:   gate{id: nextTurnID(), listener: l},
		owner:  a,
		ctx:    tctx,
		cancel: cancel,
		frames: frames,
		unsub:  unsub,
		sess:   sess,
	}
	restart := a.opts.restart
	if restart.Name == "" {
		restart.Name = fmt.Sprintf("turn-%d", t.id)
	}
	t.restarter = session.NewRestarter(restart)

	if !a.turns.add(t) {
		unsub()
		cancel()
		_ = sess.Close()
		return nil, ErrClosed
	}
	go t.pump()
	go t.run()
	return t, nil
}

func (a *Incremental) streamConfig() stt.StreamConfig {
	return stt.StreamConfig{
		SampleRate: audio.SpeechFormat.SampleRate,
		Channels:   audio.SpeechFormat.Channels,
		Language:   a.opts.language,
	}
}

type incrementalTurn struct {
	gate
	owner     *Incremental
	acc       Accumulator
	restarter *session.Restarter

	ctx    context.Context
	cancel context.CancelFunc
	frames <-chan audio.AudioFrame
	unsub  func()

	mu       sync.Mutex
	sess     stt.SessionHandle
	stopping bool
}

func (t *incrementalTurn) ID() uint64 { return t.id }

func (t *incrementalTurn) HasUtterance() bool { return !t.acc.Empty() }

func (t *incrementalTurn) Transcript() string { return t.acc.Text() }

// Stop closes the recognizer so it flushes its last finals. run reports
// completion once the Finals channel drains.
func (t *incrementalTurn) Stop() {
	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		return
	}
	t.stopping = true
	sess := t.sess
	t.mu.Unlock()

	t.unsub()
	go closeSession(sess, t.id)
}

func (t *incrementalTurn) Abort() {
	if !t.gate.abort() {
		return
	}
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()
	t.unsub()
	t.cancel()
	t.owner.turns.remove(t.id)
}

func (t *incrementalTurn) session() stt.SessionHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess
}

func (t *incrementalTurn) isStopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopping
}

// pump forwards converted audio to whichever session is current. Send errors
// are expected while a session is being replaced and are dropped.
func (t *incrementalTurn) pump() {
	conv := audio.FormatConverter{Target: audio.SpeechFormat}
	for {
		select {
		case <-t.ctx.Done():
			return
		case f, ok := <-t.frames:
			if !ok {
				return
			}
			f = conv.Convert(f)
			if len(f.Data) == 0 {
				continue
			}
			_ = t.session().SendAudio(f.Data)
		}
	}
}

func (t *incrementalTurn) run() {
	defer t.cancel()
	defer t.owner.turns.remove(t.id)

	sess := t.session()
	partials, finals := sess.Partials(), sess.Finals()
	for {
		select {
		case <-t.ctx.Done():
			closeSession(t.session(), t.id)
			return

		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			t.acc.SetInterim(tr.Text)
			t.result(Result{Text: t.acc.Text(), Fragment: tr.Text})

		case tr, ok := <-finals:
			if ok {
				t.acc.AppendFinal(tr.Text)
				t.result(Result{Text: t.acc.Text(), Fragment: tr.Text, Final: true})
				continue
			}
			if t.isStopping() {
				t.acc.Settle()
				t.finish(nil)
				return
			}

			slog.Warn("transcribe: recognizer ended during turn, restarting", "turn", t.id)
			if err := t.restarter.Restart(t.ctx, t.restartSession); err != nil {
				if t.ctx.Err() != nil {
					return
				}
				t.acc.Settle()
				t.finish(fmt.Errorf("%w: %w", ErrTranscriptionFailed, err))
				return
			}
			sess = t.session()
			partials, finals = sess.Partials(), sess.Finals()
		}
	}
}

// restartSession opens a replacement session. If Stop raced with the restart
// the new session is closed right away so run still sees Finals close.
func (t *incrementalTurn) restartSession(ctx context.Context) error {
	sess, err := t.owner.provider.StartStream(ctx, t.owner.streamConfig())
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.sess = sess
	stopping := t.stopping
	t.mu.Unlock()
	if stopping {
		go closeSession(sess, t.id)
	}
	return nil
}

func closeSession(sess stt.SessionHandle, turn uint64) {
	if err := sess.Close(); err != nil {
		slog.Debug("transcribe: closing recognizer session", "turn", turn, "err", err)
	}
}
