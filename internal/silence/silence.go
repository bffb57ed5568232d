// Package silence decides when a spoken answer has ended.
//
// A [Detector] watches one live audio subscription per listening turn. Every
// frame is classified by a VAD session; the detector remembers when speech
// was last heard and, on a fixed sampling interval, checks whether the
// configured silence threshold has elapsed since then. It fires only after
// speech was heard at least once in the cycle and only when the caller
// reports a non-empty utterance, so a quiet room or a pause before any words
// were recognised never ends a turn.
package silence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

const (
	// DefaultThreshold is the silence duration that ends an utterance.
	DefaultThreshold = 2000 * time.Millisecond

	// DefaultInterval is how often elapsed silence is evaluated.
	DefaultInterval = 100 * time.Millisecond

	defaultSpeechThreshold  = 0.5
	defaultSilenceThreshold = 0.35
)

// Option configures a [Detector].
type Option func(*Detector)

// WithThreshold sets the silence duration after the last speech frame that
// ends an utterance. Non-positive values keep the default.
func WithThreshold(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.threshold = d
		}
	}
}

// WithInterval sets the sampling interval.
func WithInterval(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.interval = d
		}
	}
}

// WithVAD replaces the default energy-based VAD engine.
func WithVAD(e vad.Engine) Option {
	return func(det *Detector) {
		if e != nil {
			det.engine = e
		}
	}
}

// WithActivityThreshold sets the VAD speech probability at which a frame
// counts as speech.
func WithActivityThreshold(p float64) Option {
	return func(det *Detector) {
		if p > 0 && p <= 1 {
			det.speechThreshold = p
			det.silenceThreshold = min(det.silenceThreshold, p)
		}
	}
}

// WithOnFire registers a hook that runs every time the detector fires, before
// the per-cycle callback. Used for metrics.
func WithOnFire(fn func(silentFor time.Duration)) Option {
	return func(det *Detector) {
		det.onFire = fn
	}
}

// Detector is a silence detector with at most one armed cycle at a time.
// It is safe for concurrent use.
type Detector struct {
	threshold        time.Duration
	interval         time.Duration
	engine           vad.Engine
	speechThreshold  float64
	silenceThreshold float64
	onFire           func(time.Duration)
	now              func() time.Time

	mu     sync.Mutex
	active *cycle
}

// cycle is one armed detection period.
type cycle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

// New creates a Detector.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold:        DefaultThreshold,
		interval:         DefaultInterval,
		engine:           energy.New(),
		speechThreshold:  defaultSpeechThreshold,
		silenceThreshold: defaultSilenceThreshold,
		now:              time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Threshold returns the configured silence threshold.
func (d *Detector) Threshold() time.Duration { return d.threshold }

// Armed reports whether a detection cycle is running.
func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active != nil
}

// Start arms a new detection cycle over frames, stopping any previous cycle
// first. onSilence is called at most once, from the detector's goroutine,
// when the silence threshold elapsed after speech and hasUtterance reports
// true. onSilence must not block; it is never called after Stop returns.
//
// The cycle ends when it fires, when Stop is called or when ctx is done.
func (d *Detector) Start(ctx context.Context, frames <-chan audio.AudioFrame, hasUtterance func() bool, onSilence func()) error {
	d.Stop()

	sess, err := d.newSession(audio.SpeechFormat.SampleRate)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &cycle{cancel: cancel, done: make(chan struct{})}

	d.mu.Lock()
	d.active = c
	d.mu.Unlock()

	go d.run(cctx, c, sess, frames, hasUtterance, onSilence)
	return nil
}

// Stop cancels the armed cycle and waits for its goroutine to exit. It is
// idempotent and safe to call when nothing is armed.
func (d *Detector) Stop() {
	d.mu.Lock()
	c := d.active
	d.active = nil
	d.mu.Unlock()
	if c == nil {
		return
	}

	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cancel()
	<-c.done
}

func (d *Detector) newSession(rate int) (vad.SessionHandle, error) {
	sess, err := d.engine.NewSession(vad.Config{
		SampleRate:       rate,
		SpeechThreshold:  d.speechThreshold,
		SilenceThreshold: d.silenceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("silence: create vad session: %w", err)
	}
	return sess, nil
}

func (d *Detector) run(ctx context.Context, c *cycle, sess vad.SessionHandle, frames <-chan audio.AudioFrame, hasUtterance func() bool, onSilence func()) {
	defer close(c.done)
	defer func() { _ = sess.Close() }()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	rate := audio.SpeechFormat.SampleRate
	var (
		speechSeen bool
		lastSpeech time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return

		case f, ok := <-frames:
			if !ok {
				// Capture released. Silence is still evaluated on the ticker.
				frames = nil
				continue
			}
			if f.SampleRate > 0 && f.SampleRate != rate {
				next, err := d.newSession(f.SampleRate)
				if err != nil {
					slog.Warn("silence: vad session for new rate", "rate", f.SampleRate, "err", err)
					continue
				}
				_ = sess.Close()
				sess, rate = next, f.SampleRate
			}
			ev, err := sess.ProcessFrame(f.Data)
			if err != nil {
				slog.Debug("silence: vad frame", "err", err)
				continue
			}
			if ev.IsSpeech() {
				speechSeen = true
				lastSpeech = d.now()
			}

		case <-ticker.C:
			if !speechSeen {
				continue
			}
			silentFor := d.now().Sub(lastSpeech)
			if silentFor <= d.threshold || !hasUtterance() {
				continue
			}
			d.fire(c, silentFor, onSilence)
			return
		}
	}
}

// fire invokes the callbacks unless the cycle was stopped concurrently.
func (d *Detector) fire(c *cycle, silentFor time.Duration, onSilence func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true

	d.mu.Lock()
	if d.active == c {
		d.active = nil
	}
	d.mu.Unlock()

	slog.Debug("silence: end of utterance", "silent_for", silentFor)
	if d.onFire != nil {
		d.onFire(silentFor)
	}
	onSilence()
}
