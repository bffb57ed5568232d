// Package speech plays synthesized prompts to the interview client.
//
// A [Player] owns at most one audible utterance. [Player.Speak] cancels the
// current utterance before starting the next one and returns a [Playback]
// whose Finished channel closes exactly once: on natural completion, on
// cancellation and on any synthesis or delivery error. Callers wait on
// Finished and never need to special-case failures to make progress.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrCanceled is reported by [Playback.Err] when the utterance was cut short
// by Cancel, a newer Speak call or context cancellation.
var ErrCanceled = errors.New("speech: playback canceled")

// defaultFlushSlack is added to the audio duration when waiting for the
// client to report that playback ended.
const defaultFlushSlack = 3 * time.Second

// Flusher is implemented by sinks that buffer audio on the client. Flush
// blocks until everything written so far has been played or ctx is done.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Interrupter is implemented by sinks that can discard audio already queued
// on the client.
type Interrupter interface {
	Interrupt()
}

// Voice selects a synthesizer voice by ID or by display name. The zero value
// selects the player's default voice.
type Voice struct {
	ID   string
	Name string
}

// Prosody controls how an utterance sounds. Zero fields mean defaults.
type Prosody struct {
	// Rate is the speaking rate, 1.0 = normal, clamped to [0.5, 2.0].
	Rate float64

	// Pitch is the relative pitch, 1.0 = normal, in [0, 2].
	Pitch float64

	// Volume is the output gain in [0, 1]. Zero means full volume; use a
	// small positive value for near silence.
	Volume float64
}

// Playback is the handle for one utterance.
type Playback struct {
	id     uint64
	text   string
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// ID returns a process-unique identifier for the utterance.
func (p *Playback) ID() uint64 { return p.id }

// Text returns the spoken text.
func (p *Playback) Text() string { return p.text }

// Finished is closed when the utterance ended for any reason.
func (p *Playback) Finished() <-chan struct{} { return p.done }

// Err returns nil after natural completion, an error wrapping [ErrCanceled]
// after cancellation, or the synthesis error. It must only be read after
// Finished is closed.
func (p *Playback) Err() error { return p.err }

// Cancel stops this utterance. It does not wait for it to finish.
func (p *Playback) Cancel() { p.cancel() }

// Option configures a [Player].
type Option func(*Player)

// WithDefaultVoice sets the voice used when a selector matches nothing.
func WithDefaultVoice(v tts.VoiceProfile) Option {
	return func(p *Player) { p.defaultVoice = v }
}

// WithFlushSlack sets the extra time allowed for the client to finish
// playing after the last chunk was written.
func WithFlushSlack(d time.Duration) Option {
	return func(p *Player) { p.flushSlack = d }
}

// WithOnFinished registers a hook called at the end of every utterance,
// before its Finished channel closes.
func WithOnFinished(fn func(pb *Playback, elapsed time.Duration)) Option {
	return func(p *Player) { p.onFinished = fn }
}

// Player turns text into audio on a sink.
//
// All methods are safe for concurrent use.
type Player struct {
	provider     tts.Provider
	sink         audio.Sink
	defaultVoice tts.VoiceProfile
	flushSlack   time.Duration
	onFinished   func(pb *Playback, elapsed time.Duration)

	seq     atomic.Uint64
	speakMu sync.Mutex

	mu      sync.Mutex
	current *Playback
	voices  []tts.VoiceProfile
}

// NewPlayer creates a player that synthesizes with provider and writes PCM
// to sink.
func NewPlayer(provider tts.Provider, sink audio.Sink, opts ...Option) *Player {
	p := &Player{
		provider:   provider,
		sink:       sink,
		flushSlack: defaultFlushSlack,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Speak cancels the current utterance, waits until it has stopped writing,
// and starts text. The returned Playback always finishes; an empty text
// finishes immediately.
func (p *Player) Speak(ctx context.Context, text string, voice Voice, prosody Prosody) *Playback {
	p.speakMu.Lock()
	defer p.speakMu.Unlock()
	p.Cancel()

	pctx, cancel := context.WithCancel(ctx)
	pb := &Playback{
		id:     p.seq.Add(1),
		text:   strings.TrimSpace(text),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	p.mu.Lock()
	p.current = pb
	p.mu.Unlock()

	go p.play(pctx, pb, voice, prosody)
	return pb
}

// Cancel stops the current utterance, if any, and waits until it finished.
// Calling Cancel with nothing playing is a no-op.
func (p *Player) Cancel() {
	p.mu.Lock()
	pb := p.current
	p.mu.Unlock()
	if pb == nil {
		return
	}
	pb.cancel()
	<-pb.done
}

// Speaking reports whether an utterance is in progress.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	select {
	case <-p.current.done:
		return false
	default:
		return true
	}
}

func (p *Player) play(ctx context.Context, pb *Playback, voice Voice, prosody Prosody) {
	start := time.Now()
	defer func() {
		pb.cancel()
		if pb.err != nil && ctx.Err() != nil && !errors.Is(pb.err, ErrCanceled) {
			pb.err = fmt.Errorf("%w: %w", ErrCanceled, pb.err)
		}
		p.mu.Lock()
		if p.current == pb {
			p.current = nil
		}
		p.mu.Unlock()
		if p.onFinished != nil {
			p.onFinished(pb, time.Since(start))
		}
		close(pb.done)
	}()

	if pb.text == "" {
		return
	}

	profile := p.resolveVoice(ctx, voice)
	profile.SpeedFactor = clampRate(prosody.Rate)
	profile.PitchShift = pitchShift(prosody.Pitch)
	gain := volumeGain(prosody.Volume)

	textCh := make(chan string, 1)
	textCh <- pb.text
	close(textCh)

	audioCh, err := p.provider.SynthesizeStream(ctx, textCh, profile)
	if err != nil {
		pb.err = fmt.Errorf("speech: synthesize: %w", err)
		slog.Warn("speech: synthesis failed to start", "playback", pb.id, "err", err)
		return
	}

	format := p.provider.OutputFormat()
	if format.SampleRate == 0 {
		format = audio.SpeechFormat
	}

	var (
		carry   []byte
		written time.Duration
	)
	for chunk := range audioCh {
		if ctx.Err() != nil {
			go audio.Drain(audioCh)
			p.interrupt()
			pb.err = ErrCanceled
			return
		}
		if len(carry) > 0 {
			chunk = append(carry, chunk...)
			carry = nil
		}
		if len(chunk)%2 != 0 {
			carry = []byte{chunk[len(chunk)-1]}
			chunk = chunk[:len(chunk)-1]
		}
		if len(chunk) == 0 {
			continue
		}
		frame := audio.AudioFrame{
			Data:       audio.Gain(chunk, gain),
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			Timestamp:  written,
		}
		if err := p.sink.WriteAudio(ctx, frame); err != nil {
			go audio.Drain(audioCh)
			if ctx.Err() != nil {
				p.interrupt()
				pb.err = ErrCanceled
				return
			}
			pb.err = fmt.Errorf("speech: write audio: %w", err)
			slog.Warn("speech: playback failed", "playback", pb.id, "err", err)
			return
		}
		written += frame.Duration()
	}

	if ctx.Err() != nil {
		p.interrupt()
		pb.err = ErrCanceled
		return
	}
	if written == 0 {
		slog.Warn("speech: synthesizer produced no audio", "playback", pb.id)
		return
	}

	if f, ok := p.sink.(Flusher); ok {
		fctx, cancel := context.WithTimeout(ctx, written+p.flushSlack)
		defer cancel()
		if err := f.Flush(fctx); err != nil {
			if ctx.Err() != nil {
				p.interrupt()
				pb.err = ErrCanceled
				return
			}
			slog.Debug("speech: client did not confirm playback", "playback", pb.id, "err", err)
		}
	}
}

func (p *Player) interrupt() {
	if i, ok := p.sink.(Interrupter); ok {
		i.Interrupt()
	}
}

// resolveVoice maps a selector to a provider voice: exact ID first, then a
// case-insensitive name match, then the default voice. The catalogue is
// fetched once per player; a failed fetch is retried on the next utterance.
func (p *Player) resolveVoice(ctx context.Context, sel Voice) tts.VoiceProfile {
	if sel.ID == "" && sel.Name == "" {
		return p.defaultVoice
	}

	voices := p.catalogue(ctx)
	if sel.ID != "" {
		for _, v := range voices {
			if v.ID == sel.ID {
				return v
			}
		}
	}
	if sel.Name != "" {
		for _, v := range voices {
			if strings.EqualFold(v.Name, sel.Name) {
				return v
			}
		}
	}
	if sel.ID != "" && len(voices) == 0 {
		// Catalogue unavailable; trust the caller's ID.
		return tts.VoiceProfile{ID: sel.ID, Name: sel.Name}
	}
	slog.Debug("speech: voice not found, using default", "id", sel.ID, "name", sel.Name)
	return p.defaultVoice
}

func (p *Player) catalogue(ctx context.Context) []tts.VoiceProfile {
	p.mu.Lock()
	cached := p.voices
	p.mu.Unlock()
	if cached != nil {
		return cached
	}

	voices, err := p.provider.ListVoices(ctx)
	if err != nil {
		slog.Debug("speech: list voices", "err", err)
		return nil
	}
	if voices == nil {
		voices = []tts.VoiceProfile{}
	}
	p.mu.Lock()
	p.voices = voices
	p.mu.Unlock()
	return voices
}

func clampRate(rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	return tts.VoiceProfile{SpeedFactor: rate}.Speed()
}

// pitchShift maps a relative pitch in [0, 2] onto the provider scale
// [-10, +10].
func pitchShift(pitch float64) float64 {
	if pitch <= 0 {
		return 0
	}
	return max(-10, min(10, (pitch-1)*10))
}

func volumeGain(volume float64) float64 {
	if volume <= 0 || volume >= 1 {
		return 1
	}
	return volume
}
