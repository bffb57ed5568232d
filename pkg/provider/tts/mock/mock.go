// Package mock provides a scriptable tts.Provider for tests.
//
// The zero Provider speaks nothing at 16 kHz mono. Set SynthesizeChunks to
// emit audio, Hold to keep the stream open like a long utterance, and read
// SpokenTexts to see what the caller asked to have spoken.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// SynthesizeStreamCall is one recorded SynthesizeStream invocation.
type SynthesizeStreamCall struct {
	Ctx   context.Context
	Voice tts.VoiceProfile
}

// Provider is a tts.Provider whose output is fixed up front.
type Provider struct {
	SynthesizeChunks [][]byte
	SynthesizeErr    error

	// ChunkDelay is waited out before every chunk.
	ChunkDelay time.Duration

	// Hold keeps the audio channel open after the last chunk until the
	// stream's context ends.
	Hold bool

	// Format is reported by OutputFormat; zero means audio.SpeechFormat.
	Format audio.Format

	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	mu                    sync.Mutex
	SynthesizeStreamCalls []SynthesizeStreamCall
	ListVoicesCalls       int
	texts                 []string
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream records the call and plays SynthesizeChunks. The text
// channel is always drained; its joined content shows up in SpokenTexts
// once it closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Voice: voice})
	if err := p.SynthesizeErr; err != nil {
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	delay, hold := p.ChunkDelay, p.Hold
	p.mu.Unlock()

	go func() {
		var sb strings.Builder
		for s := range text {
			sb.WriteString(s)
		}
		p.mu.Lock()
		p.texts = append(p.texts, sb.String())
		p.mu.Unlock()
	}()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			if delay > 0 && !sleep(ctx, delay) {
				return
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// ListVoices counts the call and returns the configured result.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// OutputFormat reports Format, defaulting to audio.SpeechFormat.
func (p *Provider) OutputFormat() audio.Format {
	if p.Format.SampleRate == 0 {
		return audio.SpeechFormat
	}
	return p.Format
}

// Calls returns how many times SynthesizeStream was called.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeStreamCalls)
}

// SpokenTexts returns the text of every finished utterance in call order.
func (p *Provider) SpokenTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}
