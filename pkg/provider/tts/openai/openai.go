// Package openai provides a TTS provider backed by the OpenAI speech API
// (tts-1, tts-1-hd, gpt-4o-mini-tts). Audio is requested as raw 24 kHz mono
// PCM16 and streamed from the response body as it arrives.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = oai.SpeechModelTTS1

	// DefaultVoice is used when the voice profile carries no ID.
	DefaultVoice = "alloy"

	// pcmSampleRate is the fixed rate of the "pcm" response format.
	pcmSampleRate = 24000

	readChunkSize = 4096
)

// builtinVoices is the speech API's static voice catalogue.
var builtinVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

var _ tts.Provider = (*Provider)(nil)

type config struct {
	baseURL      string
	timeout      time.Duration
	maxRetries   int
	instructions string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries failed requests.
// Negative values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithInstructions sets speaking-style instructions. Only gpt-4o-mini-tts
// honours them.
func WithInstructions(s string) Option {
	return func(c *config) {
		c.instructions = s
	}
}

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client       oai.Client
	model        string
	instructions string
}

// New constructs a Provider. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		instructions: cfg.instructions,
	}, nil
}

// OutputFormat implements tts.Provider.
func (p *Provider) OutputFormat() audio.Format {
	return audio.Format{SampleRate: pcmSampleRate, Channels: 1}
}

// SynthesizeStream collects all text fragments into one request, then streams
// the PCM response body. The speech endpoint has no incremental input mode, so
// nothing is sent until text closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	audioCh := make(chan []byte, 64)

	go func() {
		defer close(audioCh)

		var sb strings.Builder
	collect:
		for {
			select {
			case frag, ok := <-text:
				if !ok {
					break collect
				}
				sb.WriteString(frag)
			case <-ctx.Done():
				return
			}
		}
		input := strings.TrimSpace(sb.String())
		if input == "" {
			return
		}

		resp, err := p.client.Audio.Speech.New(ctx, p.params(input, voice))
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("openai tts: synthesis failed", "err", err)
			}
			return
		}
		defer resp.Body.Close()

		if err := streamBody(ctx, resp.Body, audioCh); err != nil && ctx.Err() == nil {
			slog.Warn("openai tts: read audio", "err", err)
		}
	}()

	return audioCh, nil
}

func (p *Provider) params(input string, voice tts.VoiceProfile) oai.AudioSpeechNewParams {
	id := voice.ID
	if id == "" {
		id = DefaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Input:          input,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor != 0 {
		params.Speed = oai.Float(voice.Speed())
	}
	if p.instructions != "" {
		params.Instructions = oai.String(p.instructions)
	}
	return params
}

// streamBody copies r to out in sample-aligned chunks.
func streamBody(ctx context.Context, r io.Reader, out chan<- []byte) error {
	var carry []byte
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			chunk := make([]byte, even)
			copy(chunk, data[:even])
			carry = append([]byte(nil), data[even:]...)
			if len(chunk) > 0 {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai tts: %w", err)
		}
	}
}

// ListVoices returns the static voice catalogue of the speech API.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		out = append(out, tts.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}
