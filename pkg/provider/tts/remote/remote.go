// Package remote provides a TTS provider for a self-hosted synthesis service
// reached over plain HTTP. It implements the tts.Provider interface.
//
// Wire contract:
//
//	POST {base}/synthesize   {"text": "...", "voice": "...", "rate": 1.0, "pitch": 0, "language": "en-US"}
//	  200 audio/wav                    WAV container, header stripped
//	  200 audio/pcm | audio/L16 | ...  raw PCM16 at the configured sample rate
//	  4xx/5xx application/json         {"error": "..."}
//	GET  {base}/voices       [{"id": "...", "name": "..."}]
//
// The service answers one request per utterance, so SynthesizeStream splits
// incoming text into sentences and keeps a small number of requests in flight
// while emitting audio in sentence order.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout    = 30 * time.Second
	defaultSampleRate = 16000

	// sentenceLookahead bounds the number of in-flight synthesis requests.
	sentenceLookahead = 3

	audioChanBuf = 256
	pcmChunkSize = 4096
)

// Option is a functional option for configuring a remote Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. The timeout option applies to the
// client in effect when it runs, so order matters.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithSampleRate sets the output sample rate. WAV responses at other rates are
// resampled; raw PCM responses are assumed to already use this rate.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithLanguage sets the language tag forwarded with each request.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithAPIKey sets a bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// Provider implements tts.Provider against the remote synthesis endpoint.
type Provider struct {
	baseURL    string
	apiKey     string
	language   string
	sampleRate int
	httpClient *http.Client
}

// New creates a Provider for the service at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("remote tts: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// OutputFormat implements tts.Provider.
func (p *Provider) OutputFormat() audio.Format {
	return audio.Format{SampleRate: p.sampleRate, Channels: 1}
}

// synthesizeRequest is the JSON body of POST /synthesize.
type synthesizeRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Rate     float64 `json:"rate,omitempty"`
	Pitch    float64 `json:"pitch,omitempty"`
	Language string  `json:"language,omitempty"`
}

// errorResponse is the JSON body returned on failure.
type errorResponse struct {
	Error string `json:"error"`
}

type voiceEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

type audioResult struct {
	pcm []byte
	err error
}

// SynthesizeStream consumes text fragments, splits them into sentences and
// synthesises each one with a separate request. PCM is emitted in sentence
// order. The first failed request ends the stream early.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)

		sentences := make(chan string, sentenceLookahead)
		resultQueue := make(chan chan audioResult, sentenceLookahead)

		go splitSentences(ctx, text, sentences)

		go func() {
			defer close(resultQueue)
			for {
				select {
				case sentence, ok := <-sentences:
					if !ok {
						return
					}
					ch := make(chan audioResult, 1)
					select {
					case resultQueue <- ch:
					case <-ctx.Done():
						return
					}
					go func(s string) {
						pcm, err := p.synthesize(ctx, s, voice)
						ch <- audioResult{pcm: pcm, err: err}
					}(sentence)
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			select {
			case ch, ok := <-resultQueue:
				if !ok {
					return
				}
				var result audioResult
				select {
				case result = <-ch:
				case <-ctx.Done():
					return
				}
				if result.err != nil {
					if ctx.Err() == nil {
						slog.Warn("remote tts: synthesis failed", "err", result.err)
					}
					return
				}
				pcm := result.pcm
				for len(pcm) > 0 {
					end := min(pcmChunkSize, len(pcm))
					select {
					case audioCh <- pcm[:end]:
					case <-ctx.Done():
						return
					}
					pcm = pcm[end:]
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// splitSentences buffers fragments from text and emits complete sentences on
// out. The remainder is flushed when text closes.
func splitSentences(ctx context.Context, text <-chan string, out chan<- string) {
	defer close(out)
	var buf strings.Builder
	emit := func(s string) bool {
		if s == "" {
			return true
		}
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case fragment, ok := <-text:
			if !ok {
				emit(strings.TrimSpace(buf.String()))
				return
			}
			buf.WriteString(fragment)
			for {
				s := buf.String()
				idx := findSentenceBoundary(s)
				if idx < 0 {
					break
				}
				buf.Reset()
				buf.WriteString(s[idx+1:])
				if !emit(strings.TrimSpace(s[:idx+1])) {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// findSentenceBoundary returns the index of the first '.', '!' or '?' that is
// followed by whitespace or ends the string, or -1.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

// synthesize performs one POST /synthesize call and returns mono PCM16 at the
// provider's sample rate.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	body := synthesizeRequest{
		Text:     sentence,
		Voice:    voice.ID,
		Pitch:    voice.PitchShift,
		Language: p.language,
	}
	if voice.SpeedFactor != 0 {
		body.Rate = voice.Speed()
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("remote tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/synthesize", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("remote tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote tts: POST /synthesize: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote tts: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote tts: POST /synthesize returned status %d: %s", resp.StatusCode, errorMessage(payload))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json":
		return nil, fmt.Errorf("remote tts: %s", errorMessage(payload))
	case mediaType == "audio/wav" || mediaType == "audio/x-wav" || mediaType == "audio/wave" || bytes.HasPrefix(payload, []byte("RIFF")):
		pcm, f, err := audio.ParseWAV(payload)
		if err != nil {
			return nil, fmt.Errorf("remote tts: %w", err)
		}
		if f.Channels == 2 {
			pcm = audio.StereoToMono(pcm)
		}
		return audio.ResampleMono16(pcm, f.SampleRate, p.sampleRate), nil
	default:
		return payload[:len(payload)&^1], nil
	}
}

// errorMessage extracts the error field from a JSON error body, falling back to
// the raw text.
func errorMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return er.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// ListVoices fetches GET /voices.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("remote tts: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote tts: GET /voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("remote tts: GET /voices returned status %d: %s", resp.StatusCode, errorMessage(body))
	}

	var entries []voiceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("remote tts: decode voices: %w", err)
	}
	profiles := make([]tts.VoiceProfile, 0, len(entries))
	for _, e := range entries {
		vp := tts.VoiceProfile{ID: e.ID, Name: e.Name, Provider: "remote"}
		if e.Language != "" {
			vp.Metadata = map[string]string{"language": e.Language}
		}
		if vp.Name == "" {
			vp.Name = e.ID
		}
		profiles = append(profiles, vp)
	}
	return profiles, nil
}

func (p *Provider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
