package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/opus"
)

// captureSource implements [audio.Source] over the browser connection.
// Acquire asks the client for the microphone and waits for its capture frame;
// binary frames received afterwards are decoded and pushed into the stream.
type captureSource struct {
	id      string
	video   bool
	request func(ctx context.Context, f eventFrame) error

	grants chan controlFrame

	mu        sync.Mutex
	stream    *audio.Stream
	decoder   *opus.Decoder
	format    audio.Format
	converter *audio.FormatConverter
}

var _ audio.Source = (*captureSource)(nil)

func newCaptureSource(id string, video bool, request func(context.Context, eventFrame) error) *captureSource {
	return &captureSource{
		id:      id,
		video:   video,
		request: request,
		grants:  make(chan controlFrame, 1),
	}
}

// Acquire implements [audio.Source]. A refusal maps to
// [audio.ErrPermissionDenied]; no answer before ctx is done maps to
// [audio.ErrDeviceUnavailable].
func (c *captureSource) Acquire(ctx context.Context) (*audio.Stream, error) {
	if err := c.request(ctx, eventFrame{Type: msgCaptureRequest, Video: c.video}); err != nil {
		return nil, fmt.Errorf("room: request capture: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	var g controlFrame
	select {
	case g = <-c.grants:
	case <-ctx.Done():
		return nil, fmt.Errorf("room: capture: %w: %w", audio.ErrDeviceUnavailable, ctx.Err())
	}

	if g.Granted == nil || !*g.Granted {
		reason := g.Reason
		if reason == "" {
			reason = "refused by user"
		}
		if reason == "no_device" {
			return nil, fmt.Errorf("room: capture: %w", audio.ErrDeviceUnavailable)
		}
		return nil, fmt.Errorf("room: capture: %w: %s", audio.ErrPermissionDenied, reason)
	}

	format := audio.Format{SampleRate: g.SampleRate, Channels: g.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = audio.SpeechFormat.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	var dec *opus.Decoder
	switch g.Encoding {
	case "", EncodingPCM16:
	case EncodingOpus:
		d, err := opus.NewDecoder(format.SampleRate, format.Channels)
		if err != nil {
			return nil, fmt.Errorf("room: capture: %w: %w", audio.ErrDeviceUnavailable, err)
		}
		dec = d
	default:
		return nil, fmt.Errorf("room: capture: %w: unsupported encoding %q", audio.ErrDeviceUnavailable, g.Encoding)
	}

	var stream *audio.Stream
	opts := []audio.StreamOption{
		audio.WithOnRelease(func() {
			c.mu.Lock()
			if c.stream == stream {
				c.stream = nil
			}
			c.mu.Unlock()
			_ = c.request(context.Background(), eventFrame{Type: msgCaptureStop})
		}),
	}
	if g.Video {
		opts = append(opts, audio.WithVideoTrack(c.id+"-video"))
	}
	stream = audio.NewStream(c.id, audio.SpeechFormat, opts...)

	c.mu.Lock()
	old := c.stream
	c.stream = stream
	c.decoder = dec
	c.format = format
	c.converter = &audio.FormatConverter{Target: audio.SpeechFormat}
	c.mu.Unlock()
	if old != nil {
		old.Release()
	}

	slog.Info("room: capture granted", "room", c.id, "encoding", g.Encoding, "sample_rate", format.SampleRate, "channels", format.Channels)
	return stream, nil
}

// grant hands a capture frame to a pending Acquire. Unsolicited frames are
// dropped.
func (c *captureSource) grant(f controlFrame) {
	select {
	case c.grants <- f:
	default:
		slog.Debug("room: unexpected capture frame", "room", c.id)
	}
}

// feed decodes one binary frame and pushes it into the stream.
func (c *captureSource) feed(data []byte) error {
	c.mu.Lock()
	stream, dec, format, conv := c.stream, c.decoder, c.format, c.converter
	c.mu.Unlock()
	if stream == nil {
		return nil
	}

	var frame audio.AudioFrame
	if dec != nil {
		f, err := dec.Decode(data)
		if err != nil {
			return fmt.Errorf("room: decode opus: %w", err)
		}
		frame = f
	} else {
		if len(data)%2 != 0 {
			return errors.New("room: odd pcm16 frame length")
		}
		frame = audio.AudioFrame{Data: data, SampleRate: format.SampleRate, Channels: format.Channels}
	}

	c.mu.Lock()
	frame = conv.Convert(frame)
	c.mu.Unlock()
	if len(frame.Data) > 0 {
		stream.Push(frame)
	}
	return nil
}
