package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format is the shape of a PCM stream: sample rate and channel count.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is what recognizers and transcribers consume: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// String renders f as e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// FormatConverter adapts captured frames to a mono Target. Browsers capture
// at whatever rate the audio device runs, usually 48 kHz, so every frame
// headed for a recognizer passes through one of these.
//
// A converter keeps per-stream warning state and must not be shared between
// goroutines.
type FormatConverter struct {
	Target Format

	logOnce  sync.Once
	badFrame sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned as-is. Frames with a torn sample come back empty and
// should be skipped.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}

	if len(frame.Data)%(2*max(src.Channels, 1)) != 0 {
		c.badFrame.Do(func() {
			slog.Warn("audio: dropping frame with partial sample", "bytes", len(frame.Data), "format", src)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: 1, Timestamp: frame.Timestamp}
	}
	if src == c.Target {
		return frame
	}
	c.logOnce.Do(func() {
		slog.Debug("audio: converting capture", "from", src, "to", c.Target)
	})

	// Downmix first so only one channel is interpolated.
	pcm := frame.Data
	if src.Channels > 1 {
		pcm = downmix(pcm, src.Channels)
	}
	return AudioFrame{
		Data:       ResampleMono16(pcm, src.SampleRate, c.Target.SampleRate),
		SampleRate: c.Target.SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

// StereoToMono averages interleaved left and right samples.
func StereoToMono(pcm []byte) []byte { return downmix(pcm, 2) }

// downmix averages each group of n interleaved samples into one.
func downmix(pcm []byte, n int) []byte {
	in := BytesToInt16s(pcm)
	out := make([]int16, len(in)/n)
	for i := range out {
		var sum int32
		for _, s := range in[i*n : i*n+n] {
			sum += int32(s)
		}
		out[i] = int16(sum / int32(n))
	}
	return Int16sToBytes(out)
}

// ResampleMono16 converts mono int16 PCM from srcRate to dstRate by linear
// interpolation. Invalid or equal rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	in := BytesToInt16s(pcm)
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	step := float64(srcRate) / float64(dstRate)
	last := len(in) - 1
	out := make([]int16, n)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		next := in[min(j+1, last)]
		frac := pos - float64(j)
		out[i] = int16(math.Round(float64(in[j]) + frac*float64(int32(next)-int32(in[j]))))
	}
	return Int16sToBytes(out)
}

// Drain discards values from ch until it is closed, so the producer of an
// abandoned stream can finish.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
