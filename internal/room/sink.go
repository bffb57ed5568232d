package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/pkg/audio"
)

const interruptTimeout = 2 * time.Second

// speechSink streams synthesized PCM to the browser as binary frames. Each
// utterance is framed by speech_start and speech_end; the client answers
// speech_end with playback_done once its buffer ran dry.
type speechSink struct {
	roomID    string
	writeJSON func(ctx context.Context, f eventFrame) error
	writeBin  func(ctx context.Context, typ websocket.MessageType, p []byte) error

	mu        sync.Mutex
	streaming bool
	seq       uint64
	acks      map[uint64]chan struct{}
}

var (
	_ audio.Sink         = (*speechSink)(nil)
	_ speech.Flusher     = (*speechSink)(nil)
	_ speech.Interrupter = (*speechSink)(nil)
)

func newSpeechSink(roomID string, writeJSON func(context.Context, eventFrame) error, writeBin func(context.Context, websocket.MessageType, []byte) error) *speechSink {
	return &speechSink{
		roomID:    roomID,
		writeJSON: writeJSON,
		writeBin:  writeBin,
		acks:      make(map[uint64]chan struct{}),
	}
}

// WriteAudio implements [audio.Sink].
func (s *speechSink) WriteAudio(ctx context.Context, frame audio.AudioFrame) error {
	s.mu.Lock()
	first := !s.streaming
	s.streaming = true
	s.mu.Unlock()

	if first {
		if err := s.writeJSON(ctx, eventFrame{Type: msgSpeechStart, SampleRate: frame.SampleRate, Channels: frame.Channels}); err != nil {
			return err
		}
	}
	return s.writeBin(ctx, websocket.MessageBinary, frame.Data)
}

// Flush implements [speech.Flusher]. It marks the end of the utterance and
// waits for the client's playback_done.
func (s *speechSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.streaming = false
	s.seq++
	seq := s.seq
	ack := make(chan struct{})
	s.acks[seq] = ack
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.acks, seq)
		s.mu.Unlock()
	}()

	if err := s.writeJSON(ctx, eventFrame{Type: msgSpeechEnd, Seq: seq}); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt implements [speech.Interrupter]. The client drops whatever audio
// it still has queued.
func (s *speechSink) Interrupt() {
	s.mu.Lock()
	s.streaming = false
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), interruptTimeout)
	defer cancel()
	if err := s.writeJSON(ctx, eventFrame{Type: msgSpeechStop}); err != nil {
		slog.Debug("room: send speech stop", "room", s.roomID, "err", err)
	}
}

// ack resolves a pending Flush.
func (s *speechSink) ack(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.acks[seq]; ok {
		close(ch)
		delete(s.acks, seq)
	}
}
