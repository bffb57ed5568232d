package transcribe_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/transcribe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt/mock"
)

func startBatch(t *testing.T, tr *mock.Transcriber, opts ...transcribe.Option) (transcribe.Handle, *recorder, *audio.Stream) {
	t.Helper()
	a := transcribe.NewBatch(tr, opts...)
	if a.Mode() != transcribe.ModeBatch {
		t.Errorf("want batch mode, got %q", a.Mode())
	}
	stream := audio.NewStream("test", audio.SpeechFormat)
	rec := newRecorder()
	h, err := a.StartTurn(context.Background(), stream, rec)
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	return h, rec, stream
}

func speak(t *testing.T, h transcribe.Handle, stream *audio.Stream, frames int) {
	t.Helper()
	for range frames {
		stream.Push(pcmFrame(3000))
	}
	eventually(t, "speech recorded", h.HasUtterance)
}

func TestBatch_TranscribesOnStop(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Text: "I have five years of Go experience"}
	h, rec, stream := startBatch(t, tr, transcribe.WithLanguage("en-US"))
	speak(t, h, stream, 10)
	if tr.Calls() != 0 {
		t.Fatal("want nothing sent before Stop")
	}

	h.Stop()
	pending := rec.nextResult(t)
	if !pending.Pending || pending.Text != transcribe.ProcessingPlaceholder || pending.Final {
		t.Errorf("want processing placeholder, got %+v", pending)
	}
	final := rec.nextResult(t)
	if !final.Final || final.Text != "I have five years of Go experience" {
		t.Errorf("unexpected final %+v", final)
	}
	if err := rec.waitDone(t); err != nil {
		t.Fatalf("want clean completion, got %v", err)
	}
	if got := h.Transcript(); got != "I have five years of Go experience" {
		t.Errorf("unexpected transcript %q", got)
	}

	clip := tr.Clips[0]
	if !bytes.HasPrefix(clip.Data, []byte("RIFF")) || clip.Language != "en-US" {
		t.Errorf("want WAV clip with language hint, got %d bytes lang %q", len(clip.Data), clip.Language)
	}
	if clip.Duration != 200*time.Millisecond {
		t.Errorf("want 200ms clip, got %v", clip.Duration)
	}
}

func TestBatch_FailureYieldsEmptyFinal(t *testing.T) {
	t.Parallel()

	errNet := errors.New("connection reset")
	h, rec, stream := startBatch(t, &mock.Transcriber{Err: errNet})
	speak(t, h, stream, 5)

	h.Stop()
	rec.nextResult(t) // placeholder
	if r := rec.nextResult(t); !r.Final || r.Text != "" {
		t.Errorf("want empty final after failure, got %+v", r)
	}
	err := rec.waitDone(t)
	if !errors.Is(err, transcribe.ErrTranscriptionFailed) || !errors.Is(err, errNet) {
		t.Errorf("want ErrTranscriptionFailed wrapping cause, got %v", err)
	}
	if h.Transcript() != "" {
		t.Errorf("want empty transcript, got %q", h.Transcript())
	}
}

func TestBatch_SilentTurnSkipsRequest(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Text: "hallucinated"}
	h, rec, stream := startBatch(t, tr)
	for range 10 {
		stream.Push(pcmFrame(10))
	}
	if h.HasUtterance() {
		t.Error("want no utterance for quiet audio")
	}

	h.Stop()
	if err := rec.waitDone(t); err != nil {
		t.Fatalf("want clean completion, got %v", err)
	}
	if tr.Calls() != 0 {
		t.Errorf("want no request for a silent turn, got %d", tr.Calls())
	}
}

func TestBatch_AbortDuringRequest(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Text: "never delivered", Delay: time.Second}
	h, rec, stream := startBatch(t, tr)
	speak(t, h, stream, 5)

	h.Stop()
	rec.nextResult(t) // placeholder
	eventually(t, "request sent", func() bool { return tr.Calls() == 1 })

	h.Abort()
	select {
	case err := <-rec.done:
		t.Errorf("want no completion after Abort, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBatch_Timeout(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Text: "slow", Delay: time.Second}
	h, rec, stream := startBatch(t, tr, transcribe.WithTimeout(20*time.Millisecond))
	speak(t, h, stream, 5)

	h.Stop()
	if err := rec.waitDone(t); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want deadline exceeded, got %v", err)
	}
}
