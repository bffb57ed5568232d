package transcribe_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/transcribe"
	"github.com/MrWong99/parley/pkg/audio"
)

// recorder is a non-blocking Listener that buffers everything it receives.
type recorder struct {
	results chan transcribe.Result
	done    chan error

	mu    sync.Mutex
	calls int
}

func newRecorder() *recorder {
	return &recorder{
		results: make(chan transcribe.Result, 64),
		done:    make(chan error, 4),
	}
}

func (r *recorder) OnResult(res transcribe.Result) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	r.results <- res
}

func (r *recorder) OnTurnDone(_ uint64, err error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	r.done <- err
}

func (r *recorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *recorder) nextResult(t *testing.T) transcribe.Result {
	t.Helper()
	select {
	case res := <-r.results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return transcribe.Result{}
	}
}

func (r *recorder) waitDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn completion")
		return nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func pcmFrame(level int16) audio.AudioFrame {
	s := make([]int16, 320)
	for i := range s {
		if i%2 == 0 {
			s[i] = level
		} else {
			s[i] = -level
		}
	}
	return audio.AudioFrame{Data: audio.Int16sToBytes(s), SampleRate: 16000, Channels: 1}
}
