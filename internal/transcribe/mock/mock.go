// Package mock provides a scriptable [transcribe.Adapter] for orchestrator
// tests.
//
// Every StartTurn call creates a [Handle] that tests drive directly:
//
//	a := &mock.Adapter{CompleteOnStop: true}
//	h := a.Last()
//	h.Say("my answer")   // final result, HasUtterance becomes true
//	h.Stop()             // OnTurnDone(id, nil) is delivered asynchronously
package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/parley/internal/transcribe"
	"github.com/MrWong99/parley/pkg/audio"
)

var (
	_ transcribe.Adapter = (*Adapter)(nil)
	_ transcribe.Handle  = (*Handle)(nil)
)

var ids atomic.Uint64

// Adapter is a mock implementation of [transcribe.Adapter].
type Adapter struct {
	mu sync.Mutex

	// AdapterMode is returned by Mode. Defaults to incremental.
	AdapterMode transcribe.Mode

	// StartErr, if non-nil, is returned by StartTurn.
	StartErr error

	// FailFirst limits StartErr to the first FailFirst calls. Zero means
	// every call fails while StartErr is set.
	FailFirst int

	// CompleteOnStop makes Handle.Stop deliver OnTurnDone with StopErr.
	CompleteOnStop bool

	// StopErr is passed to OnTurnDone by handles completing on Stop.
	StopErr error

	// Handles records every handle created, in order.
	Handles []*Handle

	// StartCalls counts StartTurn invocations.
	StartCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// StartTurn implements [transcribe.Adapter].
func (a *Adapter) StartTurn(_ context.Context, _ *audio.Stream, l transcribe.Listener) (transcribe.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StartCalls++
	if a.StartErr != nil && (a.FailFirst == 0 || a.StartCalls <= a.FailFirst) {
		return nil, a.StartErr
	}
	h := &Handle{
		id:             ids.Add(1),
		listener:       l,
		completeOnStop: a.CompleteOnStop,
		stopErr:        a.StopErr,
	}
	a.Handles = append(a.Handles, h)
	return h, nil
}

// Mode implements [transcribe.Adapter].
func (a *Adapter) Mode() transcribe.Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.AdapterMode == "" {
		return transcribe.ModeIncremental
	}
	return a.AdapterMode
}

// Close implements [transcribe.Adapter]. It aborts every live handle.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.CloseCalls++
	hs := append([]*Handle(nil), a.Handles...)
	a.mu.Unlock()
	for _, h := range hs {
		h.Abort()
	}
	return nil
}

// Calls returns the number of StartTurn invocations.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.StartCalls
}

// Closed returns the number of Close invocations.
func (a *Adapter) Closed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CloseCalls
}

// Last returns the most recently created handle, or nil.
func (a *Adapter) Last() *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Handles) == 0 {
		return nil
	}
	return a.Handles[len(a.Handles)-1]
}

// Handle is a mock implementation of [transcribe.Handle].
type Handle struct {
	id             uint64
	listener       transcribe.Listener
	completeOnStop bool
	stopErr        error

	mu      sync.Mutex
	finals  []string
	interim string
	stops   int
	aborts  int
	done    bool
}

// ID implements [transcribe.Handle].
func (h *Handle) ID() uint64 { return h.id }

// Say commits text as a final fragment and reports it to the listener.
func (h *Handle) Say(text string) {
	h.mu.Lock()
	if h.aborts > 0 || h.done {
		h.mu.Unlock()
		return
	}
	h.finals = append(h.finals, text)
	h.interim = ""
	full := strings.Join(h.finals, " ")
	h.mu.Unlock()
	h.listener.OnResult(transcribe.Result{TurnID: h.id, Text: full, Fragment: text, Final: true})
}

// Hear sets the interim fragment and reports it to the listener.
func (h *Handle) Hear(text string) {
	h.mu.Lock()
	if h.aborts > 0 || h.done {
		h.mu.Unlock()
		return
	}
	h.interim = text
	h.mu.Unlock()
	h.listener.OnResult(transcribe.Result{TurnID: h.id, Text: h.Transcript(), Fragment: text})
}

// Complete delivers OnTurnDone with err unless the turn was aborted or
// already completed.
func (h *Handle) Complete(err error) {
	h.mu.Lock()
	if h.aborts > 0 || h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	h.mu.Unlock()
	h.listener.OnTurnDone(h.id, err)
}

// Stop implements [transcribe.Handle].
func (h *Handle) Stop() {
	h.mu.Lock()
	h.stops++
	first := h.stops == 1
	h.mu.Unlock()
	if first && h.completeOnStop {
		go h.Complete(h.stopErr)
	}
}

// Abort implements [transcribe.Handle].
func (h *Handle) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aborts++
}

// HasUtterance implements [transcribe.Handle].
func (h *Handle) HasUtterance() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.finals) > 0 || h.interim != ""
}

// Transcript implements [transcribe.Handle].
func (h *Handle) Transcript() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	parts := append([]string(nil), h.finals...)
	if h.interim != "" {
		parts = append(parts, h.interim)
	}
	return strings.Join(parts, " ")
}

// Stopped returns the number of Stop calls.
func (h *Handle) Stopped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

// Aborted returns the number of Abort calls.
func (h *Handle) Aborted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborts
}
