package transcribe

import (
	"strings"
	"sync"
)

// Accumulator holds the transcript of one turn: an ordered list of final
// fragments plus at most one pending interim fragment. It is safe for
// concurrent use.
type Accumulator struct {
	mu      sync.Mutex
	finals  []string
	interim string
}

// AppendFinal commits text as the next final fragment and clears the interim.
// Blank fragments only clear the interim.
func (a *Accumulator) AppendFinal(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interim = ""
	if t := strings.TrimSpace(text); t != "" {
		a.finals = append(a.finals, t)
	}
}

// SetInterim replaces the interim fragment.
func (a *Accumulator) SetInterim(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interim = strings.TrimSpace(text)
}

// Final returns the committed fragments joined by single spaces.
func (a *Accumulator) Final() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.finals, " ")
}

// Interim returns the pending interim fragment.
func (a *Accumulator) Interim() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interim
}

// Text returns the committed fragments followed by the interim.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.interim == "" {
		return strings.Join(a.finals, " ")
	}
	if len(a.finals) == 0 {
		return a.interim
	}
	return strings.Join(a.finals, " ") + " " + a.interim
}

// Empty reports whether neither final nor interim text is present.
func (a *Accumulator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.finals) == 0 && a.interim == ""
}

// Clear drops all fragments.
func (a *Accumulator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finals = nil
	a.interim = ""
}

// Settle resolves the interim at the end of a turn. A turn that never
// produced a final keeps its interim as the transcript; otherwise the interim
// is dropped because the recognizer already confirmed what was said.
func (a *Accumulator) Settle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.interim == "" {
		return
	}
	if len(a.finals) == 0 {
		a.finals = append(a.finals, a.interim)
	}
	a.interim = ""
}
