// Package mock provides a scriptable [gateway.Gateway] for tests.
//
// Replies are consumed in order; once a script is exhausted the last reply
// repeats. Every call is recorded.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

var _ gateway.Gateway = (*Gateway)(nil)

// SubmitResult is one scripted SubmitAnswer outcome.
type SubmitResult struct {
	Reply gateway.Reply
	Err   error
}

// Gateway is a mock implementation of [gateway.Gateway].
type Gateway struct {
	mu sync.Mutex

	// Started is returned by StartInterview when StartErr is nil.
	Started  gateway.Started
	StartErr error

	// Replies scripts SubmitAnswer outcomes in order.
	Replies []SubmitResult

	// SubmitDelay makes SubmitAnswer wait before answering, honouring ctx.
	SubmitDelay time.Duration

	// Ended is returned by EndInterview when EndErr is nil.
	Ended  gateway.Ended
	EndErr error

	// Transcript is returned by TranscribeRemote when TranscribeErr is nil.
	Transcript    string
	TranscribeErr error

	// --- Call records ---

	Candidates []gateway.Candidate
	Answers    []string
	EndCalls   []string
	Clips      []stt.Clip
}

// StartInterview implements [gateway.Gateway].
func (g *Gateway) StartInterview(_ context.Context, c gateway.Candidate) (gateway.Started, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Candidates = append(g.Candidates, c)
	if g.StartErr != nil {
		return gateway.Started{}, g.StartErr
	}
	return g.Started, nil
}

// SubmitAnswer implements [gateway.Gateway].
func (g *Gateway) SubmitAnswer(ctx context.Context, _ string, text string) (gateway.Reply, error) {
	g.mu.Lock()
	g.Answers = append(g.Answers, text)
	var res SubmitResult
	if n := len(g.Replies); n > 0 {
		res = g.Replies[0]
		if n > 1 {
			g.Replies = g.Replies[1:]
		}
	}
	delay := g.SubmitDelay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return gateway.Reply{}, ctx.Err()
		}
	}
	return res.Reply, res.Err
}

// EndInterview implements [gateway.Gateway].
func (g *Gateway) EndInterview(_ context.Context, sessionID string) (gateway.Ended, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.EndCalls = append(g.EndCalls, sessionID)
	if g.EndErr != nil {
		return gateway.Ended{}, g.EndErr
	}
	return g.Ended, nil
}

// TranscribeRemote implements [gateway.Gateway].
func (g *Gateway) TranscribeRemote(_ context.Context, clip stt.Clip) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Clips = append(g.Clips, clip)
	return g.Transcript, g.TranscribeErr
}

// SubmittedAnswers returns a copy of the submitted answer texts.
func (g *Gateway) SubmittedAnswers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.Answers...)
}

// EndCount returns the number of EndInterview calls.
func (g *Gateway) EndCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.EndCalls)
}

// StartedCandidates returns a copy of the candidates passed to
// StartInterview.
func (g *Gateway) StartedCandidates() []gateway.Candidate {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Candidate(nil), g.Candidates...)
}
