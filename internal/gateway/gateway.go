// Package gateway talks to the interview backend: it starts interviews,
// submits the candidate's answers, ends interviews and transcribes recorded
// answers remotely.
//
// [Gateway] is the narrow contract the orchestrator depends on. [HTTPClient]
// implements it against the backend's JSON API; the mock subpackage provides
// a scriptable double.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// ErrNotFound is returned when the backend does not know the interview.
var ErrNotFound = errors.New("gateway: interview not found")

// Candidate identifies who is being interviewed and with which template.
type Candidate struct {
	Name       string            `json:"name,omitempty"`
	Email      string            `json:"email,omitempty"`
	Position   string            `json:"position,omitempty"`
	TemplateID string            `json:"template_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Started is the backend's reply to StartInterview.
type Started struct {
	SessionID   string `json:"session_id"`
	FirstPrompt string `json:"prompt"`
}

// Reply is the backend's reply to an answer. Exactly one of NextPrompt and
// ReportID is set: a report ID means the interview is over.
type Reply struct {
	NextPrompt string `json:"next_prompt,omitempty"`
	ReportID   string `json:"report_id,omitempty"`
}

// Done reports whether the reply ends the interview.
func (r Reply) Done() bool { return r.ReportID != "" }

// Ended is the backend's reply to EndInterview. ReportID may be empty when
// the interview was abandoned before any answer.
type Ended struct {
	ReportID string `json:"report_id,omitempty"`
}

// Gateway is the interview backend as seen by one interview.
//
// Implementations must be safe for concurrent use.
type Gateway interface {
	// StartInterview registers a new interview and returns its first prompt.
	StartInterview(ctx context.Context, c Candidate) (Started, error)

	// SubmitAnswer records the answer text and returns the next prompt or the
	// terminal report ID.
	SubmitAnswer(ctx context.Context, sessionID, text string) (Reply, error)

	// EndInterview closes the interview early.
	EndInterview(ctx context.Context, sessionID string) (Ended, error)

	// TranscribeRemote converts one recorded answer to text.
	TranscribeRemote(ctx context.Context, clip stt.Clip) (string, error)
}

// APIError is a non-2xx reply from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: backend returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: backend returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Transcriber adapts a Gateway's remote transcription endpoint to
// [stt.Transcriber] so it can back a batch adapter or join a fallback group.
func Transcriber(g Gateway) stt.Transcriber {
	return transcriber{g}
}

type transcriber struct{ g Gateway }

func (t transcriber) Transcribe(ctx context.Context, clip stt.Clip) (string, error) {
	return t.g.TranscribeRemote(ctx, clip)
}
