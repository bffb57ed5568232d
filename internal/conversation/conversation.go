// Package conversation holds the ordered record of an interview: every prompt
// the AI spoke and every answer the user gave.
//
// A [Log] is owned by one orchestrator and is append-only. Entries may be
// mirrored to a durable [Archive]; archiving runs on a background writer so a
// slow database never stalls turn-taking.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrEmptyText is returned by [Log.Append] for blank entries.
var ErrEmptyText = errors.New("conversation: empty entry text")

// Speaker identifies who produced an entry.
type Speaker string

const (
	// SpeakerAI marks a prompt from the interviewer.
	SpeakerAI Speaker = "ai"

	// SpeakerUser marks an answer from the candidate.
	SpeakerUser Speaker = "user"
)

// Entry is one line of the conversation.
type Entry struct {
	// Seq is the zero-based position of the entry in its log.
	Seq int `json:"seq"`

	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`

	// Typed is true for user answers submitted as text rather than speech.
	Typed bool `json:"typed,omitempty"`
}

// Archive persists conversation entries outside the process.
type Archive interface {
	// Append stores e under interviewID.
	Append(ctx context.Context, interviewID string, e Entry) error
}

// Option configures a [Log].
type Option func(*Log)

// WithArchive mirrors every appended entry to a.
func WithArchive(a Archive) Option {
	return func(l *Log) { l.archive = a }
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// archiveQueue bounds the entries waiting for the archive writer.
const archiveQueue = 64

// archiveTimeout bounds one archive write.
const archiveTimeout = 5 * time.Second

// Log is the append-only conversation of one interview. It is safe for
// concurrent use.
type Log struct {
	interviewID string
	archive     Archive
	now         func() time.Time

	mu      sync.Mutex
	entries []Entry

	queue     chan Entry
	writerWG  sync.WaitGroup
	closeOnce sync.Once
}

// NewLog creates an empty log for interviewID.
func NewLog(interviewID string, opts ...Option) *Log {
	l := &Log{
		interviewID: interviewID,
		now:         time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.archive != nil {
		l.queue = make(chan Entry, archiveQueue)
		l.writerWG.Add(1)
		go l.writeArchive(l.queue)
	}
	return l
}

// InterviewID returns the identifier the log was created for.
func (l *Log) InterviewID() string { return l.interviewID }

// Append adds an entry and returns it. Blank text is rejected.
func (l *Log) Append(speaker Speaker, text string, typed bool) (Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, ErrEmptyText
	}

	l.mu.Lock()
	e := Entry{
		Seq:     len(l.entries),
		Speaker: speaker,
		Text:    text,
		At:      l.now(),
		Typed:   typed,
	}
	l.entries = append(l.entries, e)
	if l.queue != nil {
		select {
		case l.queue <- e:
		default:
			slog.Warn("conversation: archive queue full, dropping entry",
				"interview", l.interviewID,
				"seq", e.Seq,
			)
		}
	}
	l.mu.Unlock()
	return e, nil
}

// Entries returns a copy of all entries in order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Last returns the most recent entry by speaker.
func (l *Log) Last(speaker Speaker) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Speaker == speaker {
			return l.entries[i], true
		}
	}
	return Entry{}, false
}

// Close flushes pending archive writes and stops the writer. Appends after
// Close are kept in memory only.
func (l *Log) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		queue := l.queue
		l.queue = nil
		l.mu.Unlock()
		if queue != nil {
			close(queue)
			l.writerWG.Wait()
		}
	})
}

func (l *Log) writeArchive(queue <-chan Entry) {
	defer l.writerWG.Done()
	for e := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		if err := l.archive.Append(ctx, l.interviewID, e); err != nil {
			slog.Warn("conversation: archive entry",
				"interview", l.interviewID,
				"seq", e.Seq,
				"err", err,
			)
		}
		cancel()
	}
}
