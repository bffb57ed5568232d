package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/room"
)

var (
	// ErrAtCapacity is returned by [RoomManager.Add] when the configured
	// number of concurrent interviews is already running.
	ErrAtCapacity = errors.New("app: interview capacity reached")

	// ErrShuttingDown is returned by [RoomManager.Add] after Shutdown.
	ErrShuttingDown = errors.New("app: shutting down")
)

// InterviewInfo describes a running interview.
type InterviewInfo struct {
	RoomID      string    `json:"room_id"`
	InterviewID string    `json:"interview_id"`
	Candidate   string    `json:"candidate,omitempty"`
	Position    string    `json:"position,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	State       string    `json:"state"`
}

// RoomManager tracks running interview rooms and enforces the concurrency
// limit. All exported methods are safe for concurrent use.
type RoomManager struct {
	mu     sync.Mutex
	max    int
	rooms  map[string]*room.Room
	closed bool
}

var _ room.Registry = (*RoomManager)(nil)

// NewRoomManager returns a manager admitting at most max rooms. A max of
// zero or less means unlimited.
func NewRoomManager(max int) *RoomManager {
	return &RoomManager{
		max:   max,
		rooms: make(map[string]*room.Room),
	}
}

// Add registers r. It fails with [ErrAtCapacity] when the limit is reached
// and with [ErrShuttingDown] once Shutdown has begun.
func (m *RoomManager) Add(r *room.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrShuttingDown
	}
	if m.max > 0 && len(m.rooms) >= m.max {
		return fmt.Errorf("%w (%d running)", ErrAtCapacity, len(m.rooms))
	}
	m.rooms[r.ID()] = r
	return nil
}

// Remove forgets the room with the given ID. Unknown IDs are ignored.
func (m *RoomManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
}

// Count returns the number of running rooms.
func (m *RoomManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// List returns the running interviews, oldest first.
func (m *RoomManager) List() []InterviewInfo {
	m.mu.Lock()
	out := make([]InterviewInfo, 0, len(m.rooms))
	for _, r := range m.rooms {
		c := r.Candidate()
		out = append(out, InterviewInfo{
			RoomID:      r.ID(),
			InterviewID: r.InterviewID(),
			Candidate:   c.Name,
			Position:    c.Position,
			StartedAt:   r.StartedAt(),
			State:       r.State().String(),
		})
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b InterviewInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RoomID, b.RoomID)
	})
	return out
}

// Shutdown refuses new rooms and ends every running interview concurrently.
// Rooms close their connections once their interview has ended.
func (m *RoomManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	rooms := make([]*room.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range rooms {
		g.Go(func() error {
			if err := r.End(gctx); err != nil {
				slog.Warn("end interview on shutdown", "room", r.ID(), "interview", r.InterviewID(), "err", err)
				return fmt.Errorf("end interview %s: %w", r.InterviewID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// checkCapacity fails readiness while no further interview can be admitted.
func (m *RoomManager) checkCapacity(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShuttingDown
	}
	if m.max > 0 && len(m.rooms) >= m.max {
		return ErrAtCapacity
	}
	return nil
}
