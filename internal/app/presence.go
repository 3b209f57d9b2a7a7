package app

import (
	"log/slog"
	"sync"

	"classroom-live/internal/domain"
)

// Presence fans out join/leave events and focus reports to the rest of a room.
// It keeps only the latest focus status per identity.
type Presence struct {
	registry *Registry
	clock    Clock
	logger   *slog.Logger

	mu     sync.Mutex
	boards map[string]*focusBoard
}

type focusBoard struct {
	mu       sync.Mutex
	statuses map[string]domain.FocusStatus
}

func NewPresence(registry *Registry, clock Clock, logger *slog.Logger) *Presence {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		registry: registry,
		clock:    clock,
		logger:   logger,
		boards:   make(map[string]*focusBoard),
	}
}

// AnnounceJoin tells every other member that identity is present.
func (p *Presence) AnnounceJoin(room, identity, name string, role domain.Role) {
	p.registry.Publish(room, Envelope{Type: EventPresence, Payload: presencePayload{
		StudentID:   identity,
		StudentName: name,
		Role:        string(role),
		Status:      PresenceJoined,
		At:          p.clock.Now().UTC(),
	}}, identity)
}

// AnnounceLeave forgets identity's focus status and tells the remaining members it left.
func (p *Presence) AnnounceLeave(room, identity, name string) {
	p.Forget(room, identity)
	p.registry.Publish(room, p.LeaveNotice(identity, name), identity)
}

// LeaveNotice builds the LEFT event for identity.
func (p *Presence) LeaveNotice(identity, name string) Envelope {
	return Envelope{Type: EventPresence, Payload: presencePayload{
		StudentID:   identity,
		StudentName: name,
		Status:      PresenceLeft,
		At:          p.clock.Now().UTC(),
	}}
}

// ReportFocus records and fans out the latest classification for identity.
func (p *Presence) ReportFocus(room, identity, rawStatus string) error {
	status, ok := domain.ParseFocusStatus(rawStatus)
	if !ok {
		return domain.Invalid("Unknown focus status.")
	}
	room = NormalizeCode(room)
	if _, ok := p.registry.Member(room, identity); !ok {
		return domain.ErrParticipantNotFound
	}

	board := p.board(room, true)
	board.mu.Lock()
	board.statuses[identity] = status
	board.mu.Unlock()

	p.registry.Publish(room, Envelope{Type: EventFocusReceive, Payload: focusPayload{
		StudentID: identity,
		Status:    status,
	}}, identity)
	return nil
}

// FocusOf returns the latest status, or UNKNOWN when nothing was reported.
func (p *Presence) FocusOf(room, identity string) domain.FocusStatus {
	board := p.board(NormalizeCode(room), false)
	if board == nil {
		return domain.FocusUnknown
	}
	board.mu.Lock()
	defer board.mu.Unlock()
	if status, ok := board.statuses[identity]; ok {
		return status
	}
	return domain.FocusUnknown
}

// FocusSnapshot copies the latest status of every reporting member.
func (p *Presence) FocusSnapshot(room string) map[string]domain.FocusStatus {
	out := make(map[string]domain.FocusStatus)
	board := p.board(NormalizeCode(room), false)
	if board == nil {
		return out
	}
	board.mu.Lock()
	defer board.mu.Unlock()
	for id, status := range board.statuses {
		out[id] = status
	}
	return out
}

// Drop discards all focus state for a room.
func (p *Presence) Drop(room string) {
	p.mu.Lock()
	delete(p.boards, NormalizeCode(room))
	p.mu.Unlock()
}

// Forget drops the latest focus status of identity.
func (p *Presence) Forget(room, identity string) {
	board := p.board(NormalizeCode(room), false)
	if board == nil {
		return
	}
	board.mu.Lock()
	delete(board.statuses, identity)
	board.mu.Unlock()
}

func (p *Presence) board(room string, create bool) *focusBoard {
	p.mu.Lock()
	defer p.mu.Unlock()
	board, ok := p.boards[room]
	if !ok && create {
		board = &focusBoard{statuses: make(map[string]domain.FocusStatus)}
		p.boards[room] = board
	}
	return board
}
