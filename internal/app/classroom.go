package app

import (
	"context"
	"log/slog"

	"classroom-live/internal/domain"
)

// Deps are the collaborators needed to assemble a Classroom.
type Deps struct {
	Sessions         SessionRepository
	Directory        RoomDirectory
	Quiz             QuizStore
	Clock            Clock
	Logger           *slog.Logger
	Scoring          Scoring
	LeaderboardLimit int
	QuizOptions      QuizOptions
	Tracker          RoomTracker
}

// RoomTracker publishes which rooms hold live connections, e.g. for other
// instances or operators. Calls are best effort.
type RoomTracker interface {
	Touch(ctx context.Context, code string, members int)
	Release(ctx context.Context, code string)
}

// LiveReporter is implemented by trackers that can report a room's member
// count as last published, possibly by another instance.
type LiveReporter interface {
	Live(ctx context.Context, code string) (int, bool)
}

// Classroom wires the room components together and orchestrates
// connection lifecycle events across them.
type Classroom struct {
	Registry *Registry
	Relay    *Relay
	Presence *Presence
	Quiz     *QuizEngine
	Board    *Aggregator
	Sessions *SessionService
	tracker  RoomTracker
	logger   *slog.Logger
}

func NewClassroom(d Deps) *Classroom {
	if d.Clock == nil {
		d.Clock = SystemClock()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Directory == nil && d.Sessions != nil {
		d.Directory = RepositoryDirectory{Repo: d.Sessions}
	}

	registry := NewRegistry(d.Directory, d.Clock, d.Logger.With("component", "registry"))
	board := NewAggregator(d.Quiz, d.Scoring, d.LeaderboardLimit, d.Clock)
	presence := NewPresence(registry, d.Clock, d.Logger.With("component", "presence"))
	quiz := NewQuizEngine(registry, d.Quiz, d.Sessions, board, d.Clock, d.Logger.With("component", "quiz"), d.QuizOptions)
	return &Classroom{
		Registry: registry,
		Relay:    NewRelay(registry, d.Logger.With("component", "signaling")),
		Presence: presence,
		Quiz:     quiz,
		Board:    board,
		Sessions: NewSessionService(d.Sessions, d.Directory, registry, quiz, presence, d.Clock, d.Logger.With("component", "sessions")),
		tracker:  d.Tracker,
		logger:   d.Logger,
	}
}

// Connect joins identity to the room and brings the new connection up to
// date: the peer list it must call, and the current question if one is open.
// A previous connection of the same identity is told it was superseded.
func (c *Classroom) Connect(ctx context.Context, roomCode, identity, name string, role domain.Role, sink Sink) (*Member, []string, error) {
	if _, err := c.Registry.EnsureEphemeral(ctx, roomCode); err != nil {
		return nil, nil, err
	}
	member, prior, err := c.Registry.Join(roomCode, identity, name, role, sink)
	if err != nil {
		return nil, nil, err
	}
	code := member.Room

	if prior != nil {
		c.Relay.PeerLeft(code, identity)
		if prior.sink != nil {
			prior.sink.Send(Envelope{Type: EventSuperseded, Payload: map[string]string{"roomId": code}})
			prior.sink.Close()
		}
		c.logger.Info("connection superseded", "room", code, "participant", identity)
	}

	peers := c.Relay.RequestPeerList(code, identity)
	sink.Send(Envelope{Type: EventJoined, Payload: member.Participant})
	sink.Send(Envelope{Type: EventAllUsers, Payload: peers})

	c.Presence.AnnounceJoin(code, identity, name, role)
	c.Relay.PeerJoined(code, member)

	if role == domain.RoleTeacher {
		sink.Send(Envelope{Type: EventFocusSnapshot, Payload: c.Presence.FocusSnapshot(code)})
	}
	if state, q := c.Quiz.State(ctx, code); state == domain.QuizActive && q != nil {
		sink.Send(Envelope{Type: EventQuestionNew, Payload: q.Public()})
	}

	if c.tracker != nil {
		c.tracker.Touch(ctx, code, len(peers)+1)
	}
	c.logger.Info("participant connected", "room", code, "participant", identity, "role", role, "peers", len(peers))
	return member, peers, nil
}

// Disconnect removes the member if it is still authoritative and notifies
// the rest of the room exactly once. It is safe to call repeatedly.
func (c *Classroom) Disconnect(ctx context.Context, member *Member) bool {
	if member == nil {
		return false
	}
	forget := func() { c.Presence.Forget(member.Room, member.ID) }
	remaining, removed := c.Registry.DetachWith(member, forget,
		c.Presence.LeaveNotice(member.ID, member.Name),
		LeftNotice(member.ID),
	)
	if !removed {
		return false
	}
	if c.tracker != nil {
		if len(remaining) == 0 {
			c.tracker.Release(ctx, member.Room)
		} else {
			c.tracker.Touch(ctx, member.Room, len(remaining))
		}
	}
	c.logger.Info("participant disconnected", "room", member.Room, "participant", member.ID)
	return true
}

// LiveMembers reports how many connections the room holds. The tracker's
// shared marker wins over this instance's registry when it has one.
func (c *Classroom) LiveMembers(ctx context.Context, roomCode string) int {
	code := NormalizeCode(roomCode)
	if lr, ok := c.tracker.(LiveReporter); ok {
		if n, ok := lr.Live(ctx, code); ok {
			return n
		}
	}
	return len(c.Registry.Members(code))
}
