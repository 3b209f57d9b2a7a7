package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"classroom-live/internal/domain"
)

// RoomDirectory answers whether a room code was provisioned by the session lifecycle.
// Unknown codes return domain.ErrRoomNotFound.
type RoomDirectory interface {
	SessionActive(ctx context.Context, code string) (bool, error)
}

// Member is one authoritative connection of an identity in a room.
type Member struct {
	domain.Participant
	Room   string
	handle uint64
	sink   Sink
}

// Sink exposes the member's connection handle.
func (m *Member) Sink() Sink {
	return m.sink
}

type room struct {
	code    string
	mu      sync.Mutex
	members []*Member // join order
	removed bool
}

// Registry owns all room membership. Each room is serialized by its own lock;
// the registry lock only guards the room table.
type Registry struct {
	directory RoomDirectory
	clock     Clock
	logger    *slog.Logger
	seq       atomic.Uint64

	mu      sync.RWMutex
	rooms   map[string]*room
	retired map[string]struct{}
}

func NewRegistry(directory RoomDirectory, clock Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		directory: directory,
		clock:     clock,
		logger:    logger,
		rooms:     make(map[string]*room),
		retired:   make(map[string]struct{}),
	}
}

// NormalizeCode upper-cases and trims a room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// EnsureEphemeral makes sure a room exists and returns its normalized code.
// Codes unknown to the directory become signaling-only rooms; codes of ended
// sessions are refused.
func (r *Registry) EnsureEphemeral(ctx context.Context, code string) (string, error) {
	code = NormalizeCode(code)
	if code == "" {
		return "", domain.Invalid(domain.ReasonMissingFields)
	}
	if r.isRetired(code) {
		return "", domain.ErrRoomClosed
	}
	if r.directory != nil {
		active, err := r.directory.SessionActive(ctx, code)
		switch {
		case errors.Is(err, domain.ErrRoomNotFound):
		case err != nil:
			return "", err
		case !active:
			return "", domain.ErrRoomClosed
		}
	}
	r.getOrCreate(code)
	return code, nil
}

// RequireProvisioned checks a quiz-bearing room against the session directory.
func (r *Registry) RequireProvisioned(ctx context.Context, code string) (string, error) {
	code = NormalizeCode(code)
	if code == "" {
		return "", domain.ErrRoomNotFound
	}
	if r.isRetired(code) {
		return "", domain.ErrRoomClosed
	}
	if r.directory == nil {
		return "", domain.ErrRoomNotFound
	}
	active, err := r.directory.SessionActive(ctx, code)
	if err != nil {
		return "", err
	}
	if !active {
		return "", domain.ErrRoomClosed
	}
	return code, nil
}

// Retire stops the room from accepting new members. Current members stay attached.
func (r *Registry) Retire(code string) {
	code = NormalizeCode(code)
	r.mu.Lock()
	r.retired[code] = struct{}{}
	r.mu.Unlock()
}

// Unretire forgets a retired code. The directory still refuses ended sessions.
func (r *Registry) Unretire(code string) {
	code = NormalizeCode(code)
	r.mu.Lock()
	delete(r.retired, code)
	r.mu.Unlock()
}

func (r *Registry) isRetired(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.retired[code]
	return ok
}

// Join adds identity to the room, creating the room if needed. A previous
// connection of the same identity is superseded and returned as prior.
func (r *Registry) Join(code, identity, name string, role domain.Role, sink Sink) (member *Member, prior *Member, err error) {
	code = NormalizeCode(code)
	if code == "" || identity == "" {
		return nil, nil, domain.Invalid(domain.ReasonMissingFields)
	}
	if r.isRetired(code) {
		return nil, nil, domain.ErrRoomClosed
	}

	member = &Member{
		Participant: domain.Participant{
			ID:       identity,
			Name:     name,
			Role:     role,
			JoinedAt: r.clock.Now(),
		},
		Room:   code,
		handle: r.seq.Add(1),
		sink:   sink,
	}

	for {
		rm := r.getOrCreate(code)
		rm.mu.Lock()
		if rm.removed {
			rm.mu.Unlock()
			continue
		}
		if i := rm.indexOf(identity); i >= 0 {
			prior = rm.members[i]
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
		}
		rm.members = append(rm.members, member)
		rm.mu.Unlock()
		break
	}

	r.logger.Debug("participant joined", "room", code, "participant", identity, "role", role, "superseded", prior != nil)
	return member, prior, nil
}

// Leave removes identity regardless of which connection holds it. It is a
// no-op for identities that never joined. The remaining identities are returned.
func (r *Registry) Leave(code, identity string) []string {
	remaining, _ := r.remove(NormalizeCode(code), identity, 0, nil)
	return remaining
}

// Detach removes member only if it is still the authoritative connection for
// its identity. removed is true exactly once per membership. Notices are
// delivered to the remaining members before the room lock is released, so a
// rejoin of the same identity is always observed after them.
func (r *Registry) Detach(member *Member, notices ...Envelope) (remaining []string, removed bool) {
	return r.DetachWith(member, nil, notices...)
}

// DetachWith is Detach with a hook that runs under the room lock after the
// member is removed, so per-identity state it clears cannot race a rejoin.
func (r *Registry) DetachWith(member *Member, onRemoved func(), notices ...Envelope) (remaining []string, removed bool) {
	if member == nil {
		return nil, false
	}
	return r.remove(member.Room, member.ID, member.handle, onRemoved, notices...)
}

func (r *Registry) remove(code, identity string, handle uint64, onRemoved func(), notices ...Envelope) ([]string, bool) {
	rm := r.get(code)
	if rm == nil {
		return nil, false
	}
	rm.mu.Lock()
	removed := false
	if i := rm.indexOf(identity); i >= 0 && (handle == 0 || rm.members[i].handle == handle) {
		rm.members = append(rm.members[:i], rm.members[i+1:]...)
		removed = true
		if onRemoved != nil {
			onRemoved()
		}
		for _, env := range notices {
			rm.deliver(env, r.logger)
		}
	}
	remaining := rm.identities("")
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		r.dropIfEmpty(code)
	}
	return remaining, removed
}

// ListOthers returns the room's identities in join order, excluding identity.
func (r *Registry) ListOthers(code, identity string) []string {
	rm := r.get(NormalizeCode(code))
	if rm == nil {
		return []string{}
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.identities(identity)
}

// Members returns a snapshot of the room's participants in join order.
func (r *Registry) Members(code string) []domain.Participant {
	rm := r.get(NormalizeCode(code))
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]domain.Participant, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m.Participant)
	}
	return out
}

// Member looks up the current participant record for identity.
func (r *Registry) Member(code, identity string) (domain.Participant, bool) {
	rm := r.get(NormalizeCode(code))
	if rm == nil {
		return domain.Participant{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if i := rm.indexOf(identity); i >= 0 {
		return rm.members[i].Participant, true
	}
	return domain.Participant{}, false
}

// Publish fans env out to every member except the listed identities.
// A recipient that cannot accept the message is skipped.
func (r *Registry) Publish(code string, env Envelope, except ...string) int {
	rm := r.get(NormalizeCode(code))
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.deliver(env, r.logger, except...)
}

// SendTo delivers env to one identity's live connection.
func (r *Registry) SendTo(code, identity string, env Envelope) bool {
	rm := r.get(NormalizeCode(code))
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	i := rm.indexOf(identity)
	if i < 0 || rm.members[i].sink == nil {
		return false
	}
	return rm.members[i].sink.Send(env)
}

// RoomCount reports how many rooms currently hold members on this instance.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) get(code string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[code]
}

func (r *Registry) getOrCreate(code string) *room {
	if rm := r.get(code); rm != nil {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[code]; ok {
		return rm
	}
	rm := &room{code: code}
	r.rooms[code] = rm
	return rm
}

// dropIfEmpty lock order: registry, then room.
func (r *Registry) dropIfEmpty(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[code]
	if !ok {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.members) == 0 {
		rm.removed = true
		delete(r.rooms, code)
	}
}

func (rm *room) deliver(env Envelope, logger *slog.Logger, except ...string) int {
	delivered := 0
	for _, m := range rm.members {
		if contains(except, m.ID) || m.sink == nil {
			continue
		}
		if m.sink.Send(env) {
			delivered++
		} else {
			logger.Warn("dropped message for slow participant", "room", rm.code, "participant", m.ID, "type", env.Type)
		}
	}
	return delivered
}

func (rm *room) indexOf(identity string) int {
	for i, m := range rm.members {
		if m.ID == identity {
			return i
		}
	}
	return -1
}

func (rm *room) identities(except string) []string {
	out := make([]string, 0, len(rm.members))
	for _, m := range rm.members {
		if m.ID != except {
			out = append(out, m.ID)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
