package app

import (
	"encoding/json"
	"log/slog"
)

// Relay routes opaque WebRTC handshake payloads between members of a room.
// Delivery is best effort: unknown rooms or targets are dropped silently.
type Relay struct {
	registry *Registry
	logger   *slog.Logger
}

func NewRelay(registry *Registry, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{registry: registry, logger: logger}
}

// RequestPeerList returns the other members in join order. The requester is
// the newer joiner and initiates a link toward each of them.
func (r *Relay) RequestPeerList(room, self string) []string {
	return r.registry.ListOthers(room, self)
}

// PeerJoined tells existing members that identity is about to call them.
func (r *Relay) PeerJoined(room string, member *Member) {
	r.registry.Publish(room, Envelope{Type: EventUserJoined, Payload: peerPayload{
		ID:   member.ID,
		Name: member.Name,
		Role: string(member.Role),
	}}, member.ID)
}

// PeerLeft tells the remaining members to tear down their link to identity.
func (r *Relay) PeerLeft(room, identity string) {
	r.registry.Publish(room, LeftNotice(identity), identity)
}

// LeftNotice is the mesh teardown event for identity.
func LeftNotice(identity string) Envelope {
	return Envelope{Type: EventUserLeft, Payload: identity}
}

// RelayOffer forwards an offer from one member to target.
func (r *Relay) RelayOffer(room, from, target string, offer json.RawMessage) bool {
	sender, ok := r.registry.Member(room, from)
	if !ok {
		r.drop(room, from, target, EventOffer)
		return false
	}
	return r.deliver(room, from, target, Envelope{Type: EventOffer, Payload: offerPayload{
		CallerID:   from,
		CallerName: sender.Name,
		Offer:      offer,
	}})
}

// RelayAnswer forwards an answer back to the member that sent the offer.
func (r *Relay) RelayAnswer(room, from, target string, answer json.RawMessage) bool {
	if _, ok := r.registry.Member(room, from); !ok {
		r.drop(room, from, target, EventAnswer)
		return false
	}
	return r.deliver(room, from, target, Envelope{Type: EventAnswer, Payload: answerPayload{
		ResponderID: from,
		Answer:      answer,
	}})
}

// RelayICECandidate forwards a trickled candidate.
func (r *Relay) RelayICECandidate(room, from, target string, candidate json.RawMessage) bool {
	if _, ok := r.registry.Member(room, from); !ok {
		r.drop(room, from, target, EventICECandidate)
		return false
	}
	return r.deliver(room, from, target, Envelope{Type: EventICECandidate, Payload: candidatePayload{
		SenderID:  from,
		Candidate: candidate,
	}})
}

func (r *Relay) deliver(room, from, target string, env Envelope) bool {
	if target == "" || target == from {
		r.drop(room, from, target, env.Type)
		return false
	}
	if !r.registry.SendTo(room, target, env) {
		r.drop(room, from, target, env.Type)
		return false
	}
	return true
}

func (r *Relay) drop(room, from, target, kind string) {
	r.logger.Debug("signal dropped", "room", room, "from", from, "target", target, "type", kind)
}
