package signal

import (
	"context"
	"fmt"
	"sync"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// MemoryRoom is an in-process relay: every participant joined through it
// sees the same roster and can send custom data to the others.
type MemoryRoom struct {
	mu         sync.Mutex
	members    map[string]*memoryParticipant
	iceServers []ICEServer
}

func NewMemoryRoom(iceServers ...ICEServer) *MemoryRoom {
	return &MemoryRoom{
		members:    map[string]*memoryParticipant{},
		iceServers: iceServers,
	}
}

// Join returns a new unstarted participant of the room.
func (r *MemoryRoom) Join() SignalServer {
	return &memoryParticipant{room: r}
}

// Dial makes the room usable as a Dialer; the join id is ignored.
func (r *MemoryRoom) Dial(ctx context.Context, joinID string) (SignalServer, error) {
	return r.Join(), nil
}

// Len returns the number of started participants.
func (r *MemoryRoom) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// register publishes p and queues its ready callback before any
// notification about later participants can reach it.
func (r *MemoryRoom) register(p *memoryParticipant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roster := make([]Participant, 0, len(r.members))
	for id, other := range r.members {
		roster = append(roster, Participant{ID: id})
		other.deliver(&Notification{Type: NotificationRegisteredPeer, ParticipantID: p.id})
	}

	p.mu.Lock()
	p.participants = roster
	box, h := p.box, p.handlers
	p.mu.Unlock()
	box.post(h.ready)

	r.members[p.id] = p
}

func (r *MemoryRoom) unregister(p *memoryParticipant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[p.id] != p {
		return
	}
	delete(r.members, p.id)
	for _, other := range r.members {
		other.deliver(&Notification{Type: NotificationHungup, ParticipantID: p.id})
	}
}

func (r *MemoryRoom) forward(from, to, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if target, ok := r.members[to]; ok {
		target.deliver(&Notification{Type: NotificationCustomData, ParticipantID: from, Data: data})
	}
}

type memoryParticipant struct {
	room *MemoryRoom

	mu           sync.RWMutex
	id           string
	participants []Participant
	handlers     *Handlers
	box          *mailbox
	started      bool
}

func (p *memoryParticipant) SetHandlers(h *Handlers) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = h
}

func (p *memoryParticipant) Start() error {
	id, err := nanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate participant id: %w", err)
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("signal server already started")
	}
	p.started = true
	p.id = id
	p.box = newMailbox()
	h := p.handlers
	p.mu.Unlock()

	p.box.post(h.started)
	p.room.register(p)
	return nil
}

func (p *memoryParticipant) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	h := p.handlers
	box := p.box
	p.mu.Unlock()

	p.room.unregister(p)
	box.post(func() { h.stopped(nil) })
	box.close()
	return nil
}

func (p *memoryParticipant) deliver(n *Notification) {
	p.mu.RLock()
	box, h := p.box, p.handlers
	p.mu.RUnlock()

	if box != nil {
		box.post(func() { h.notify(n) })
	}
}

func (p *memoryParticipant) ParticipantID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

func (p *memoryParticipant) Participants() []Participant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Participant(nil), p.participants...)
}

func (p *memoryParticipant) ICEServers() []ICEServer {
	return p.room.iceServers
}

func (p *memoryParticipant) SendCommand(name string, payload interface{}) error {
	p.mu.RLock()
	started, id := p.started, p.id
	p.mu.RUnlock()

	if !started {
		return ErrNotStarted
	}

	switch name {
	case CommandCustomData:
		data, ok := payload.(*CustomData)
		if !ok {
			return fmt.Errorf("custom-data expects *CustomData, but got %T", payload)
		}
		p.room.forward(id, data.ParticipantID, data.Data)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCommand, name)
	}
}
