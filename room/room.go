package room

import (
	"sync"

	"github.com/go-zoox/ntun/manager"
)

// Member is a participant connected to a room.
type Member interface {
	ID() string
}

// Room keeps its members in join order.
type Room[M Member] struct {
	ID string

	mu      sync.RWMutex
	members []M
}

func New[M Member](id string) *Room[M] {
	return &Room[M]{ID: id}
}

// Join adds m and returns the members that were already there.
func (r *Room[M]) Join(m M) []M {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := append([]M(nil), r.members...)
	r.members = append(r.members, m)
	return existing
}

// Leave removes the member with id and returns the remaining ones.
func (r *Room[M]) Leave(id string) (remaining []M, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.members {
		if m.ID() == id {
			r.members = append(r.members[:i:i], r.members[i+1:]...)
			return append([]M(nil), r.members...), true
		}
	}
	return append([]M(nil), r.members...), false
}

func (r *Room[M]) Get(id string) (M, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m.ID() == id {
			return m, true
		}
	}

	var zero M
	return zero, false
}

func (r *Room[M]) Members() []M {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]M(nil), r.members...)
}

func (r *Room[M]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Rooms creates rooms on first join and drops them when the last member
// leaves.
type Rooms[M Member] struct {
	mu    sync.Mutex
	rooms *manager.Manager[string, *Room[M]]
}

func NewRooms[M Member]() *Rooms[M] {
	return &Rooms[M]{
		rooms: manager.New[string, *Room[M]](),
	}
}

// Join puts m into room id and returns the members already there.
func (rs *Rooms[M]) Join(id string, m M) (*Room[M], []M) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, _ := rs.rooms.GetOrCreate(id, func() *Room[M] {
		return New[M](id)
	})
	return r, r.Join(m)
}

// Leave removes member from room id and returns the remaining members.
func (rs *Rooms[M]) Leave(id, member string) []M {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, err := rs.rooms.Get(id)
	if err != nil {
		return nil
	}

	remaining, _ := r.Leave(member)
	if len(remaining) == 0 {
		rs.rooms.Remove(id)
	}
	return remaining
}

func (rs *Rooms[M]) Get(id string) (*Room[M], bool) {
	r, err := rs.rooms.Get(id)
	return r, err == nil
}

func (rs *Rooms[M]) Len() int {
	return rs.rooms.Len()
}
