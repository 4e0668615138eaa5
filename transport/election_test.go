package transport

import (
	"sync"
	"testing"

	"github.com/go-zoox/ntun/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	from, to string
	msg      *ParticipantMessage
}

// bus queues participant messages until flush, so tests control ordering.
type bus struct {
	mu        sync.Mutex
	queue     []delivery
	elections map[string]*Election
}

func newBus() *bus {
	return &bus{elections: map[string]*Election{}}
}

type tally struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	messages     []string
}

func (b *bus) join(id string) (*Election, *tally) {
	got := &tally{}
	e := NewElection(&ElectionConfig{
		Send: func(to string, msg *ParticipantMessage) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.queue = append(b.queue, delivery{from: id, to: to, msg: msg})
			return nil
		},
		OnConnected: func(opponent string, accepted bool) {
			got.mu.Lock()
			defer got.mu.Unlock()
			got.connected = append(got.connected, opponent)
		},
		OnDisconnected: func(opponent string) {
			got.mu.Lock()
			defer got.mu.Unlock()
			got.disconnected = append(got.disconnected, opponent)
		},
		OnMessage: func(from string, msg *ParticipantMessage) {
			got.mu.Lock()
			defer got.mu.Unlock()
			got.messages = append(got.messages, from+":"+msg.Buffer)
		},
		Logger: logging.Discard(),
	})

	b.mu.Lock()
	b.elections[id] = e
	b.mu.Unlock()
	return e, got
}

func (b *bus) flush() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		d := b.queue[0]
		b.queue = b.queue[1:]
		target := b.elections[d.to]
		b.mu.Unlock()

		if target != nil {
			target.Receive(d.from, d.msg)
		}
	}
}

func TestElectionLateJoinerConverges(t *testing.T) {
	b := newBus()
	a, ga := b.join("a")
	z, gz := b.join("z")

	a.Reset("a", nil)
	a.Join("z")
	z.Reset("z", []string{"a"})
	b.flush()

	assert.Equal(t, ElectionConnected, a.State())
	assert.Equal(t, ElectionConnected, z.State())
	assert.Equal(t, "z", a.Opponent())
	assert.Equal(t, "a", z.Opponent())
	assert.Equal(t, []string{"z"}, ga.connected)
	assert.Equal(t, []string{"a"}, gz.connected)
}

func TestElectionCrossingConnectsConverge(t *testing.T) {
	b := newBus()
	a, ga := b.join("a")
	z, gz := b.join("z")

	z.Reset("z", []string{"a"})
	a.Reset("a", []string{"z"})
	b.flush()

	assert.Equal(t, "z", a.Opponent())
	assert.Equal(t, "a", z.Opponent())
	assert.Len(t, ga.connected, 1)
	assert.Len(t, gz.connected, 1)
}

func TestElectionRedeliveredConnectIsNoop(t *testing.T) {
	b := newBus()
	a, ga := b.join("a")
	z, _ := b.join("z")

	a.Reset("a", nil)
	z.Reset("z", []string{"a"})
	b.flush()
	require.Equal(t, "z", a.Opponent())

	a.Receive("z", &ParticipantMessage{Type: MessageConnect})
	a.Receive("z", &ParticipantMessage{Type: MessageAccept})
	b.flush()

	assert.Equal(t, ElectionConnected, a.State())
	assert.Equal(t, []string{"z"}, ga.connected)
	assert.Empty(t, ga.disconnected)
}

func TestElectionIgnoresOthers(t *testing.T) {
	b := newBus()
	a, ga := b.join("a")
	z, _ := b.join("z")

	a.Reset("a", nil)
	z.Reset("z", []string{"a"})
	b.flush()

	a.Receive("m", &ParticipantMessage{Type: MessageBuffer, Buffer: "x"})
	a.Receive("z", &ParticipantMessage{Type: MessageBuffer, Buffer: "y"})
	a.Receive("a", &ParticipantMessage{Type: MessageConnect})

	assert.Equal(t, []string{"z:y"}, ga.messages)
	assert.Equal(t, "z", a.Opponent())
	assert.ErrorIs(t, a.SendTo("m", &ParticipantMessage{Type: MessageBuffer}), ErrNoOpponent)
	assert.NoError(t, a.SendTo("z", &ParticipantMessage{Type: MessageBuffer}))
}

func TestElectionPeerLeftReelects(t *testing.T) {
	b := newBus()
	a, ga := b.join("a")
	z, _ := b.join("z")
	m, gm := b.join("m")

	a.Reset("a", nil)
	z.Reset("z", []string{"a"})
	b.flush()
	require.Equal(t, "z", a.Opponent())

	a.Join("m")
	m.Reset("m", []string{"a", "z"})
	b.flush()
	assert.Equal(t, ElectionConnecting, m.State())

	a.Leave("z")
	b.flush()

	assert.Equal(t, []string{"z"}, ga.disconnected)
	assert.Equal(t, "m", a.Opponent())
	assert.Equal(t, "a", m.Opponent())
	assert.Equal(t, []string{"a"}, gm.connected)
}

func TestElectionStopIgnoresMessages(t *testing.T) {
	b := newBus()
	a, ga := b.join("a")

	a.Reset("a", nil)
	a.Stop()
	a.Receive("z", &ParticipantMessage{Type: MessageConnect})
	b.flush()

	assert.Equal(t, ElectionConnecting, a.State())
	assert.Empty(t, ga.connected)
}
