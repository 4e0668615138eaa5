package transport

import (
	"testing"
	"time"

	"github.com/go-zoox/ntun/cipher"
	"github.com/go-zoox/ntun/lifecycle"
	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryRelay(room *signal.MemoryRoom) *Core {
	return NewRelay(&RelayConfig{
		JoinID: "room",
		Dial:   room.Dial,
		Options: Options{
			Cipher: cipher.Default(),
			Logger: logging.Discard(),
		},
	})
}

func TestRelayTransportExchange(t *testing.T) {
	room := signal.NewMemoryRoom()

	a := newMemoryRelay(room)
	wa := watch(a)
	require.NoError(t, a.Start())
	stopOnCleanup(t, a)

	b := newMemoryRelay(room)
	wb := watch(b)
	require.NoError(t, b.Start())
	stopOnCleanup(t, b)

	sa := wa.session(t)
	sb := wb.session(t)

	require.NoError(t, sa.WriteBuffer([]byte("through the relay")))
	assert.Equal(t, "through the relay", wb.message(t))

	big := make([]byte, 3*DefaultRelayChunkSize+7)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, sb.WriteBuffer(big))
	assert.Equal(t, string(big), wa.message(t))
}

func TestRelayTransportReelectsAfterPeerLeft(t *testing.T) {
	room := signal.NewMemoryRoom()

	a := newMemoryRelay(room)
	wa := watch(a)
	require.NoError(t, a.Start())
	stopOnCleanup(t, a)

	b := newMemoryRelay(room)
	wb := watch(b)
	require.NoError(t, b.Start())

	wa.session(t)
	wb.session(t)

	require.NoError(t, b.Stop())
	wa.lost(t)
	assert.Equal(t, lifecycle.Working, a.State())
	assert.False(t, a.IsConnected())

	c := newMemoryRelay(room)
	wc := watch(c)
	require.NoError(t, c.Start())
	stopOnCleanup(t, c)

	sa := wa.session(t)
	wc.session(t)

	require.NoError(t, sa.WriteBuffer([]byte("hello again")))
	assert.Equal(t, "hello again", wc.message(t))
}

func TestRelayTransportRequiresJoinID(t *testing.T) {
	r := NewRelay(&RelayConfig{Dial: signal.NewMemoryRoom().Dial, Options: Options{Logger: logging.Discard()}})

	assert.Error(t, r.Start())
	assert.Equal(t, lifecycle.Idle, r.State())
}

func TestRelaySealsParticipantMessages(t *testing.T) {
	r := newRelay(&RelayConfig{}, logging.Discard())

	data, err := r.seal(&ParticipantMessage{Type: MessageBuffer, Buffer: "AAEC"})
	require.NoError(t, err)
	assert.NotContains(t, data, "AAEC")

	msg, err := r.open(data)
	require.NoError(t, err)
	assert.Equal(t, MessageBuffer, msg.Type)
	assert.Equal(t, "AAEC", msg.Buffer)

	key, err := cipher.NewAESGCM(cipher.DeriveKey("another fingerprint"))
	require.NoError(t, err)
	other := newRelay(&RelayConfig{Cipher: key}, logging.Discard())
	_, err = other.open(data)
	assert.ErrorIs(t, err, cipher.ErrDecrypt)

	_, err = r.open("not base64!")
	assert.Error(t, err)
}

func TestRelayWebRTCWithoutTurnFails(t *testing.T) {
	room := signal.NewMemoryRoom()

	r := NewRelayWebRTC(&RelayWebRTCConfig{
		RelayConfig: RelayConfig{
			JoinID:  "room",
			Dial:    room.Dial,
			Options: Options{Logger: logging.Discard()},
		},
		GatherTimeout: time.Second,
	})
	w := watch(r)
	require.NoError(t, r.Start())

	assert.ErrorIs(t, w.failure(t), ErrNoTurnServers)
	assert.Eventually(t, func() bool {
		return r.State() == lifecycle.Idle
	}, waitTimeout, 10*time.Millisecond)
}
