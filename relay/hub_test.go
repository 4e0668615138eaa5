package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/signal"
	"github.com/go-zoox/ntun/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu       sync.Mutex
	messages []*signal.Message
}

func (c *fakeClient) WriteBinary(b []byte) error {
	var msg signal.Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, &msg)
	return nil
}

func (c *fakeClient) last() *signal.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func command(t *testing.T, cmd *signal.Command) []byte {
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	return raw
}

func join(t *testing.T, h *Hub, connID, room string) (*fakeClient, string) {
	c := &fakeClient{}
	h.Connect(connID, c)
	h.Handle(connID, command(t, &signal.Command{Command: signal.CommandAuthenticate, Room: room}))

	msg := c.last()
	require.NotNil(t, msg)
	require.Equal(t, signal.NotificationConnection, msg.Notification)
	return c, msg.Participant
}

func TestHubRoomLifecycle(t *testing.T) {
	h := NewHub(&HubConfig{
		ICEServers: []signal.ICEServer{{URLs: []string{"turn:127.0.0.1:3478"}}},
		Logger:     logging.Discard(),
	})

	a, aid := join(t, h, "conn-a", "room")
	assert.Empty(t, a.last().Participants)
	assert.Len(t, a.last().ICEServers, 1)

	b, bid := join(t, h, "conn-b", "room")
	assert.Equal(t, []signal.Participant{{ID: aid}}, b.last().Participants)
	assert.Equal(t, signal.NotificationRegisteredPeer, a.last().Notification)
	assert.Equal(t, bid, a.last().Participant)

	other, _ := join(t, h, "conn-c", "another room")
	assert.Empty(t, other.last().Participants)

	h.Handle("conn-b", command(t, &signal.Command{Command: signal.CommandCustomData, ParticipantID: aid, Data: "sealed"}))
	assert.Equal(t, signal.NotificationCustomData, a.last().Notification)
	assert.Equal(t, bid, a.last().Participant)
	assert.Equal(t, "sealed", a.last().Data)

	before := other.count()
	h.Handle("conn-b", command(t, &signal.Command{Command: signal.CommandCustomData, ParticipantID: "nobody", Data: "x"}))
	assert.Equal(t, before, other.count())

	h.Disconnect("conn-b")
	assert.Equal(t, signal.NotificationHungup, a.last().Notification)
	assert.Equal(t, bid, a.last().Participant)
}

func TestHubRequiresAuthentication(t *testing.T) {
	h := NewHub(&HubConfig{
		Credentials: []user.Credential{{ClientID: "id_01", ClientSecret: "secret"}},
		Logger:      logging.Discard(),
	})

	c := &fakeClient{}
	h.Connect("conn", c)

	h.Handle("conn", command(t, &signal.Command{Command: signal.CommandCustomData, ParticipantID: "x"}))
	assert.Equal(t, signal.MessageTypeError, c.last().Type)

	h.Handle("conn", command(t, &signal.Command{Command: signal.CommandAuthenticate, Room: "room", ClientID: "id_01", Timestamp: "1", Nonce: "n", Signature: "bad"}))
	assert.Equal(t, signal.MessageTypeError, c.last().Type)

	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	signature, err := user.New("id_01", "secret").Sign(timestamp, "nonce")
	require.NoError(t, err)

	h.Handle("conn", command(t, &signal.Command{Command: signal.CommandAuthenticate, Room: "room", ClientID: "id_01", Timestamp: timestamp, Nonce: "nonce", Signature: signature}))
	assert.Equal(t, signal.NotificationConnection, c.last().Notification)
	assert.NotEmpty(t, c.last().Participant)

	h.Handle("conn", []byte("{not json"))
	assert.Equal(t, signal.MessageTypeError, c.last().Type)
}
