package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/signal"
	"github.com/go-zoox/ntun/user"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) WriteBinary(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func serveHub(t *testing.T, h *Hub) string {
	var upgrader websocket.Upgrader
	var count int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		count++
		id := fmt.Sprintf("conn-%d", count)
		mu.Unlock()

		h.Connect(id, &wsClient{conn: conn})
		defer h.Disconnect(id)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.Handle(id, raw)
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type participant struct {
	signal.SignalServer
	ready         chan struct{}
	notifications chan *signal.Notification
	errors        chan error
}

func dial(t *testing.T, relay string, credential *user.Credential) *participant {
	connect := signal.WebSocketDialer(
		signal.RelayResolver(relay, credential, nil),
		&signal.WebSocketConfig{Logger: logging.Discard()},
	)
	s, err := connect(context.Background(), "room")
	require.NoError(t, err)

	p := &participant{
		SignalServer:  s,
		ready:         make(chan struct{}, 1),
		notifications: make(chan *signal.Notification, 16),
		errors:        make(chan error, 4),
	}
	s.SetHandlers(&signal.Handlers{
		OnReady:        func() { p.ready <- struct{}{} },
		OnNotification: func(n *signal.Notification) { p.notifications <- n },
		OnError:        func(err error) { p.errors <- err },
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return p
}

func (p *participant) waitReady(t *testing.T) {
	select {
	case <-p.ready:
	case err := <-p.errors:
		t.Fatalf("expect ready, but got error %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for ready")
	}
}

func (p *participant) next(t *testing.T) *signal.Notification {
	select {
	case n := <-p.notifications:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for notification")
		return nil
	}
}

func TestHubOverWebSocket(t *testing.T) {
	credential := &user.Credential{ClientID: "id_01", ClientSecret: "secret"}
	relay := serveHub(t, NewHub(&HubConfig{
		Credentials: []user.Credential{*credential},
		Logger:      logging.Discard(),
	}))

	a := dial(t, relay, credential)
	a.waitReady(t)
	assert.NotEmpty(t, a.ParticipantID())
	assert.Empty(t, a.Participants())

	b := dial(t, relay, credential)
	b.waitReady(t)
	assert.Equal(t, []signal.Participant{{ID: a.ParticipantID()}}, b.Participants())

	n := a.next(t)
	assert.Equal(t, signal.NotificationRegisteredPeer, n.Type)
	assert.Equal(t, b.ParticipantID(), n.ParticipantID)

	require.NoError(t, b.SendCommand(signal.CommandCustomData, &signal.CustomData{
		ParticipantID: a.ParticipantID(),
		Data:          "hello",
	}))
	n = a.next(t)
	assert.Equal(t, signal.NotificationCustomData, n.Type)
	assert.Equal(t, b.ParticipantID(), n.ParticipantID)
	assert.Equal(t, "hello", n.Data)

	bid := b.ParticipantID()
	require.NoError(t, b.Stop())
	n = a.next(t)
	assert.Equal(t, signal.NotificationHungup, n.Type)
	assert.Equal(t, bid, n.ParticipantID)
}

func TestHubRejectsUnknownClient(t *testing.T) {
	relay := serveHub(t, NewHub(&HubConfig{
		Credentials: []user.Credential{{ClientID: "id_01", ClientSecret: "secret"}},
		Logger:      logging.Discard(),
	}))

	p := dial(t, relay, &user.Credential{ClientID: "id_01", ClientSecret: "wrong"})
	select {
	case err := <-p.errors:
		assert.Contains(t, err.Error(), "failed to authenticate")
	case <-p.ready:
		t.Fatal("expect authentication error, but joined")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for error")
	}
}
