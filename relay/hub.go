package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/manager"
	"github.com/go-zoox/ntun/room"
	"github.com/go-zoox/ntun/signal"
	"github.com/go-zoox/ntun/user"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Client is the write side of one relay websocket connection.
type Client interface {
	WriteBinary(b []byte) error
}

type HubConfig struct {
	// Credentials enable authentication; without any, every client may join.
	Credentials []user.Credential
	ICEServers  []signal.ICEServer
	Logger      logging.Logger
}

// Hub authenticates relay clients, keeps them in rooms and forwards custom
// data between participants of the same room.
type Hub struct {
	users      *manager.Manager[string, user.User]
	iceServers []signal.ICEServer
	logger     logging.Logger

	sessions *manager.Manager[string, *session]
	rooms    *room.Rooms[*session]
}

type session struct {
	connID string
	client Client

	writeMu sync.Mutex

	mu          sync.RWMutex
	participant string
	room        string
}

func (s *session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participant
}

func (s *session) joined() (participant, room string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participant, s.room
}

func (s *session) send(msg *signal.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.client.WriteBinary(raw)
}

func NewHub(cfg *HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("relay")
	}

	users := manager.New[string, user.User]()
	for _, c := range cfg.Credentials {
		users.Set(c.ClientID, user.New(c.ClientID, c.ClientSecret))
	}

	return &Hub{
		users:      users,
		iceServers: cfg.ICEServers,
		logger:     logger,
		sessions:   manager.New[string, *session](),
		rooms:      room.NewRooms[*session](),
	}
}

// Connect registers a websocket connection; it must authenticate first.
func (h *Hub) Connect(connID string, client Client) {
	h.sessions.Set(connID, &session{connID: connID, client: client})
	h.logger.Infof("[connect] client: %s", connID)
}

// Disconnect removes the connection and tells its room.
func (h *Hub) Disconnect(connID string) {
	s, ok := h.sessions.Remove(connID)
	if !ok {
		return
	}
	h.logger.Infof("[disconnect] client: %s", connID)

	participant, roomID := s.joined()
	if roomID == "" {
		return
	}

	for _, other := range h.rooms.Leave(roomID, participant) {
		h.deliver(other, &signal.Message{
			Type:         signal.MessageTypeNotification,
			Notification: signal.NotificationHungup,
			Participant:  participant,
		})
	}
	h.logger.Infof("[room: %s] participant %s left", roomID, participant)
}

// Handle processes one command of a connection.
func (h *Hub) Handle(connID string, raw []byte) {
	s, err := h.sessions.Get(connID)
	if err != nil {
		h.logger.Warnf("[client: %s] message from unknown client", connID)
		return
	}

	var cmd signal.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.fail(s, fmt.Errorf("invalid command: %v", err))
		return
	}

	participant, roomID := s.joined()
	if roomID == "" && cmd.Command != signal.CommandAuthenticate {
		h.fail(s, fmt.Errorf("client must authenticate before send command(%s)", cmd.Command))
		return
	}

	switch cmd.Command {
	case signal.CommandAuthenticate:
		h.authenticate(s, &cmd)
	case signal.CommandCustomData:
		r, ok := h.rooms.Get(roomID)
		if !ok {
			return
		}
		target, ok := r.Get(cmd.ParticipantID)
		if !ok {
			h.logger.Debugf("[room: %s] custom data for unknown participant %s", roomID, cmd.ParticipantID)
			return
		}
		h.deliver(target, &signal.Message{
			Type:         signal.MessageTypeNotification,
			Notification: signal.NotificationCustomData,
			Participant:  participant,
			Data:         cmd.Data,
		})
	default:
		h.fail(s, fmt.Errorf("%w: %s", signal.ErrUnsupportedCommand, cmd.Command))
	}
}

func (h *Hub) authenticate(s *session, cmd *signal.Command) {
	if _, roomID := s.joined(); roomID != "" {
		h.fail(s, fmt.Errorf("already joined room %s", roomID))
		return
	}
	if cmd.Room == "" {
		h.fail(s, fmt.Errorf("room is required"))
		return
	}

	if h.users.Len() > 0 {
		u, err := h.users.Get(cmd.ClientID)
		if err != nil {
			h.fail(s, fmt.Errorf("invalid client id: %s", cmd.ClientID))
			return
		}
		if err := u.Authenticate(cmd.Timestamp, cmd.Nonce, cmd.Signature); err != nil {
			h.fail(s, fmt.Errorf("[user: %s] failed to authenticate: %v", cmd.ClientID, err))
			return
		}
	}

	participant, err := nanoid.New()
	if err != nil {
		h.fail(s, fmt.Errorf("failed to generate participant id: %v", err))
		return
	}

	s.mu.Lock()
	s.participant, s.room = participant, cmd.Room
	s.mu.Unlock()

	_, existing := h.rooms.Join(cmd.Room, s)

	roster := make([]signal.Participant, 0, len(existing))
	for _, other := range existing {
		roster = append(roster, signal.Participant{ID: other.ID()})
	}

	h.deliver(s, &signal.Message{
		Type:         signal.MessageTypeNotification,
		Notification: signal.NotificationConnection,
		Participant:  participant,
		Participants: roster,
		ICEServers:   h.iceServers,
	})
	for _, other := range existing {
		h.deliver(other, &signal.Message{
			Type:         signal.MessageTypeNotification,
			Notification: signal.NotificationRegisteredPeer,
			Participant:  participant,
		})
	}

	h.logger.Infof("[room: %s] participant %s joined (client: %s)", cmd.Room, participant, s.connID)
}

func (h *Hub) deliver(s *session, msg *signal.Message) {
	if err := s.send(msg); err != nil {
		h.logger.Warnf("[client: %s] failed to send %s: %v", s.connID, msg.Notification, err)
	}
}

func (h *Hub) fail(s *session, err error) {
	h.logger.Errorf("[client: %s] %v", s.connID, err)
	h.deliver(s, &signal.Message{
		Type:  signal.MessageTypeError,
		Error: err.Error(),
	})
}
