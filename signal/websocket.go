package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/user"
	"github.com/gorilla/websocket"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	heartbeatInterval = 15 * time.Second
	dialTimeout       = 10 * time.Second
)

type WebSocketConfig struct {
	Info   *Info
	Dialer *websocket.Dialer
	Logger logging.Logger
}

type webSocketServer struct {
	info   *Info
	dialer *websocket.Dialer
	logger logging.Logger

	mu           sync.RWMutex
	conn         *websocket.Conn
	handlers     *Handlers
	participant  string
	participants []Participant
	iceServers   []ICEServer
	stopping     bool
	done         chan struct{}

	writeMu  sync.Mutex
	sequence atomic.Int64
}

// NewWebSocketSignalServer returns a participant of a self-hosted relay.
func NewWebSocketSignalServer(cfg *WebSocketConfig) SignalServer {
	s := &webSocketServer{
		info:   cfg.Info,
		dialer: cfg.Dialer,
		logger: cfg.Logger,
	}
	if s.dialer == nil {
		s.dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}
	if s.logger == nil {
		s.logger = logging.New("signal", "websocket")
	}
	return s
}

func (s *webSocketServer) SetHandlers(h *Handlers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = h
}

func (s *webSocketServer) Start() error {
	if s.info == nil || s.info.URL == "" {
		return fmt.Errorf("signal server url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, _, err := s.dialer.DialContext(ctx, s.info.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect signal server %s: %w", s.info.URL, err)
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("signal server already started")
	}
	s.conn = conn
	s.stopping = false
	done := make(chan struct{})
	s.done = done
	h := s.handlers
	s.mu.Unlock()

	s.logger.Infof("connected to %s", s.info.URL)
	h.started()

	if err := s.authenticate(); err != nil {
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		close(done)
		return err
	}

	go s.heartbeat(conn, done)
	go s.read(conn, done)
	return nil
}

func (s *webSocketServer) authenticate() error {
	cmd := &Command{
		Command: CommandAuthenticate,
		Room:    s.info.Room,
	}

	if s.info.Credential != nil {
		nonce, err := nanoid.New()
		if err != nil {
			return fmt.Errorf("failed to create nonce: %w", err)
		}

		u := user.New(s.info.Credential.ClientID, s.info.Credential.ClientSecret)
		timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
		signature, err := u.Sign(timestamp, nonce)
		if err != nil {
			return fmt.Errorf("failed to create signature: %w", err)
		}

		cmd.ClientID = u.GetClientID()
		cmd.Timestamp = timestamp
		cmd.Nonce = nonce
		cmd.Signature = signature
	}

	return s.write(cmd)
}

func (s *webSocketServer) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(dialTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *webSocketServer) read(conn *websocket.Conn, done chan struct{}) {
	var cause error
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			cause = err
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warnf("invalid message: %v", err)
			continue
		}
		s.handle(&msg)
	}

	s.mu.Lock()
	stopping := s.stopping
	s.conn = nil
	h := s.handlers
	s.mu.Unlock()
	close(done)

	if stopping || websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		cause = nil
	} else {
		s.logger.Warnf("disconnected: %v", cause)
	}
	h.stopped(cause)
}

func (s *webSocketServer) handle(msg *Message) {
	s.mu.RLock()
	h := s.handlers
	s.mu.RUnlock()

	switch msg.Type {
	case MessageTypeError:
		h.fail(errors.New(msg.Error))
	case MessageTypeNotification:
		if msg.Notification == NotificationConnection {
			s.mu.Lock()
			s.participant = msg.Participant
			s.participants = msg.Participants
			s.iceServers = append(append([]ICEServer(nil), s.info.ICEServers...), msg.ICEServers...)
			s.mu.Unlock()

			s.logger.Infof("joined room %s as %s with %d participant(s)", s.info.Room, msg.Participant, len(msg.Participants))
			h.ready()
			return
		}

		h.notify(&Notification{
			Type:          msg.Notification,
			ParticipantID: msg.Participant,
			Data:          msg.Data,
		})
	default:
		s.logger.Debugf("ignore message type %q", msg.Type)
	}
}

func (s *webSocketServer) Stop() error {
	s.mu.Lock()
	conn, done := s.conn, s.done
	if conn == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopping = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()

	err := conn.Close()
	<-done
	return err
}

func (s *webSocketServer) ParticipantID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participant
}

func (s *webSocketServer) Participants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Participant(nil), s.participants...)
}

func (s *webSocketServer) ICEServers() []ICEServer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.iceServers == nil && s.info != nil {
		return s.info.ICEServers
	}
	return s.iceServers
}

func (s *webSocketServer) SendCommand(name string, payload interface{}) error {
	switch name {
	case CommandCustomData:
		data, ok := payload.(*CustomData)
		if !ok {
			return fmt.Errorf("custom-data expects *CustomData, but got %T", payload)
		}
		return s.write(&Command{
			Command:       CommandCustomData,
			ParticipantID: data.ParticipantID,
			Data:          data.Data,
		})
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCommand, name)
	}
}

func (s *webSocketServer) write(cmd *Command) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotStarted
	}

	cmd.Sequence = s.sequence.Add(1)
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command %s: %w", cmd.Command, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, raw)
}
