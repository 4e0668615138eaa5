package transport

import (
	"errors"
	"sort"
	"sync"

	"github.com/go-zoox/ntun/logging"
)

type ElectionState int

const (
	ElectionConnecting ElectionState = iota
	ElectionConnected
)

func (s ElectionState) String() string {
	if s == ElectionConnected {
		return "CONNECTED"
	}
	return "CONNECTING"
}

// Participant message types.
const (
	MessageConnect   = "CONNECT"
	MessageAccept    = "ACCEPT"
	MessageBuffer    = "BUFFER"
	MessageSDPOffer  = "SDP_OFFER"
	MessageSDPAnswer = "SDP_ANSWER"
)

var ErrNoOpponent = errors.New("no opponent participant")

// ParticipantMessage travels sealed inside relay custom data.
type ParticipantMessage struct {
	Type   string `json:"type"`
	Buffer string `json:"buffer,omitempty"`
	SDP    string `json:"sdp,omitempty"`
}

type ElectionConfig struct {
	Send func(to string, msg *ParticipantMessage) error
	// OnConnected runs when an opponent is bound. accepted is true when
	// the opponent's CONNECT was answered with ACCEPT.
	OnConnected    func(opponent string, accepted bool)
	OnDisconnected func(opponent string)
	// OnMessage receives every non-handshake message of the opponent.
	OnMessage func(from string, msg *ParticipantMessage)
	Logger    logging.Logger
}

// Election binds exactly one opponent among the participants of a relay
// room. The first CONNECT or ACCEPT wins; everything else is ignored until
// the opponent leaves.
type Election struct {
	cfg    *ElectionConfig
	logger logging.Logger

	mu       sync.Mutex
	self     string
	roster   map[string]struct{}
	state    ElectionState
	opponent string
	active   bool
}

func NewElection(cfg *ElectionConfig) *Election {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("transport", "election")
	}

	return &Election{
		cfg:    cfg,
		logger: logger,
		roster: map[string]struct{}{},
	}
}

func (e *Election) State() ElectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Election) Opponent() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opponent
}

func (e *Election) Self() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// Reset starts a new election with the given roster and broadcasts CONNECT.
func (e *Election) Reset(self string, roster []string) {
	e.mu.Lock()
	previous := e.unbind()
	e.self = self
	e.roster = map[string]struct{}{}
	for _, id := range roster {
		if id != self {
			e.roster[id] = struct{}{}
		}
	}
	e.active = true
	targets := e.targets()
	e.mu.Unlock()

	e.disconnected(previous)
	e.broadcast(targets)
}

// Stop unbinds the opponent and ignores every later message until Reset.
func (e *Election) Stop() {
	e.mu.Lock()
	previous := e.unbind()
	e.active = false
	e.roster = map[string]struct{}{}
	e.mu.Unlock()

	e.disconnected(previous)
}

// Join adds a participant to the roster. Newcomers broadcast CONNECT
// themselves, so nothing is sent here.
func (e *Election) Join(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id != e.self {
		e.roster[id] = struct{}{}
	}
}

// Leave removes a participant; losing the opponent re-elects.
func (e *Election) Leave(id string) {
	e.mu.Lock()
	delete(e.roster, id)
	if !e.active || e.state != ElectionConnected || e.opponent != id {
		e.mu.Unlock()
		return
	}

	previous := e.unbind()
	targets := e.targets()
	e.mu.Unlock()

	e.logger.Infof("opponent %s left", id)
	e.disconnected(previous)
	e.broadcast(targets)
}

// Receive handles a participant message from the relay.
func (e *Election) Receive(from string, msg *ParticipantMessage) {
	e.mu.Lock()
	if !e.active || from == e.self {
		e.mu.Unlock()
		return
	}

	switch e.state {
	case ElectionConnecting:
		switch msg.Type {
		case MessageConnect, MessageAccept:
			e.roster[from] = struct{}{}
			e.state = ElectionConnected
			e.opponent = from
			e.mu.Unlock()

			accepted := msg.Type == MessageConnect
			if accepted {
				e.send(from, &ParticipantMessage{Type: MessageAccept})
			}

			e.logger.Infof("bound opponent %s", from)
			if e.cfg.OnConnected != nil {
				e.cfg.OnConnected(from, accepted)
			}
			return
		default:
			e.mu.Unlock()
			e.logger.Debugf("ignore %s from %s while connecting", msg.Type, from)
			return
		}

	default:
		opponent := e.opponent
		e.mu.Unlock()

		switch {
		case msg.Type == MessageConnect || msg.Type == MessageAccept:
			e.logger.Debugf("ignore %s from %s, already bound to %s", msg.Type, from, opponent)
		case from != opponent:
			e.logger.Debugf("ignore %s from %s, not the opponent", msg.Type, from)
		case e.cfg.OnMessage != nil:
			e.cfg.OnMessage(from, msg)
		}
	}
}

// SendTo sends msg to opponent as long as it is still the bound opponent.
func (e *Election) SendTo(opponent string, msg *ParticipantMessage) error {
	e.mu.Lock()
	bound := e.active && e.state == ElectionConnected && e.opponent == opponent
	e.mu.Unlock()

	if !bound {
		return ErrNoOpponent
	}
	return e.cfg.Send(opponent, msg)
}

func (e *Election) unbind() string {
	previous := ""
	if e.state == ElectionConnected {
		previous = e.opponent
	}
	e.state = ElectionConnecting
	e.opponent = ""
	return previous
}

func (e *Election) targets() []string {
	ids := make([]string, 0, len(e.roster))
	for id := range e.roster {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Election) broadcast(targets []string) {
	for _, id := range targets {
		e.send(id, &ParticipantMessage{Type: MessageConnect})
	}
}

func (e *Election) send(to string, msg *ParticipantMessage) {
	if err := e.cfg.Send(to, msg); err != nil {
		e.logger.Warnf("failed to send %s to %s: %v", msg.Type, to, err)
	}
}

func (e *Election) disconnected(opponent string) {
	if opponent != "" && e.cfg.OnDisconnected != nil {
		e.cfg.OnDisconnected(opponent)
	}
}
