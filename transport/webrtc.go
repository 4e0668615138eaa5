package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/signal"
	"github.com/pion/webrtc/v3"
)

const (
	DefaultGatherTimeout   = 10 * time.Second
	DefaultWebRTCChunkSize = 16 * 1024

	dataChannelLabel = "ntun"
)

type Role int

const (
	RoleOffer Role = iota
	RoleAnswer
)

func (r Role) String() string {
	if r == RoleAnswer {
		return "answer"
	}
	return "offer"
}

// Mediator carries SDP to the other side by whatever means the caller has.
type Mediator struct {
	OnOffer  func(sdp string)
	OnAnswer func(sdp string)
}

type WebRTCConfig struct {
	Role          Role
	ICEServers    []signal.ICEServer
	Mediator      Mediator
	GatherTimeout time.Duration
	RetryDelay    time.Duration
	Options
}

// WebRTC is a data channel transport over TURN. SDP goes out through the
// Mediator and comes back through CreateAnswer / SetAnswer.
type WebRTC struct {
	*Core
	strategy *webrtcStrategy
}

func NewWebRTC(cfg *WebRTCConfig) *WebRTC {
	opts := cfg.Options
	if opts.Logger == nil {
		opts.Logger = logging.New("transport", "webrtc")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultWebRTCChunkSize
	}

	timeout := cfg.GatherTimeout
	if timeout <= 0 {
		timeout = DefaultGatherTimeout
	}

	s := &webrtcStrategy{
		role:          cfg.Role,
		iceServers:    cfg.ICEServers,
		mediator:      cfg.Mediator,
		gatherTimeout: timeout,
		retryDelay:    cfg.RetryDelay,
		logger:        opts.Logger,
	}
	return &WebRTC{
		Core:     newCore("webrtc", s, opts),
		strategy: s,
	}
}

// CreateAnswer answers a remote offer; the answer is also passed to
// Mediator.OnAnswer.
func (w *WebRTC) CreateAnswer(offer string) (string, error) {
	return w.strategy.createAnswer(offer)
}

// SetAnswer completes the negotiation started by the last offer.
func (w *WebRTC) SetAnswer(answer string) error {
	return w.strategy.setAnswer(answer)
}

type webrtcStrategy struct {
	role          Role
	iceServers    []signal.ICEServer
	mediator      Mediator
	gatherTimeout time.Duration
	retryDelay    time.Duration
	logger        logging.Logger

	mu    sync.Mutex
	ctx   context.Context
	link  Linker
	ready bool
	peer  *rtcPeer
}

func (s *webrtcStrategy) Open(ctx context.Context) error {
	return nil
}

func (s *webrtcStrategy) Run(ctx context.Context, link Linker) {
	if err := probeTurn(ctx, s.iceServers, s.gatherTimeout, s.logger); err != nil {
		if ctx.Err() == nil {
			link.Fail(err)
		}
		return
	}

	s.mu.Lock()
	s.ctx, s.link, s.ready = ctx, link, true
	s.mu.Unlock()

	if s.role == RoleAnswer {
		<-ctx.Done()
		return
	}

	b := newBackoff(s.retryDelay, 0)
	for ctx.Err() == nil {
		peer, err := newRTCPeer(s.iceServers, s.logger, s.linkStream(link))
		if err != nil {
			link.Fail(err)
			return
		}

		startedAt := time.Now()
		sdp, err := peer.offer(ctx, s.gatherTimeout)
		if err != nil {
			peer.Close()
			if ctx.Err() != nil {
				return
			}
			s.logger.Warnf("failed to create offer: %v", err)
		} else {
			s.swap(peer)
			if s.mediator.OnOffer != nil {
				s.mediator.OnOffer(sdp)
			}

			select {
			case <-ctx.Done():
				return
			case <-peer.Done():
			}
		}

		wait := time.Duration(0)
		if time.Since(startedAt) < b.Min {
			wait = b.Duration()
		} else {
			b.Reset()
		}
		if wait > 0 {
			s.logger.Infof("renegotiate in %s", wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (s *webrtcStrategy) Close() error {
	s.swap(nil)

	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	return nil
}

func (s *webrtcStrategy) createAnswer(offer string) (string, error) {
	s.mu.Lock()
	ready, ctx, link := s.ready, s.ctx, s.link
	s.mu.Unlock()

	if s.role != RoleAnswer {
		return "", fmt.Errorf("webrtc transport with role %s does not answer", s.role)
	}
	if !ready {
		return "", fmt.Errorf("webrtc transport is not working")
	}

	peer, err := newRTCPeer(s.iceServers, s.logger, s.linkStream(link))
	if err != nil {
		return "", err
	}

	answer, err := peer.answer(ctx, offer, s.gatherTimeout)
	if err != nil {
		peer.Close()
		return "", err
	}
	s.swap(peer)

	if s.mediator.OnAnswer != nil {
		s.mediator.OnAnswer(answer)
	}
	return answer, nil
}

func (s *webrtcStrategy) setAnswer(answer string) error {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()

	if s.role != RoleOffer {
		return fmt.Errorf("webrtc transport with role %s does not offer", s.role)
	}
	if peer == nil {
		return fmt.Errorf("no pending offer")
	}
	return peer.accept(answer)
}

func (s *webrtcStrategy) swap(peer *rtcPeer) {
	s.mu.Lock()
	previous := s.peer
	s.peer = peer
	s.mu.Unlock()

	if previous != nil && previous != peer {
		previous.Close()
	}
}

func (s *webrtcStrategy) linkStream(link Linker) func(st *stream) {
	return func(st *stream) {
		if _, ok := link.Link(st, "webrtc data channel"); !ok {
			s.logger.Warnf("drop data channel: session already established")
			st.Close()
		}
	}
}

// rtcPeer is one peer connection with one data channel exposed as a stream.
type rtcPeer struct {
	pc     *webrtc.PeerConnection
	logger logging.Logger
	onOpen func(st *stream)

	mu     sync.Mutex
	stream *stream
	once   sync.Once
	done   chan struct{}
}

func newRTCPeer(servers []signal.ICEServer, logger logging.Logger, onOpen func(st *stream)) (*rtcPeer, error) {
	pc, err := newPeerConnection(servers)
	if err != nil {
		return nil, err
	}

	p := &rtcPeer{
		pc:     pc,
		logger: logger,
		onOpen: onOpen,
		done:   make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debugf("peer connection %s", state)

		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			go p.Close()
		}
	})
	pc.OnDataChannel(p.bind)

	return p, nil
}

func (p *rtcPeer) Done() <-chan struct{} {
	return p.done
}

func (p *rtcPeer) bind(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		st := newStream(dc.Send, func() { go p.Close() })

		p.mu.Lock()
		p.stream = st
		p.mu.Unlock()

		p.logger.Infof("data channel %s open", dc.Label())
		if p.onOpen != nil {
			p.onOpen(st)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		st := p.stream
		p.mu.Unlock()

		if st != nil {
			data := make([]byte, len(msg.Data))
			copy(data, msg.Data)
			st.Push(data)
		}
	})
	dc.OnClose(func() {
		go p.Close()
	})
}

func (p *rtcPeer) offer(ctx context.Context, timeout time.Duration) (string, error) {
	dc, err := p.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create data channel: %w", err)
	}
	p.bind(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	return p.gather(ctx, offer, timeout)
}

func (p *rtcPeer) answer(ctx context.Context, offer string, timeout time.Duration) (string, error) {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		return "", fmt.Errorf("failed to set offer: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return p.gather(ctx, answer, timeout)
}

func (p *rtcPeer) accept(answer string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("failed to set answer: %w", err)
	}
	return nil
}

// gather sets the local description and waits for candidate gathering so
// the returned SDP carries every candidate.
func (p *rtcPeer) gather(ctx context.Context, desc webrtc.SessionDescription, timeout time.Duration) (string, error) {
	complete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-complete:
	case <-timer.C:
		return "", fmt.Errorf("candidate gathering timed out after %s", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("no local description")
	}
	return local.SDP, nil
}

func (p *rtcPeer) Close() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		st := p.stream
		p.mu.Unlock()
		if st != nil {
			st.Close()
		}

		err = p.pc.Close()
		close(p.done)
	})
	return err
}

func newPeerConnection(servers []signal.ICEServer) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:         toICEServers(servers),
		ICETransportPolicy: webrtc.ICETransportPolicyRelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}

func toICEServers(servers []signal.ICEServer) []webrtc.ICEServer {
	result := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		result = append(result, server)
	}
	return result
}

func hasTurnServer(servers []signal.ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			u = strings.ToLower(u)
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

// probeTurn gathers candidates with a relay-only policy and succeeds on the
// first relay candidate.
func probeTurn(ctx context.Context, servers []signal.ICEServer, timeout time.Duration, logger logging.Logger) error {
	if !hasTurnServer(servers) {
		return ErrNoTurnServers
	}

	pc, err := newPeerConnection(servers)
	if err != nil {
		return err
	}
	defer pc.Close()

	found := make(chan string, 1)
	complete := make(chan struct{})
	var once sync.Once
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(complete) })
			return
		}
		if c.Typ == webrtc.ICECandidateTypeRelay {
			select {
			case found <- net.JoinHostPort(c.Address, fmt.Sprint(c.Port)):
			default:
			}
		}
	})

	if _, err := pc.CreateDataChannel(dataChannelLabel, nil); err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case addr := <-found:
		logger.Infof("turn server reachable, relay candidate %s", addr)
		return nil
	case <-complete:
		select {
		case addr := <-found:
			logger.Infof("turn server reachable, relay candidate %s", addr)
			return nil
		default:
		}
		return ErrNoTurnServers
	case <-timer.C:
		return ErrNoTurnServers
	case <-ctx.Done():
		return ctx.Err()
	}
}
