package transport

import (
	"context"
	"sync"
	"time"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/signal"
)

type RelayWebRTCConfig struct {
	RelayConfig
	// ICEServers are merged with the ones announced by the relay.
	ICEServers    []signal.ICEServer
	GatherTimeout time.Duration
}

// NewRelayWebRTC elects the opponent through the relay, then negotiates a
// data channel over TURN with it. The participant with the smaller id offers.
func NewRelayWebRTC(cfg *RelayWebRTCConfig) *Core {
	opts := cfg.Options
	if opts.Logger == nil {
		opts.Logger = logging.New("transport", "relay-webrtc")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultWebRTCChunkSize
	}

	timeout := cfg.GatherTimeout
	if timeout <= 0 {
		timeout = DefaultGatherTimeout
	}

	r := newRelay(&cfg.RelayConfig, opts.Logger)
	r.carrier = &rtcCarrier{
		relay:         r,
		iceServers:    cfg.ICEServers,
		gatherTimeout: timeout,
	}
	return newCore("relay-webrtc", r, opts)
}

type rtcCarrier struct {
	relay         *relay
	iceServers    []signal.ICEServer
	gatherTimeout time.Duration

	mu       sync.Mutex
	servers  []signal.ICEServer
	opponent string
	offerer  bool
	peer     *rtcPeer
}

func (c *rtcCarrier) prepare(ctx context.Context) error {
	c.relay.mu.Lock()
	server := c.relay.server
	c.relay.mu.Unlock()

	servers := append([]signal.ICEServer(nil), c.iceServers...)
	if server != nil {
		servers = append(servers, server.ICEServers()...)
	}

	c.mu.Lock()
	c.servers = servers
	c.mu.Unlock()

	return probeTurn(ctx, servers, c.gatherTimeout, c.relay.logger)
}

func (c *rtcCarrier) connected(opponent string, accepted bool) {
	offerer := c.relay.election.Self() < opponent

	c.mu.Lock()
	c.opponent = opponent
	c.offerer = offerer
	c.mu.Unlock()

	if offerer {
		c.relay.logger.Infof("offer data channel to %s", opponent)
		go c.offer(opponent)
	} else {
		c.relay.logger.Infof("wait for data channel offer from %s", opponent)
	}
}

func (c *rtcCarrier) offer(opponent string) {
	c.relay.mu.Lock()
	ctx := c.relay.ctx
	c.relay.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	peer, err := c.newPeer(opponent)
	if err != nil {
		c.relay.logger.Warnf("failed to create peer connection: %v", err)
		return
	}

	sdp, err := peer.offer(ctx, c.gatherTimeout)
	if err != nil {
		peer.Close()
		c.relay.logger.Warnf("failed to create offer for %s: %v", opponent, err)
		return
	}
	if !c.install(opponent, peer) {
		peer.Close()
		return
	}

	if err := c.relay.election.SendTo(opponent, &ParticipantMessage{Type: MessageSDPOffer, SDP: sdp}); err != nil {
		c.relay.logger.Warnf("failed to send offer to %s: %v", opponent, err)
	}
}

func (c *rtcCarrier) message(from string, msg *ParticipantMessage) {
	c.mu.Lock()
	offerer, peer := c.offerer, c.peer
	c.mu.Unlock()

	switch {
	case msg.Type == MessageSDPOffer && !offerer:
		go c.answer(from, msg.SDP)
	case msg.Type == MessageSDPAnswer && offerer && peer != nil:
		if err := peer.accept(msg.SDP); err != nil {
			c.relay.logger.Warnf("failed to accept answer of %s: %v", from, err)
		}
	default:
		c.relay.logger.Debugf("ignore %s from %s", msg.Type, from)
	}
}

func (c *rtcCarrier) answer(opponent, offer string) {
	c.relay.mu.Lock()
	ctx := c.relay.ctx
	c.relay.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	peer, err := c.newPeer(opponent)
	if err != nil {
		c.relay.logger.Warnf("failed to create peer connection: %v", err)
		return
	}

	sdp, err := peer.answer(ctx, offer, c.gatherTimeout)
	if err != nil {
		peer.Close()
		c.relay.logger.Warnf("failed to answer %s: %v", opponent, err)
		return
	}
	if !c.install(opponent, peer) {
		peer.Close()
		return
	}

	if err := c.relay.election.SendTo(opponent, &ParticipantMessage{Type: MessageSDPAnswer, SDP: sdp}); err != nil {
		c.relay.logger.Warnf("failed to send answer to %s: %v", opponent, err)
	}
}

func (c *rtcCarrier) newPeer(opponent string) (*rtcPeer, error) {
	c.mu.Lock()
	servers := c.servers
	c.mu.Unlock()

	peer, err := newRTCPeer(servers, c.relay.logger, func(st *stream) {
		link := c.relay.linker()
		if link == nil {
			st.Close()
			return
		}
		if _, ok := link.Link(st, "participant "+opponent); !ok {
			c.relay.logger.Warnf("drop data channel of %s: session already established", opponent)
			st.Close()
		}
	})
	if err != nil {
		return nil, err
	}

	go func() {
		<-peer.Done()
		c.lost(opponent, peer)
	}()
	return peer, nil
}

// install makes peer the current one if opponent is still bound.
func (c *rtcCarrier) install(opponent string, peer *rtcPeer) bool {
	c.mu.Lock()
	if c.opponent != opponent {
		c.mu.Unlock()
		return false
	}
	previous := c.peer
	c.peer = peer
	c.mu.Unlock()

	if previous != nil && previous != peer {
		previous.Close()
	}
	return true
}

// lost renegotiates with the same opponent when its data channel dies.
func (c *rtcCarrier) lost(opponent string, peer *rtcPeer) {
	c.mu.Lock()
	current := c.peer == peer && c.opponent == opponent
	if current {
		c.peer = nil
	}
	offerer := c.offerer
	c.mu.Unlock()

	if !current || !offerer {
		return
	}

	c.relay.mu.Lock()
	ctx := c.relay.ctx
	c.relay.mu.Unlock()
	if ctx == nil {
		return
	}

	timer := time.NewTimer(DefaultRetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if c.relay.election.Opponent() == opponent {
		c.offer(opponent)
	}
}

func (c *rtcCarrier) disconnected(opponent string) {
	c.mu.Lock()
	if c.opponent == opponent {
		c.opponent = ""
	}
	c.mu.Unlock()

	c.closePeer()
}

func (c *rtcCarrier) close() {
	c.mu.Lock()
	c.opponent = ""
	c.mu.Unlock()

	c.closePeer()
}

func (c *rtcCarrier) closePeer() {
	c.mu.Lock()
	peer := c.peer
	c.peer = nil
	c.mu.Unlock()

	if peer != nil {
		peer.Close()
	}
}
