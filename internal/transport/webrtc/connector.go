// Package webrtc adapts a pion peer connection to the transport
// capability contract consumed by the session core.
package webrtc

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/dropwire/dropwire/internal/transport"
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

const (
	defaultGatherTimeout = 5 * time.Second
	channelProtocol      = "dropwire"
)

type Config struct {
	ICEServers    []string
	GatherTimeout time.Duration
	Logger        *logrus.Logger
}

func DefaultConfig() Config {
	return Config{
		ICEServers:    defaultSTUNServers,
		GatherTimeout: defaultGatherTimeout,
	}
}

// Connector wraps one pion PeerConnection.
type Connector struct {
	config Config
	logger *logrus.Logger
	pc     *webrtc.PeerConnection
}

func NewConnector(cfg Config) (*Connector, error) {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = defaultSTUNServers
	}
	if cfg.GatherTimeout == 0 {
		cfg.GatherTimeout = defaultGatherTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: cfg.ICEServers},
		},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	return &Connector{config: cfg, logger: logger, pc: pc}, nil
}

func (c *Connector) CreateDataChannel(label string) (transport.Channel, error) {
	ordered := true
	protocol := channelProtocol
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:  &ordered,
		Protocol: &protocol,
	})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return &channel{dc: dc}, nil
}

func (c *Connector) OnDataChannel(fn func(transport.Channel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&channel{dc: dc})
	})
}

// CreateOffer produces the local offer description after a bounded ICE
// gathering wait. On timeout the description ships with whatever
// candidates were gathered so far.
func (c *Connector) CreateOffer(ctx context.Context) (transport.Description, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return transport.Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return transport.Description{}, fmt.Errorf("set local description: %w", err)
	}
	return c.awaitGathering(ctx)
}

// CreateAnswer mirrors CreateOffer for the answering side; the remote
// offer must already be applied.
func (c *Connector) CreateAnswer(ctx context.Context) (transport.Description, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return transport.Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return transport.Description{}, fmt.Errorf("set local description: %w", err)
	}
	return c.awaitGathering(ctx)
}

func (c *Connector) awaitGathering(ctx context.Context) (transport.Description, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	select {
	case <-gatherComplete:
	case <-time.After(c.config.GatherTimeout):
		c.logger.Warnf("ICE gathering timed out after %s, proceeding with partial candidates", c.config.GatherTimeout)
	case <-ctx.Done():
		return transport.Description{}, ctx.Err()
	}

	local := c.pc.LocalDescription()
	if local == nil {
		return transport.Description{}, fmt.Errorf("no local description after gathering")
	}
	return transport.Description{Type: local.Type.String(), SDP: local.SDP}, nil
}

func (c *Connector) ApplyRemote(desc transport.Description) error {
	remote := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *Connector) OnConnectionStateChange(fn func(transport.State)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(mapState(s))
	})
}

// Stats samples the active candidate pair for reporting. Missing or
// not-yet-nominated pairs yield a zero snapshot.
func (c *Connector) Stats() transport.LinkStats {
	report := c.pc.GetStats()

	candidateTypes := make(map[string]string)
	for _, s := range report {
		if cs, ok := s.(webrtc.ICECandidateStats); ok {
			candidateTypes[cs.ID] = cs.CandidateType.String()
		}
	}

	var stats transport.LinkStats
	for _, s := range report {
		pair, ok := s.(webrtc.ICECandidatePairStats)
		if !ok || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		stats.RoundTrip = time.Duration(pair.CurrentRoundTripTime * float64(time.Second))
		stats.LocalCandidateType = candidateTypes[pair.LocalCandidateID]
		stats.RemoteCandidateType = candidateTypes[pair.RemoteCandidateID]
		if pair.Nominated {
			break
		}
	}
	return stats
}

func (c *Connector) Close() error {
	return c.pc.Close()
}

func mapState(s webrtc.PeerConnectionState) transport.State {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return transport.StateNew
	case webrtc.PeerConnectionStateConnecting:
		return transport.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return transport.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return transport.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return transport.StateFailed
	default:
		return transport.StateClosed
	}
}
