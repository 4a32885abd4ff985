// Package session implements the peer-to-peer transfer core: handshake
// and key exchange, the encrypted chunk protocol with backpressure-gated
// sending, inbound reassembly, bandwidth calibration, and the event feeds
// callers subscribe to.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dropwire/dropwire/internal/crypto"
	"github.com/dropwire/dropwire/internal/transport"
)

var (
	// ErrChannelNotReady reports an operation attempted before the data
	// channel opened. Fatal to the call, not the session.
	ErrChannelNotReady = errors.New("session: channel not open")
	// ErrClosed reports an operation on a disconnected session.
	ErrClosed = errors.New("session: closed")
	// ErrBadState reports a handshake step out of sequence.
	ErrBadState = errors.New("session: invalid state for operation")
)

// State is the handshake state machine. Closed is terminal.
type State int

const (
	StateIdle State = iota
	StateOfferCreated
	StateAnswerPending
	StateKeyedAwaitingOpen
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferCreated:
		return "offer-created"
	case StateAnswerPending:
		return "answer-pending"
	case StateKeyedAwaitingOpen:
		return "keyed-awaiting-open"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role records which side of the handshake this session took.
type Role int

const (
	RoleNone Role = iota
	RoleOfferer
	RoleAnswerer
)

// Offer bundles the blobs the offerer hands to the signaling channel.
type Offer struct {
	SDP       string
	PublicKey string
}

// Answer bundles the answerer's reply blobs. PublicKey is empty for a
// plaintext session.
type Answer struct {
	SDP       string
	PublicKey string
}

// Options tunes a session. Zero values select defaults.
type Options struct {
	Logger       *logrus.Logger
	ChannelLabel string
	ProbeTimeout time.Duration
	ProbeSizes   []int
}

// inboundTransfer accumulates one incoming file until file-complete.
type inboundTransfer struct {
	name      string
	fileType  string
	size      int64
	encrypted bool
	chunks    [][]byte
	received  int64
}

// Session is one peer-to-peer connection attempt. It owns its key
// material, transfer config, and accumulation state exclusively; nothing
// is shared between sessions.
type Session struct {
	mu     sync.Mutex
	logger *logrus.Logger
	conn   transport.Connector
	opts   Options

	state   State
	role    Role
	channel transport.Channel

	keys      *crypto.KeyPair
	sharedKey []byte
	encrypted bool

	transfer TransferConfig
	inbound  map[string]*inboundTransfer
	probes   map[string]*probe

	opened  chan struct{}
	closed  chan struct{}
	drained chan struct{}

	notices      broadcaster[Notice]
	progress     broadcaster[FileEvent]
	calibrations broadcaster[CalibrationResult]
}

// New wraps a connector in an idle session. The connector's lifecycle is
// owned by the session from here on; Disconnect closes it.
func New(conn transport.Connector, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ChannelLabel == "" {
		opts.ChannelLabel = "data"
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.ProbeSizes == nil {
		opts.ProbeSizes = defaultProbeSizes
	}

	s := &Session{
		logger:   opts.Logger,
		conn:     conn,
		opts:     opts,
		state:    StateIdle,
		transfer: DefaultTransferConfig(),
		inbound:  make(map[string]*inboundTransfer),
		probes:   make(map[string]*probe),
		opened:   make(chan struct{}),
		closed:   make(chan struct{}),
		drained:  make(chan struct{}),
	}

	conn.OnConnectionStateChange(func(st transport.State) {
		s.logger.Debugf("connection state: %s", st)
		s.notices.publish(Notice{Kind: NoticeConnectionState, State: st})
		if st.Fatal() {
			s.Disconnect()
		}
	})

	return s
}

// CreateOffer starts the offerer handshake: generate the key pair, open
// the data channel, and produce the local offer after ICE gathering. The
// shared key is derived later, when the answer arrives.
func (s *Session) CreateOffer(ctx context.Context) (Offer, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return Offer{}, fmt.Errorf("%w: %s", ErrBadState, state)
	}
	s.role = RoleOfferer
	s.mu.Unlock()

	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return Offer{}, err
	}
	pub, err := keys.ExportPublicKey()
	if err != nil {
		return Offer{}, err
	}

	ch, err := s.conn.CreateDataChannel(s.opts.ChannelLabel)
	if err != nil {
		return Offer{}, err
	}
	s.bindChannel(ch)

	desc, err := s.conn.CreateOffer(ctx)
	if err != nil {
		return Offer{}, err
	}
	blob, err := encodeDescription(desc)
	if err != nil {
		return Offer{}, err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return Offer{}, ErrClosed
	}
	s.keys = keys
	s.state = StateOfferCreated
	s.mu.Unlock()

	s.logger.Debug("offer created, awaiting answer")
	return Offer{SDP: blob, PublicKey: pub}, nil
}

// AcceptOffer runs the answerer handshake: derive the shared key from the
// peer's public key (empty blob selects a plaintext session), apply the
// remote offer, and produce the local answer after ICE gathering.
func (s *Session) AcceptOffer(ctx context.Context, offerBlob, peerKeyBlob string) (Answer, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return Answer{}, fmt.Errorf("%w: %s", ErrBadState, state)
	}
	s.role = RoleAnswerer
	s.state = StateAnswerPending
	s.mu.Unlock()

	var answer Answer
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return Answer{}, err
	}

	if peerKeyBlob != "" {
		peerPub, err := crypto.ImportPublicKey(peerKeyBlob)
		if err != nil {
			return Answer{}, err
		}
		shared, err := keys.DeriveSharedKey(peerPub)
		if err != nil {
			return Answer{}, err
		}
		pub, err := keys.ExportPublicKey()
		if err != nil {
			return Answer{}, err
		}
		answer.PublicKey = pub

		s.mu.Lock()
		s.keys = keys
		s.sharedKey = shared
		s.encrypted = true
		s.mu.Unlock()
		s.logger.Debug("shared key derived, encryption enabled")
	} else {
		s.logger.Debug("no peer key supplied, plaintext session")
	}

	s.conn.OnDataChannel(func(ch transport.Channel) {
		s.bindChannel(ch)
	})

	desc, err := decodeDescription(offerBlob)
	if err != nil {
		return Answer{}, err
	}
	if err := s.conn.ApplyRemote(desc); err != nil {
		return Answer{}, err
	}

	local, err := s.conn.CreateAnswer(ctx)
	if err != nil {
		return Answer{}, err
	}
	answer.SDP, err = encodeDescription(local)
	if err != nil {
		return Answer{}, err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return Answer{}, ErrClosed
	}
	s.state = StateKeyedAwaitingOpen
	s.mu.Unlock()

	return answer, nil
}

// AcceptAnswer completes the offerer handshake with the peer's answer and
// public key. An empty key blob keeps the session plaintext.
func (s *Session) AcceptAnswer(ctx context.Context, answerBlob, peerKeyBlob string) error {
	_ = ctx

	s.mu.Lock()
	if s.state != StateOfferCreated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, state)
	}
	keys := s.keys
	s.mu.Unlock()

	if peerKeyBlob != "" {
		peerPub, err := crypto.ImportPublicKey(peerKeyBlob)
		if err != nil {
			return err
		}
		shared, err := keys.DeriveSharedKey(peerPub)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.sharedKey = shared
		s.encrypted = true
		s.mu.Unlock()
		s.logger.Debug("shared key derived, encryption enabled")
	}

	desc, err := decodeDescription(answerBlob)
	if err != nil {
		return err
	}
	if err := s.conn.ApplyRemote(desc); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = StateKeyedAwaitingOpen
	s.mu.Unlock()

	return nil
}

// WaitOpen blocks until the data channel opens, the session closes, or
// ctx expires.
func (s *Session) WaitOpen(ctx context.Context) error {
	s.mu.Lock()
	opened, closed := s.opened, s.closed
	s.mu.Unlock()

	select {
	case <-opened:
		return nil
	case <-closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns which handshake side this session took.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Encrypted reports whether a shared key is in place.
func (s *Session) Encrypted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encrypted
}

// Config returns the active transfer parameters.
func (s *Session) Config() TransferConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfer
}

// Disconnect is the single teardown path: it closes the channel and the
// connection, clears accumulation and probe state, wipes key material,
// and resets the config. Idempotent; every internal failure funnels here.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	ch := s.channel
	s.channel = nil

	close(s.closed)
	close(s.drained)

	s.inbound = make(map[string]*inboundTransfer)
	s.probes = make(map[string]*probe)

	for i := range s.sharedKey {
		s.sharedKey[i] = 0
	}
	s.sharedKey = nil
	s.keys = nil
	s.encrypted = false
	s.transfer = DefaultTransferConfig()
	s.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	_ = s.conn.Close()

	s.logger.Debug("session closed")
}

// bindChannel attaches the session to its data channel. Callbacks arrive
// serially from the transport; the mutex protects against Disconnect
// racing them.
func (s *Session) bindChannel(ch transport.Channel) {
	s.mu.Lock()
	s.channel = ch
	ch.SetBufferedAmountLowThreshold(uint64(s.transfer.BufferLowThreshold))
	s.mu.Unlock()

	ch.OnOpen(func() {
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		s.state = StateOpen
		close(s.opened)
		s.mu.Unlock()
		s.logger.Debug("data channel open")
	})

	ch.OnMessage(s.handleMessage)

	ch.OnClose(func() {
		s.logger.Debug("data channel closed")
		s.Disconnect()
	})

	ch.OnError(func(err error) {
		s.logger.Warnf("data channel error: %v", err)
	})

	ch.OnBufferedAmountLow(func() {
		s.signalDrain()
	})
}

// signalDrain wakes every waiter blocked on backpressure by closing the
// broadcast channel and remaking it for the next wait cycle.
func (s *Session) signalDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	close(s.drained)
	s.drained = make(chan struct{})
}

func encodeDescription(d transport.Description) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal description: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeDescription(blob string) (transport.Description, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return transport.Description{}, fmt.Errorf("session: decode description blob: %w", err)
	}
	var d transport.Description
	if err := json.Unmarshal(data, &d); err != nil {
		return transport.Description{}, fmt.Errorf("session: unmarshal description: %w", err)
	}
	return d, nil
}
