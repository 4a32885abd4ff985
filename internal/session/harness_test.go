package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dropwire/dropwire/internal/transport"
)

// fakeChannel is an in-memory transport.Channel. Send delivers to the
// cross-wired peer's message handler on the calling goroutine, which
// mirrors the ordered delivery the real channel guarantees.
type fakeChannel struct {
	mu         sync.Mutex
	peer       *fakeChannel
	onOpen     func()
	onClose    func()
	onError    func(err error)
	onMessage  func(msg transport.Message)
	onLow      func()
	lowMark    uint64
	buffered   uint64
	closed     bool
	sentBinary [][]byte
	sentText   []string
}

func newChannelPair() (*fakeChannel, *fakeChannel) {
	a := &fakeChannel{}
	b := &fakeChannel{}
	a.peer = b
	b.peer = a
	return a, b
}

func (ch *fakeChannel) Send(data []byte) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return errors.New("channel closed")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	ch.sentBinary = append(ch.sentBinary, frame)
	peer := ch.peer
	ch.mu.Unlock()

	peer.deliver(transport.Message{Data: frame})
	return nil
}

func (ch *fakeChannel) SendText(text string) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return errors.New("channel closed")
	}
	ch.sentText = append(ch.sentText, text)
	peer := ch.peer
	ch.mu.Unlock()

	peer.deliver(transport.Message{IsText: true, Data: []byte(text)})
	return nil
}

func (ch *fakeChannel) deliver(msg transport.Message) {
	ch.mu.Lock()
	handler := ch.onMessage
	ch.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
	return nil
}

func (ch *fakeChannel) OnOpen(fn func())              { ch.mu.Lock(); ch.onOpen = fn; ch.mu.Unlock() }
func (ch *fakeChannel) OnClose(fn func())             { ch.mu.Lock(); ch.onClose = fn; ch.mu.Unlock() }
func (ch *fakeChannel) OnError(fn func(err error))    { ch.mu.Lock(); ch.onError = fn; ch.mu.Unlock() }
func (ch *fakeChannel) OnBufferedAmountLow(fn func()) { ch.mu.Lock(); ch.onLow = fn; ch.mu.Unlock() }
func (ch *fakeChannel) SetBufferedAmountLowThreshold(n uint64) {
	ch.mu.Lock()
	ch.lowMark = n
	ch.mu.Unlock()
}

func (ch *fakeChannel) OnMessage(fn func(msg transport.Message)) {
	ch.mu.Lock()
	ch.onMessage = fn
	ch.mu.Unlock()
}

func (ch *fakeChannel) BufferedAmount() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.buffered
}

func (ch *fakeChannel) setBuffered(n uint64) {
	ch.mu.Lock()
	ch.buffered = n
	ch.mu.Unlock()
}

func (ch *fakeChannel) fireOpen() {
	ch.mu.Lock()
	fn := ch.onOpen
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (ch *fakeChannel) fireBufferedLow() {
	ch.mu.Lock()
	fn := ch.onLow
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (ch *fakeChannel) binaryCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.sentBinary)
}

func (ch *fakeChannel) textCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.sentText)
}

// fakeConnector hands out a prepared channel and canned descriptions.
type fakeConnector struct {
	mu            sync.Mutex
	channel       *fakeChannel
	onDataChannel func(transport.Channel)
	onState       func(transport.State)
	applied       []transport.Description
	stats         transport.LinkStats
	closed        bool
}

func (c *fakeConnector) CreateDataChannel(label string) (transport.Channel, error) {
	return c.channel, nil
}

func (c *fakeConnector) OnDataChannel(fn func(transport.Channel)) {
	c.mu.Lock()
	c.onDataChannel = fn
	c.mu.Unlock()
}

func (c *fakeConnector) deliverDataChannel(ch *fakeChannel) {
	c.mu.Lock()
	fn := c.onDataChannel
	c.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

func (c *fakeConnector) CreateOffer(ctx context.Context) (transport.Description, error) {
	return transport.Description{Type: "offer", SDP: "v=0 fake-offer"}, nil
}

func (c *fakeConnector) CreateAnswer(ctx context.Context) (transport.Description, error) {
	return transport.Description{Type: "answer", SDP: "v=0 fake-answer"}, nil
}

func (c *fakeConnector) ApplyRemote(desc transport.Description) error {
	c.mu.Lock()
	c.applied = append(c.applied, desc)
	c.mu.Unlock()
	return nil
}

func (c *fakeConnector) OnConnectionStateChange(fn func(transport.State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConnector) fireState(st transport.State) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (c *fakeConnector) Stats() transport.LinkStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *fakeConnector) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newSessionPair runs the full offer/answer handshake over an in-memory
// channel pair and opens both sessions.
func newSessionPair(t *testing.T, encrypted bool) (offerer, answerer *Session, offererCh, answererCh *fakeChannel) {
	t.Helper()
	return newSessionPairOpts(t, encrypted, Options{}, Options{})
}

func newSessionPairOpts(t *testing.T, encrypted bool, offererOpts, answererOpts Options) (offerer, answerer *Session, offererCh, answererCh *fakeChannel) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if offererOpts.Logger == nil {
		offererOpts.Logger = quietLogger()
	}
	if answererOpts.Logger == nil {
		answererOpts.Logger = quietLogger()
	}

	a, b := newChannelPair()
	connA := &fakeConnector{channel: a}
	connB := &fakeConnector{}

	sa := New(connA, offererOpts)
	sb := New(connB, answererOpts)

	offer, err := sa.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	peerKey := offer.PublicKey
	if !encrypted {
		peerKey = ""
	}
	answer, err := sb.AcceptOffer(ctx, offer.SDP, peerKey)
	if err != nil {
		t.Fatalf("AcceptOffer failed: %v", err)
	}
	connB.deliverDataChannel(b)

	if err := sa.AcceptAnswer(ctx, answer.SDP, answer.PublicKey); err != nil {
		t.Fatalf("AcceptAnswer failed: %v", err)
	}

	a.fireOpen()
	b.fireOpen()

	if err := sa.WaitOpen(ctx); err != nil {
		t.Fatalf("offerer WaitOpen failed: %v", err)
	}
	if err := sb.WaitOpen(ctx); err != nil {
		t.Fatalf("answerer WaitOpen failed: %v", err)
	}

	t.Cleanup(func() {
		sa.Disconnect()
		sb.Disconnect()
	})

	return sa, sb, a, b
}

// eventCollector records every event from a progress feed.
type eventCollector struct {
	mu     sync.Mutex
	events []FileEvent
}

func (c *eventCollector) record(ev FileEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *eventCollector) all() []FileEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FileEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) last() (FileEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return FileEvent{}, false
	}
	return c.events[len(c.events)-1], true
}

func (c *eventCollector) byStatus(status Status) []FileEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []FileEvent
	for _, ev := range c.events {
		if ev.Status == status {
			out = append(out, ev)
		}
	}
	return out
}
