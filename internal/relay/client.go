package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultDialTimeout = 10 * time.Second

type ClientConfig struct {
	Addr        string
	DialTimeout time.Duration
	Logger      *logrus.Logger
}

// Client is one relay connection. Join it to a room, then exchange
// Signal blobs with the other member through Send and Signals.
type Client struct {
	logger *logrus.Logger
	conn   net.Conn
	codec  *Codec

	writeMu sync.Mutex

	joinPending atomic.Bool
	joined      chan *Joined
	joinErr     chan *Error
	peerJoined  chan struct{}
	signals     chan Signal

	closeOnce sync.Once
	closed    chan struct{}
}

func Dial(cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	conn, err := net.DialTimeout("tcp", cfg.Addr, cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", cfg.Addr, err)
	}

	c := &Client{
		logger:     logger,
		conn:       conn,
		codec:      NewCodec(conn),
		joined:     make(chan *Joined, 1),
		joinErr:    make(chan *Error, 1),
		peerJoined: make(chan struct{}),
		signals:    make(chan Signal, 16),
		closed:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Join enters the room and reports whether the other member was already
// waiting.
func (c *Client) Join(ctx context.Context, room string) (bool, error) {
	c.joinPending.Store(true)
	defer c.joinPending.Store(false)

	if err := c.write(&Join{Room: room}); err != nil {
		return false, err
	}

	select {
	case reply := <-c.joined:
		return reply.PeerPresent, nil
	case reject := <-c.joinErr:
		if reject.Code == CodeRoomFull {
			return false, fmt.Errorf("%w: %s", ErrRoomFull, reject.Message)
		}
		return false, fmt.Errorf("relay: join rejected: %s", reject.Message)
	case <-c.closed:
		return false, ErrRelayClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// WaitPeer blocks until the other member joins the room.
func (c *Client) WaitPeer(ctx context.Context) error {
	select {
	case <-c.peerJoined:
		return nil
	case <-c.closed:
		return ErrRelayClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send forwards one blob to the other room member.
func (c *Client) Send(kind SignalKind, payload string) error {
	return c.write(&Signal{Kind: kind, Payload: payload})
}

// Signals returns the inbound blob feed. The channel is closed when the
// peer leaves or the connection ends.
func (c *Client) Signals() <-chan Signal {
	return c.signals
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(msg Message) error {
	select {
	case <-c.closed:
		return ErrRelayClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.codec.Encode(msg); err != nil {
		return fmt.Errorf("relay: send %s: %w", msg.Type(), err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.signals)
	}()

	for {
		msg, err := c.codec.Decode()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Debugf("relay connection lost: %v", err)
			}
			return
		}

		switch msg := msg.(type) {
		case *Joined:
			c.joined <- msg
		case *PeerJoined:
			close(c.peerJoined)
		case *PeerLeft:
			c.logger.Debug("peer left the room")
			return
		case *Signal:
			select {
			case c.signals <- *msg:
			case <-c.closed:
				return
			}
		case *Error:
			if c.joinPending.Load() {
				select {
				case c.joinErr <- msg:
					continue
				default:
				}
			}
			c.logger.Warnf("relay error: %s: %s", msg.Code, msg.Message)
		default:
			c.logger.Warnf("unhandled message type: %s", msg.Type())
		}
	}
}
