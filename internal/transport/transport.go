// Package transport defines the capability contract the session core
// requires from its connection layer. The core never touches SDP or ICE
// directly; it consumes these interfaces and treats descriptions as
// opaque values to serialize.
package transport

import (
	"context"
	"time"
)

// Description is one half of the session-description exchange. The core
// base64-encodes its JSON form as the offer/answer blob and never
// interprets the SDP.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// State mirrors the underlying peer connection's lifecycle.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Fatal reports whether a state permanently ends the connection.
func (s State) Fatal() bool {
	return s == StateFailed || s == StateClosed
}

// LinkStats is a snapshot of transport-level connection statistics,
// sampled for reporting only.
type LinkStats struct {
	RoundTrip           time.Duration
	LocalCandidateType  string
	RemoteCandidateType string
}

// Message is one inbound channel message.
type Message struct {
	IsText bool
	Data   []byte
}

// Connector negotiates one peer connection. CreateOffer and CreateAnswer
// fold in setting the local description and a bounded wait for ICE
// gathering; on timeout they return whatever candidates were gathered.
type Connector interface {
	CreateDataChannel(label string) (Channel, error)
	OnDataChannel(fn func(Channel))
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	ApplyRemote(desc Description) error
	OnConnectionStateChange(fn func(State))
	Stats() LinkStats
	Close() error
}

// Channel is an ordered, reliable, message-oriented bidirectional channel
// with a backpressure signal.
type Channel interface {
	Send(data []byte) error
	SendText(text string) error
	Close() error
	OnOpen(fn func())
	OnClose(fn func())
	OnError(fn func(err error))
	OnMessage(fn func(msg Message))
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(n uint64)
	OnBufferedAmountLow(fn func())
}
