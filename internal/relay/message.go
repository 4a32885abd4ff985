// Package relay implements the rendezvous signaling channel: a TCP
// server pairing exactly two peers by room code and forwarding opaque
// signal blobs between them, plus the matching client.
package relay

import (
	"encoding/gob"
	"errors"
	"io"
)

var (
	// ErrRoomFull reports a join attempt on a room that already has two
	// members.
	ErrRoomFull = errors.New("relay: room full")
	// ErrRelayClosed reports an operation after the connection ended.
	ErrRelayClosed = errors.New("relay: connection closed")
)

type Message interface {
	Type() MessageType
}

type MessageType uint16

const (
	MsgJoin       MessageType = 0x0001
	MsgJoined     MessageType = 0x0002
	MsgPeerJoined MessageType = 0x0003
	MsgPeerLeft   MessageType = 0x0004
	MsgSignal     MessageType = 0x0010
	MsgError      MessageType = 0x00FF
)

func (t MessageType) String() string {
	switch t {
	case MsgJoin:
		return "JOIN"
	case MsgJoined:
		return "JOINED"
	case MsgPeerJoined:
		return "PEER_JOINED"
	case MsgPeerLeft:
		return "PEER_LEFT"
	case MsgSignal:
		return "SIGNAL"
	case MsgError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SignalKind labels the blob a Signal carries.
type SignalKind string

const (
	SignalOffer  SignalKind = "offer"
	SignalAnswer SignalKind = "answer"
	SignalPubKey SignalKind = "pubkey"
)

// Join opens or enters a room.
type Join struct {
	Room string
}

func (Join) Type() MessageType { return MsgJoin }

// Joined confirms a join. PeerPresent reports whether the other member
// was already waiting.
type Joined struct {
	PeerPresent bool
}

func (Joined) Type() MessageType { return MsgJoined }

// PeerJoined notifies the waiting member that the room is now paired.
type PeerJoined struct{}

func (PeerJoined) Type() MessageType { return MsgPeerJoined }

// PeerLeft notifies the remaining member that the other side went away.
type PeerLeft struct{}

func (PeerLeft) Type() MessageType { return MsgPeerLeft }

// Signal carries one opaque blob to the other room member. The relay
// forwards the payload verbatim.
type Signal struct {
	Kind    SignalKind
	Payload string
}

func (Signal) Type() MessageType { return MsgSignal }

type ErrorCode uint16

const (
	CodeUnknown    ErrorCode = 0x0000
	CodeInvalidMsg ErrorCode = 0x0001
	CodeRoomFull   ErrorCode = 0x0002
	CodeInternal   ErrorCode = 0x00FF
)

func (e ErrorCode) String() string {
	switch e {
	case CodeInvalidMsg:
		return "INVALID_MESSAGE"
	case CodeRoomFull:
		return "ROOM_FULL"
	case CodeInternal:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Error rejects a request.
type Error struct {
	Code    ErrorCode
	Message string
}

func (Error) Type() MessageType { return MsgError }

func init() {
	gob.Register(&Join{})
	gob.Register(&Joined{})
	gob.Register(&PeerJoined{})
	gob.Register(&PeerLeft{})
	gob.Register(&Signal{})
	gob.Register(&Error{})
}

// Codec frames messages over one stream. The encoder and decoder are
// bound to the connection for its lifetime: gob buffers ahead of the
// values it returns, so a per-message decoder over a raw conn would
// swallow coalesced messages along with its buffer.
type Codec struct {
	enc *gob.Encoder
	dec *gob.Decoder
}

func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		enc: gob.NewEncoder(rw),
		dec: gob.NewDecoder(rw),
	}
}

func (c *Codec) Encode(msg Message) error {
	return c.enc.Encode(&msg)
}

func (c *Codec) Decode() (Message, error) {
	var msg Message
	if err := c.dec.Decode(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}
