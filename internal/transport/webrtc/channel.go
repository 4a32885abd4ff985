package webrtc

import (
	"github.com/pion/webrtc/v3"

	"github.com/dropwire/dropwire/internal/transport"
)

// channel wraps a pion data channel behind the transport.Channel contract.
type channel struct {
	dc *webrtc.DataChannel
}

func (ch *channel) Send(data []byte) error {
	return ch.dc.Send(data)
}

func (ch *channel) SendText(text string) error {
	return ch.dc.SendText(text)
}

func (ch *channel) Close() error {
	return ch.dc.Close()
}

func (ch *channel) OnOpen(fn func()) {
	ch.dc.OnOpen(fn)
}

func (ch *channel) OnClose(fn func()) {
	ch.dc.OnClose(fn)
}

func (ch *channel) OnError(fn func(err error)) {
	ch.dc.OnError(fn)
}

func (ch *channel) OnMessage(fn func(msg transport.Message)) {
	ch.dc.OnMessage(func(m webrtc.DataChannelMessage) {
		fn(transport.Message{IsText: m.IsString, Data: m.Data})
	})
}

func (ch *channel) BufferedAmount() uint64 {
	return ch.dc.BufferedAmount()
}

func (ch *channel) SetBufferedAmountLowThreshold(n uint64) {
	ch.dc.SetBufferedAmountLowThreshold(n)
}

func (ch *channel) OnBufferedAmountLow(fn func()) {
	ch.dc.OnBufferedAmountLow(fn)
}
