package session

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/dropwire/dropwire/internal/transport"
)

// Status tracks a file transfer's lifecycle.
type Status string

const (
	StatusPending      Status = "pending"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// Direction distinguishes outbound from inbound transfers.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// FileEvent is one per-file progress or status update. Payload is set only
// on a completed inbound transfer; Reason only when Status is error.
type FileEvent struct {
	ID        string
	Name      string
	Size      int64
	FileType  string
	Direction Direction
	Progress  int
	Status    Status
	Payload   []byte
	Reason    string
}

// NoticeKind tags entries on the generic feed.
type NoticeKind int

const (
	// NoticeConnectionState carries a transport connection-state change.
	NoticeConnectionState NoticeKind = iota
	// NoticeMessage carries a verbatim control message the protocol does
	// not recognize.
	NoticeMessage
)

// Notice is one entry on the generic control/state feed.
type Notice struct {
	Kind  NoticeKind
	State transport.State
	Raw   json.RawMessage
}

// broadcaster fans one value out to every subscriber, in subscription
// order, on the goroutine that published it. Unsubscribe closures are
// safe to call more than once.
type broadcaster[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
}

func (b *broadcaster[T]) subscribe(fn func(T)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(T))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(v)
	}
}

// SubscribeNotices registers a handler for connection-state changes and
// pass-through control messages. The returned closure unsubscribes it.
func (s *Session) SubscribeNotices(fn func(Notice)) func() {
	return s.notices.subscribe(fn)
}

// SubscribeProgress registers a handler for per-file progress and status
// updates.
func (s *Session) SubscribeProgress(fn func(FileEvent)) func() {
	return s.progress.subscribe(fn)
}

// SubscribeCalibration registers a handler for calibration results.
func (s *Session) SubscribeCalibration(fn func(CalibrationResult)) func() {
	return s.calibrations.subscribe(fn)
}
