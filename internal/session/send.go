package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"

	"github.com/dropwire/dropwire/internal/crypto"
	"github.com/dropwire/dropwire/internal/protocol"
	"github.com/dropwire/dropwire/internal/transport"
)

// FileInfo describes an outbound file.
type FileInfo struct {
	Name     string
	Size     int64
	FileType string
}

// SendFile streams one file to the peer: a file-meta control message,
// fixed-size chunks gated by backpressure, then file-complete. Name and
// type are encrypted in the metadata when the session is keyed, as is
// every chunk. Returns the transfer id.
func (s *Session) SendFile(ctx context.Context, info FileInfo, r io.Reader) (string, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return "", ErrClosed
	case StateOpen:
	default:
		s.mu.Unlock()
		return "", ErrChannelNotReady
	}
	ch := s.channel
	cfg := s.transfer
	key := s.sharedKey
	encrypted := s.encrypted
	s.mu.Unlock()

	id := uuid.NewString()
	log := s.logger.WithField("transfer", id)

	wireName, wireType := info.Name, info.FileType
	if encrypted {
		var err error
		if wireName, err = crypto.EncryptString(key, info.Name); err != nil {
			return "", err
		}
		if wireType, err = crypto.EncryptString(key, info.FileType); err != nil {
			return "", err
		}
	}

	meta, err := protocol.EncodeFileMeta(id, wireName, info.Size, wireType, encrypted)
	if err != nil {
		return "", err
	}
	if err := ch.SendText(string(meta)); err != nil {
		return "", fmt.Errorf("send file-meta: %w", err)
	}

	s.progress.publish(FileEvent{
		ID: id, Name: info.Name, Size: info.Size, FileType: info.FileType,
		Direction: DirectionSend, Status: StatusPending,
	})
	log.Infof("sending %s (%d bytes, chunk size %d)", info.Name, info.Size, cfg.ChunkSize)

	buf := make([]byte, cfg.ChunkSize)
	var sent int64
	for sent < info.Size {
		want := int64(cfg.ChunkSize)
		if remaining := info.Size - sent; remaining < want {
			want = remaining
		}
		if _, err := io.ReadFull(r, buf[:want]); err != nil {
			s.failSend(id, info, fmt.Sprintf("read source: %v", err))
			return id, fmt.Errorf("read %s: %w", info.Name, err)
		}

		if err := s.waitDrain(ctx, ch, cfg.BufferThreshold); err != nil {
			s.failSend(id, info, err.Error())
			return id, err
		}

		var frame []byte
		if encrypted {
			ciphertext, iv, err := crypto.Encrypt(key, buf[:want])
			if err != nil {
				s.failSend(id, info, err.Error())
				return id, err
			}
			frame, err = protocol.EncodeFrame(id, iv, ciphertext)
			if err != nil {
				s.failSend(id, info, err.Error())
				return id, err
			}
		} else {
			frame, err = protocol.EncodeFrame(id, nil, buf[:want])
			if err != nil {
				s.failSend(id, info, err.Error())
				return id, err
			}
		}

		if err := ch.Send(frame); err != nil {
			s.failSend(id, info, fmt.Sprintf("send chunk: %v", err))
			return id, fmt.Errorf("send chunk: %w", err)
		}
		sent += want

		s.progress.publish(FileEvent{
			ID: id, Name: info.Name, Size: info.Size, FileType: info.FileType,
			Direction: DirectionSend, Progress: percent(sent, info.Size),
			Status: StatusTransferring,
		})
	}

	complete, err := protocol.EncodeFileComplete(id)
	if err != nil {
		return id, err
	}
	if err := ch.SendText(string(complete)); err != nil {
		s.failSend(id, info, fmt.Sprintf("send file-complete: %v", err))
		return id, fmt.Errorf("send file-complete: %w", err)
	}

	s.progress.publish(FileEvent{
		ID: id, Name: info.Name, Size: info.Size, FileType: info.FileType,
		Direction: DirectionSend, Progress: 100, Status: StatusCompleted,
	})
	log.Infof("sent %s", info.Name)
	return id, nil
}

// SendMessage marshals an arbitrary record and sends it as a text frame.
// The peer surfaces it on its generic feed.
func (s *Session) SendMessage(ctx context.Context, v any) error {
	_ = ctx

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateOpen:
	default:
		s.mu.Unlock()
		return ErrChannelNotReady
	}
	ch := s.channel
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return ch.SendText(string(data))
}

// waitDrain suspends the send loop while the channel's buffered bytes
// exceed the threshold, resuming on the buffered-amount-low signal. The
// sole synchronization point in the send path; disconnect and ctx both
// unblock it.
func (s *Session) waitDrain(ctx context.Context, ch transport.Channel, threshold int) error {
	for ch.BufferedAmount() > uint64(threshold) {
		s.mu.Lock()
		if s.state != StateOpen {
			s.mu.Unlock()
			return ErrClosed
		}
		drained := s.drained
		closed := s.closed
		s.mu.Unlock()

		if ch.BufferedAmount() <= uint64(threshold) {
			return nil
		}

		select {
		case <-drained:
		case <-closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) failSend(id string, info FileInfo, reason string) {
	s.logger.WithField("transfer", id).Warnf("send failed: %s", reason)
	s.progress.publish(FileEvent{
		ID: id, Name: info.Name, Size: info.Size, FileType: info.FileType,
		Direction: DirectionSend, Status: StatusError, Reason: reason,
	})
}

// percent reports round(done/total*100) clamped to 100. A zero-byte
// transfer is complete by definition.
func percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	p := int(math.Round(float64(done) / float64(total) * 100))
	if p > 100 {
		p = 100
	}
	return p
}
