package session

import (
	"fmt"
	"time"

	"github.com/dropwire/dropwire/internal/crypto"
	"github.com/dropwire/dropwire/internal/protocol"
	"github.com/dropwire/dropwire/internal/transport"
)

// handleMessage is the single entry point for inbound channel traffic.
// Failures here are absorbed: a bad unit of data is dropped and logged,
// never propagated across the dispatch boundary.
func (s *Session) handleMessage(msg transport.Message) {
	if msg.IsText {
		s.handleControl(msg.Data)
		return
	}
	s.handleBinary(msg.Data)
}

func (s *Session) handleControl(data []byte) {
	ctrl, err := protocol.DecodeControl(data)
	if err != nil {
		s.logger.Debugf("dropping undecodable control message: %v", err)
		return
	}

	switch {
	case ctrl.Meta != nil:
		s.handleFileMeta(ctrl.Meta)
	case ctrl.Complete != nil:
		s.handleFileComplete(ctrl.Complete)
	case ctrl.Ping != nil:
		s.handleCalibrationPing(ctrl.Ping)
	case ctrl.Pong != nil:
		s.handleCalibrationPong(ctrl.Pong)
	default:
		s.notices.publish(Notice{Kind: NoticeMessage, Raw: ctrl.Other})
	}
}

func (s *Session) handleFileMeta(m *protocol.FileMeta) {
	name, fileType := m.Name, m.FileType
	if m.Encrypted {
		s.mu.Lock()
		key := s.sharedKey
		s.mu.Unlock()
		if key == nil {
			s.logger.Warnf("dropping encrypted file-meta %s: no shared key", m.ID)
			return
		}
		var err error
		if name, err = crypto.DecryptString(key, m.Name); err != nil {
			s.logger.Warnf("dropping file-meta %s: decrypt name: %v", m.ID, err)
			return
		}
		if fileType, err = crypto.DecryptString(key, m.FileType); err != nil {
			s.logger.Warnf("dropping file-meta %s: decrypt type: %v", m.ID, err)
			return
		}
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	// A duplicate meta for a live id restarts the accumulation.
	s.inbound[m.ID] = &inboundTransfer{
		name:      name,
		fileType:  fileType,
		size:      m.Size,
		encrypted: m.Encrypted,
	}
	s.mu.Unlock()

	s.logger.WithField("transfer", m.ID).Infof("receiving %s (%d bytes)", name, m.Size)
	s.progress.publish(FileEvent{
		ID: m.ID, Name: name, Size: m.Size, FileType: fileType,
		Direction: DirectionReceive, Status: StatusPending,
	})
}

func (s *Session) handleBinary(data []byte) {
	id, err := protocol.FrameID(data)
	if err != nil {
		s.logger.Debugf("dropping malformed binary frame: %v", err)
		return
	}
	// Calibration payloads are consumed by the ping/pong exchange; the
	// bytes themselves carry no information.
	if protocol.IsProbeID(id) {
		return
	}

	s.mu.Lock()
	entry, ok := s.inbound[id]
	key := s.sharedKey
	s.mu.Unlock()
	if !ok {
		s.logger.Debugf("dropping chunk for unknown transfer %s", id)
		return
	}

	frame, err := protocol.DecodeFrame(data, entry.encrypted)
	if err != nil {
		s.logger.Warnf("dropping malformed chunk for %s: %v", id, err)
		return
	}

	payload := frame.Payload
	if entry.encrypted {
		if key == nil {
			s.logger.Warnf("dropping chunk for %s: no shared key", id)
			return
		}
		if payload, err = crypto.Decrypt(key, frame.IV, frame.Payload); err != nil {
			// Drop the chunk only; the size check at file-complete
			// flags the transfer.
			s.logger.Warnf("dropping chunk for %s: %v", id, err)
			return
		}
	}

	s.mu.Lock()
	entry, ok = s.inbound[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.chunks = append(entry.chunks, payload)
	entry.received += int64(len(payload))
	event := FileEvent{
		ID: id, Name: entry.name, Size: entry.size, FileType: entry.fileType,
		Direction: DirectionReceive, Progress: percent(entry.received, entry.size),
		Status: StatusTransferring,
	}
	s.mu.Unlock()

	s.progress.publish(event)
}

func (s *Session) handleFileComplete(m *protocol.FileComplete) {
	s.mu.Lock()
	entry, ok := s.inbound[m.ID]
	delete(s.inbound, m.ID)
	s.mu.Unlock()
	if !ok {
		s.logger.Debugf("dropping file-complete for unknown transfer %s", m.ID)
		return
	}

	if entry.received != entry.size {
		reason := fmt.Sprintf("reassembled %d of %d declared bytes", entry.received, entry.size)
		s.logger.WithField("transfer", m.ID).Warnf("transfer failed: %s", reason)
		s.progress.publish(FileEvent{
			ID: m.ID, Name: entry.name, Size: entry.size, FileType: entry.fileType,
			Direction: DirectionReceive, Progress: percent(entry.received, entry.size),
			Status: StatusError, Reason: reason,
		})
		return
	}

	payload := make([]byte, 0, entry.received)
	for _, chunk := range entry.chunks {
		payload = append(payload, chunk...)
	}

	s.logger.WithField("transfer", m.ID).Infof("received %s", entry.name)
	s.progress.publish(FileEvent{
		ID: m.ID, Name: entry.name, Size: entry.size, FileType: entry.fileType,
		Direction: DirectionReceive, Progress: 100, Status: StatusCompleted,
		Payload: payload,
	})
}

func (s *Session) handleCalibrationPing(m *protocol.CalibrationPing) {
	s.mu.Lock()
	ch := s.channel
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || ch == nil {
		return
	}

	pong, err := protocol.EncodeCalibrationPong(m.ID, m.Size)
	if err != nil {
		return
	}
	if err := ch.SendText(string(pong)); err != nil {
		s.logger.Debugf("failed to answer calibration ping %s: %v", m.ID, err)
	}
}

func (s *Session) handleCalibrationPong(m *protocol.CalibrationPong) {
	s.mu.Lock()
	p, ok := s.probes[m.ID]
	if ok {
		delete(s.probes, m.ID)
	}
	s.mu.Unlock()
	if !ok {
		s.logger.Debugf("dropping stale calibration pong %s", m.ID)
		return
	}

	select {
	case p.done <- time.Since(p.start):
	default:
	}
}
