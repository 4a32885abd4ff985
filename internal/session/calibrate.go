package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropwire/dropwire/internal/protocol"
	"github.com/dropwire/dropwire/internal/transport"
)

// Ascending probe ladder; the first timeout stops escalation.
var defaultProbeSizes = []int{
	16 * 1024,
	32 * 1024,
	64 * 1024,
	128 * 1024,
	256 * 1024,
}

const defaultProbeTimeout = 3 * time.Second

// probe is one outstanding calibration round trip.
type probe struct {
	size  int
	start time.Time
	done  chan time.Duration
}

// ProbeSample is one successful probe measurement. Bandwidth is bytes per
// second; the factor 2 accounts for timing a round trip while the payload
// travels one way.
type ProbeSample struct {
	Size      int
	RTT       time.Duration
	Bandwidth float64
}

// CalibrationResult is the outcome of a calibration run: the config now
// in force, the per-size samples, and a transport stats snapshot taken
// for reporting only.
type CalibrationResult struct {
	Config  TransferConfig
	Samples []ProbeSample
	Link    transport.LinkStats
}

// Calibrate probes ascending chunk sizes over the open channel and
// replaces the transfer config with the best performer: chunk size from
// the highest-bandwidth probe, buffer thresholds at 4x and 1x that size,
// max message size from the largest size that answered. A timed-out size
// stops the ladder; larger sizes are never attempted. With no successful
// probe the defaults stay in force.
func (s *Session) Calibrate(ctx context.Context) (CalibrationResult, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return CalibrationResult{}, ErrClosed
	case StateOpen:
	default:
		s.mu.Unlock()
		return CalibrationResult{}, ErrChannelNotReady
	}
	ch := s.channel
	s.mu.Unlock()

	var samples []ProbeSample
	var best *ProbeSample
	var largestOK int

	for _, size := range s.opts.ProbeSizes {
		sample, ok, err := s.probeOnce(ctx, ch, size)
		if err != nil {
			return CalibrationResult{}, err
		}
		if !ok {
			s.logger.Debugf("probe %d KiB timed out, stopping ladder", size/1024)
			break
		}

		s.logger.Debugf("probe %d KiB: rtt=%s bandwidth=%.0f B/s", size/1024, sample.RTT, sample.Bandwidth)
		samples = append(samples, sample)
		largestOK = size
		if best == nil || sample.Bandwidth > best.Bandwidth {
			b := sample
			best = &b
		}
	}

	cfg := DefaultTransferConfig()
	cfg.IsCalibrated = true
	if best != nil {
		cfg = TransferConfig{
			ChunkSize:          best.Size,
			BufferThreshold:    4 * best.Size,
			BufferLowThreshold: best.Size,
			MaxMessageSize:     largestOK,
			EffectiveBandwidth: best.Bandwidth,
			IsCalibrated:       true,
		}
	}

	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return CalibrationResult{}, ErrClosed
	}
	s.transfer = cfg
	s.channel.SetBufferedAmountLowThreshold(uint64(cfg.BufferLowThreshold))
	s.mu.Unlock()

	result := CalibrationResult{
		Config:  cfg,
		Samples: samples,
		Link:    s.conn.Stats(),
	}
	s.logger.Infof("calibrated: chunk=%d bandwidth=%.0f B/s", cfg.ChunkSize, cfg.EffectiveBandwidth)
	s.calibrations.publish(result)
	return result, nil
}

// probeOnce sends one ping plus a same-sized random payload and waits for
// the pong, bounded by the per-probe timeout. ok=false means the probe
// timed out; err is reserved for cancellation and send failures.
func (s *Session) probeOnce(ctx context.Context, ch transport.Channel, size int) (ProbeSample, bool, error) {
	id := protocol.ProbeIDPrefix + uuid.NewString()
	p := &probe{size: size, done: make(chan time.Duration, 1)}

	payload := make([]byte, size)
	if _, err := rand.Read(payload); err != nil {
		return ProbeSample{}, false, fmt.Errorf("generate probe payload: %w", err)
	}
	frame, err := protocol.EncodeFrame(id, nil, payload)
	if err != nil {
		return ProbeSample{}, false, err
	}
	ping, err := protocol.EncodeCalibrationPing(id, int64(size))
	if err != nil {
		return ProbeSample{}, false, err
	}

	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ProbeSample{}, false, ErrClosed
	}
	p.start = time.Now()
	s.probes[id] = p
	closed := s.closed
	s.mu.Unlock()

	removeProbe := func() {
		s.mu.Lock()
		delete(s.probes, id)
		s.mu.Unlock()
	}

	if err := ch.SendText(string(ping)); err != nil {
		removeProbe()
		return ProbeSample{}, false, fmt.Errorf("send calibration ping: %w", err)
	}
	if err := ch.Send(frame); err != nil {
		removeProbe()
		return ProbeSample{}, false, fmt.Errorf("send calibration payload: %w", err)
	}

	timer := time.NewTimer(s.opts.ProbeTimeout)
	defer timer.Stop()

	select {
	case rtt := <-p.done:
		if rtt <= 0 {
			rtt = time.Nanosecond
		}
		return ProbeSample{
			Size:      size,
			RTT:       rtt,
			Bandwidth: 2 * float64(size) / rtt.Seconds(),
		}, true, nil
	case <-timer.C:
		removeProbe()
		return ProbeSample{}, false, nil
	case <-closed:
		return ProbeSample{}, false, ErrClosed
	case <-ctx.Done():
		removeProbe()
		return ProbeSample{}, false, ctx.Err()
	}
}
