package picoquake

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

// dispatch is the single consumer of decoded messages and the only writer of status,
// identity and the sample buffer. An error is posted as soon as it is detected; the
// transport keeps running so Stop can still deliver the stop command.
func (s *Session) dispatch(ctx context.Context) {
	if err := s.dispatchLoop(ctx); err != nil {
		s.fail(err)
	}
}

func (s *Session) dispatchLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opt.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.in:
			if err := s.handle(msg); err != nil {
				return err
			}
		case <-ticker.C:
		}
		if err := s.checkStale(); err != nil {
			return err
		}
	}
}

func (s *Session) handle(msg sensor.Message) error {
	switch m := msg.(type) {
	case sensor.IMUSample:
		s.buf.push(m)
		s.publish(m)
	case sensor.Status:
		s.mu.Lock()
		prev := s.status.State
		s.status = m
		s.statusSeq++
		s.lastStatus = time.Now()
		s.mu.Unlock()
		if m.State != prev {
			s.logger.Debugf("device state changed from %s to %s", prev, m.State)
		}
		if m.State == sensor.StateError {
			return &DeviceError{Code: m.ErrorCode}
		}
	case sensor.DeviceInfo:
		s.mu.Lock()
		info := m
		s.info = &info
		s.lastStatus = time.Now()
		s.mu.Unlock()
	default:
		s.logger.Warnf("unexpected message %T", msg)
	}
	return nil
}

// checkStale fails once the device went silent for longer than the status timeout. The
// device reports status twice a second, so this only triggers on a lost connection.
func (s *Session) checkStale() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info == nil {
		return nil
	}
	if time.Since(s.lastStatus) > s.opt.StatusTimeout {
		return errors.Wrap(ErrConnection, "connection lost, device not responding")
	}
	return nil
}

func (s *Session) publish(sample sensor.IMUSample) {
	s.brokerMu.RLock()
	defer s.brokerMu.RUnlock()
	if s.broker != nil {
		s.broker.TryPub(sample, topicSamples)
	}
}
