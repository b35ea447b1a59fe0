package picoquake

import (
	"time"

	"github.com/pkg/errors"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

// StartContinuous starts sampling until StopContinuous. Samples are read with Read,
// ReadLast or a subscription.
func (s *Session) StartContinuous() error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.startContinuous(s.opt.ContinuousBufferLen); err != nil {
		return err
	}
	s.logger.Infoln("continuous mode started")
	return nil
}

func (s *Session) startContinuous(capacity int) error {
	if !s.continuous.CompareAndSwap(false, true) {
		return ErrContinuousActive
	}
	if err := s.startSampling(0, capacity); err != nil {
		s.continuous.Store(false)
		return err
	}
	return nil
}

func (s *Session) StopContinuous() error {
	if !s.continuous.CompareAndSwap(true, false) {
		return ErrContinuousNotStarted
	}
	err := s.stopSampling()
	s.logger.Infoln("continuous mode stopped")
	return err
}

// Read removes and returns the n oldest buffered samples, waiting up to timeout for them.
// On timeout the samples available so far are returned; with none an error is returned.
func (s *Session) Read(n int, timeout time.Duration) ([]sensor.IMUSample, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrValidation, "cannot read %d samples", n)
	}
	if !s.continuous.Load() {
		return nil, ErrContinuousNotStarted
	}
	if timeout <= 0 {
		timeout = s.opt.ReadTimeout
	}
	_, err := s.wait(timeout, func() bool { return s.buf.len() >= n })
	if err != nil {
		return nil, err
	}
	samples := s.buf.pop(n)
	if len(samples) == 0 {
		return nil, errors.Wrap(ErrConnection, "no samples received")
	}
	return samples, nil
}

// ReadLast returns the newest sample and drops the older ones.
func (s *Session) ReadLast(timeout time.Duration) (sensor.IMUSample, error) {
	if !s.continuous.Load() {
		return sensor.IMUSample{}, ErrContinuousNotStarted
	}
	if timeout <= 0 {
		timeout = s.opt.ReadTimeout
	}
	_, err := s.wait(timeout, func() bool { return s.buf.len() > 0 })
	if err != nil {
		return sensor.IMUSample{}, err
	}
	sample, ok := s.buf.popLast()
	if !ok {
		return sensor.IMUSample{}, errors.Wrap(ErrConnection, "no samples received")
	}
	return sample, nil
}

// Subscribe returns a channel receiving every sample decoded from now on. Slow readers
// miss samples instead of blocking the dispatcher. The channel is closed on Stop.
func (s *Session) Subscribe() (chan interface{}, error) {
	s.brokerMu.RLock()
	defer s.brokerMu.RUnlock()
	if s.broker == nil {
		return nil, ErrStopped
	}
	return s.broker.Sub(topicSamples), nil
}

func (s *Session) Unsubscribe(ch chan interface{}) {
	s.brokerMu.RLock()
	defer s.brokerMu.RUnlock()
	if s.broker == nil {
		return
	}
	go func() {
		// drain so the broker is never blocked on a channel nobody reads anymore
		for range ch {
		}
	}()
	s.broker.Unsub(ch, topicSamples)
}
