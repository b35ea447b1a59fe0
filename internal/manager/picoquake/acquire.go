package picoquake

import (
	"time"

	"github.com/pkg/errors"

	"github.com/PLab-SI/PicoQuake/internal/acquisition"
	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

// samplesToAcquire resolves the requested length to a sample count. Exactly one of seconds
// and numSamples must be non-zero and neither may be negative.
func samplesToAcquire(cfg sensor.Configuration, seconds float64, numSamples int) (int, error) {
	if seconds != 0 && numSamples != 0 {
		return 0, errors.Wrap(ErrValidation, "either seconds or number of samples must be specified, not both")
	}
	if seconds == 0 && numSamples == 0 {
		return 0, errors.Wrap(ErrValidation, "either seconds or number of samples must be specified")
	}
	if seconds < 0 || numSamples < 0 {
		return 0, errors.Wrap(ErrValidation, "seconds and number of samples must be positive")
	}
	if seconds > 0 {
		numSamples = int(seconds * cfg.SampleRate.Value())
		if numSamples == 0 {
			return 0, errors.Wrapf(ErrValidation, "%gs is shorter than one sample at %s", seconds, cfg.SampleRate)
		}
	}
	return numSamples, nil
}

// maxAcquireDuration leaves 20% plus one second of slack over the nominal duration.
func maxAcquireDuration(cfg sensor.Configuration, n int) time.Duration {
	nominal := float64(n) / cfg.SampleRate.Value()
	return time.Duration((nominal*1.2 + 1.0) * float64(time.Second))
}

// Acquire samples for the given duration or number of samples. The returned error is set
// for invalid arguments and for failures to start sampling. Once sampling started the
// data is always returned in the Result, classified by its Outcome.
func (s *Session) Acquire(seconds float64, numSamples int) (acquisition.Result, error) {
	if s.continuous.Load() {
		return acquisition.Result{}, ErrContinuousActive
	}
	cfg := s.Config()
	n, err := samplesToAcquire(cfg, seconds, numSamples)
	if err != nil {
		return acquisition.Result{}, err
	}
	if err := s.ready(); err != nil {
		return acquisition.Result{}, err
	}

	maxDuration := maxAcquireDuration(cfg, n)
	s.logger.Infof("acquiring %d samples, max expected duration: %.1fs", n, maxDuration.Seconds())
	_, sentSeq := s.statusWithSeq()
	if err := s.startSampling(uint64(n), 2*n); err != nil {
		return acquisition.Result{}, err
	}

	// A short acquisition can finish between two status reports, so the first sample
	// also counts as the start.
	var startSeq uint64
	started, err := s.wait(s.opt.SampleStartTimeout, func() bool {
		st, seq := s.statusWithSeq()
		startSeq = seq
		return (seq > sentSeq && st.State == sensor.StateSampling) || s.buf.received() > 0
	})
	if err != nil {
		_ = s.Stop()
		return acquisition.Result{}, err
	}
	if !started {
		_ = s.Stop()
		return acquisition.Result{}, errors.Wrap(ErrConnection, "sampling not started in time")
	}
	startTime := time.Now()

	finished, failure := s.wait(maxDuration, func() bool {
		if s.buf.received() >= uint64(n) {
			return true
		}
		st, seq := s.statusWithSeq()
		return seq > startSeq && st.State == sensor.StateIdle
	})
	if failure == nil && !finished {
		failure = errors.Wrap(ErrConnection, "sampling timeout")
	}
	if finished {
		s.sampling.Store(false)
	}
	s.logger.Infof("acquisition stopped, took: %.1fs", time.Since(startTime).Seconds())

	samples := s.buf.snapshot()
	s.logger.Infof("received %d samples", len(samples))
	if len(samples) > n {
		samples = samples[:n]
	}
	data := acquisition.New(samples, s.deviceInfo(), cfg, startTime)
	data.ReCentre(0)
	return s.classify(data, n, failure), nil
}

// classify derives the outcome from the received data. A posted failure takes the place
// of the classification error but the outcome still reflects the data.
func (s *Session) classify(data *acquisition.Data, n int, failure error) acquisition.Result {
	res := acquisition.Result{Data: data, Outcome: acquisition.Complete}
	switch {
	case data.NumSamples() < n:
		s.logger.Warnf("expected %d samples, received %d", n, data.NumSamples())
		res.Outcome = acquisition.Incomplete
		res.Err = errors.Wrapf(ErrIncomplete, "received %d of %d samples", data.NumSamples(), n)
	case !data.Integrity():
		s.logger.Warnf("data integrity compromised, %d samples skipped", data.SkippedSamples())
		res.Outcome = acquisition.Corrupted
		res.Err = errors.Wrapf(ErrCorrupted, "%d samples skipped", data.SkippedSamples())
	}
	if failure != nil {
		res.Err = failure
	}
	return res
}
