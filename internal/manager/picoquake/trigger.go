package picoquake

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/PLab-SI/PicoQuake/internal/acquisition"
	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

// TriggerOpts configures a threshold triggered acquisition. Durations are in seconds and
// are converted to samples at the configured sample rate.
type TriggerOpts struct {
	Threshold   float64
	PreSeconds  float64
	PostSeconds float64
	Source      sensor.Source
	Axis        sensor.Axis
	RMSWindow   float64

	// OnTrigger is called with the RMS value that crossed the threshold.
	OnTrigger func(rms float64)
}

type triggerPlan struct {
	window int
	pre    int
	post   int
}

func (o TriggerOpts) plan(cfg sensor.Configuration) (triggerPlan, error) {
	if o.Threshold <= 0 {
		return triggerPlan{}, errors.Wrap(ErrValidation, "threshold must be positive")
	}
	if o.Source != sensor.SourceAccel && o.Source != sensor.SourceGyro {
		return triggerPlan{}, errors.Wrapf(ErrValidation, "invalid source %d", int(o.Source))
	}
	if o.Axis == 0 || o.Axis&^sensor.AxisAll != 0 {
		return triggerPlan{}, errors.Wrapf(ErrValidation, "invalid axis mask %d", int(o.Axis))
	}
	if o.PreSeconds < 0 || o.PostSeconds < 0 {
		return triggerPlan{}, errors.Wrap(ErrValidation, "pre and post durations must not be negative")
	}
	rate := cfg.SampleRate.Value()
	p := triggerPlan{
		window: int(o.RMSWindow * rate),
		pre:    int(o.PreSeconds * rate),
		post:   int(o.PostSeconds * rate),
	}
	if p.window < 1 {
		return triggerPlan{}, errors.Wrapf(ErrValidation, "rms window of %gs is shorter than one sample", o.RMSWindow)
	}
	return p, nil
}

// bufferLen keeps pre-roll, post capture and one detection window with room to spare.
func (p triggerPlan) bufferLen(floor int) int {
	return max(floor, 2*(p.pre+p.post+p.window))
}

// Trigger samples continuously until the detrended RMS of the selected axes over the last
// window exceeds the threshold, then captures the post-trigger samples. The returned data
// is centred on the trigger sample. Cancelling ctx abandons the wait.
func (s *Session) Trigger(ctx context.Context, opt TriggerOpts) (acquisition.Result, error) {
	cfg := s.Config()
	plan, err := opt.plan(cfg)
	if err != nil {
		return acquisition.Result{}, err
	}
	if err := s.ready(); err != nil {
		return acquisition.Result{}, err
	}
	if err := s.startContinuous(plan.bufferLen(s.opt.ContinuousBufferLen)); err != nil {
		return acquisition.Result{}, err
	}
	s.logger.Infof("waiting for trigger: threshold = %g, source = %s, axis = %s", opt.Threshold, opt.Source, opt.Axis)

	got, err := s.wait(s.opt.SampleStartTimeout, func() bool { return s.buf.received() > 0 })
	if err == nil && !got {
		err = errors.Wrap(ErrConnection, "no samples received")
	}
	if err != nil {
		_ = s.StopContinuous()
		return acquisition.Result{}, err
	}

	first, _ := s.buf.newest()
	lastChecked := first.Count
	var triggerCount int64
	var triggerTime time.Time
	for triggered := false; !triggered; {
		select {
		case <-ctx.Done():
			_ = s.StopContinuous()
			return acquisition.Result{}, ctx.Err()
		default:
		}
		if err := s.Err(); err != nil {
			_ = s.StopContinuous()
			return acquisition.Result{}, err
		}
		newest, _ := s.buf.newest()
		if newest.Count-lastChecked >= int64(plan.window) && s.buf.len() >= plan.window {
			lastChecked = newest.Count
			window := s.buf.last(plan.window)
			rms := acquisition.DetrendedRMS(window, opt.Source, opt.Axis)
			if rms > opt.Threshold {
				triggered = true
				triggerCount = window[len(window)-1].Count
				triggerTime = time.Now()
				s.logger.Infof("triggered at sample %d, rms = %g", triggerCount, rms)
				if opt.OnTrigger != nil {
					opt.OnTrigger(rms)
				}
				continue
			}
		}
		time.Sleep(s.opt.PollInterval)
	}

	postBudget := time.Duration((float64(plan.post)/cfg.SampleRate.Value()*1.2 + 1.0) * float64(time.Second))
	done, failure := s.wait(postBudget, func() bool {
		newest, _ := s.buf.newest()
		return newest.Count-triggerCount > int64(plan.post)
	})
	if failure == nil && !done {
		failure = errors.Wrap(ErrConnection, "sampling timeout")
	}
	_ = s.StopContinuous()

	samples := triggerWindow(s.buf.snapshot(), triggerCount, plan.pre, plan.post)
	start := triggerTime.Add(-time.Duration(float64(plan.pre) / cfg.SampleRate.Value() * float64(time.Second)))
	data := acquisition.New(samples, s.deviceInfo(), cfg, start)
	data.ReCentre(triggerIndex(samples, triggerCount, plan.post))

	if triggerCount < int64(plan.pre) {
		s.logger.Warnf("triggered too early, %d of %d pre-trigger samples available", triggerCount, plan.pre)
		res := acquisition.Result{Data: data, Outcome: acquisition.Incomplete, Err: ErrTriggeredTooEarly}
		if failure != nil {
			res.Err = failure
		}
		return res, nil
	}
	return s.classify(data, plan.pre+plan.post, failure), nil
}

// triggerIndex locates the trigger sample in window. If it was lost the position it would
// hold in a complete window is used.
func triggerIndex(window []sensor.IMUSample, trigger int64, post int) int {
	for i, s := range window {
		if s.Count == trigger {
			return i
		}
	}
	return len(window) - post
}

// triggerWindow slices the samples from count trigger-pre up to, not including, count
// trigger+post. A missing start or end falls back to the buffer bounds.
func triggerWindow(samples []sensor.IMUSample, trigger int64, pre, post int) []sensor.IMUSample {
	start, end := 0, len(samples)
	startCount, endCount := trigger-int64(pre), trigger+int64(post)
	foundStart, foundEnd := false, false
	for i, s := range samples {
		if !foundStart && s.Count == startCount {
			start, foundStart = i, true
		}
		if !foundEnd && s.Count == endCount {
			end, foundEnd = i, true
		}
	}
	if end < start {
		end = start
	}
	return samples[start:end]
}
