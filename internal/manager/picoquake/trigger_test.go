package picoquake

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/PLab-SI/PicoQuake/internal/acquisition"
	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/sensor/picoquake/picoquaketest"
)

func countsFrom(first, n int64) []sensor.IMUSample {
	out := make([]sensor.IMUSample, n)
	for i := range out {
		out[i].Count = first + int64(i)
	}
	return out
}

func TestTriggerWindow(t *testing.T) {
	buf := countsFrom(0, 200)
	const trigger, pre, post = 120, 20, 30

	w := triggerWindow(buf, trigger, pre, post)
	if len(w) != pre+post {
		t.Fatalf("window has %d samples, want %d", len(w), pre+post)
	}
	if w[0].Count != trigger-pre {
		t.Errorf("first count = %d, want %d", w[0].Count, trigger-pre)
	}
	if w[len(w)-1].Count != trigger+post-1 {
		t.Errorf("last count = %d, want %d", w[len(w)-1].Count, trigger+post-1)
	}
	if w[len(w)-post].Count != trigger {
		t.Errorf("sample at length-post has count %d, want the trigger", w[len(w)-post].Count)
	}

	d := acquisition.New(w, sensor.DeviceInfo{}, sensor.DefaultConfiguration(), time.Now())
	d.ReCentre(len(w) - post)
	if d.Samples[len(w)-post].Count != 0 {
		t.Errorf("trigger sample count = %d after re-centre", d.Samples[len(w)-post].Count)
	}
	if d.Samples[0].Count != -pre {
		t.Errorf("first count = %d after re-centre, want %d", d.Samples[0].Count, -pre)
	}
}

func TestTriggerWindowBounds(t *testing.T) {
	buf := countsFrom(100, 50)

	// start before the buffer falls back to the buffer start
	w := triggerWindow(buf, 105, 20, 10)
	if w[0].Count != 100 || w[len(w)-1].Count != 114 {
		t.Errorf("window = [%d, %d], want [100, 114]", w[0].Count, w[len(w)-1].Count)
	}

	// end past the buffer falls back to the buffer end
	w = triggerWindow(buf, 140, 5, 30)
	if w[0].Count != 135 || w[len(w)-1].Count != 149 {
		t.Errorf("window = [%d, %d], want [135, 149]", w[0].Count, w[len(w)-1].Count)
	}

	if w := triggerWindow(nil, 10, 1, 1); len(w) != 0 {
		t.Errorf("empty buffer gave %d samples", len(w))
	}
}

func TestTriggerValidation(t *testing.T) {
	cfg := sensor.DefaultConfiguration()
	valid := TriggerOpts{Threshold: 0.1, PreSeconds: 1, PostSeconds: 2, Source: sensor.SourceAccel, Axis: sensor.AxisX, RMSWindow: 0.5}
	p, err := valid.plan(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p != (triggerPlan{window: 50, pre: 100, post: 200}) {
		t.Errorf("plan = %+v", p)
	}

	cases := map[string]func(o *TriggerOpts){
		"zero threshold":  func(o *TriggerOpts) { o.Threshold = 0 },
		"bad source":      func(o *TriggerOpts) { o.Source = 5 },
		"empty axis":      func(o *TriggerOpts) { o.Axis = 0 },
		"unknown axis":    func(o *TriggerOpts) { o.Axis = 8 },
		"negative pre":    func(o *TriggerOpts) { o.PreSeconds = -1 },
		"negative post":   func(o *TriggerOpts) { o.PostSeconds = -1 },
		"window too tiny": func(o *TriggerOpts) { o.RMSWindow = 0.001 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := valid
			mutate(&o)
			if _, err := o.plan(cfg); !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

// stepSignal is quiet before count from and oscillates by amp afterwards.
func stepSignal(from int64, amp float32) func(int64) sensor.IMUSample {
	return func(c int64) sensor.IMUSample {
		s := sensor.IMUSample{AccZ: 1}
		if c >= from {
			if c%2 == 0 {
				s.AccX = amp
			} else {
				s.AccX = -amp
			}
		}
		return s
	}
}

func TestTrigger(t *testing.T) {
	s, _ := openTest(t, picoquaketest.Behaviour{Signal: stepSignal(150, 1)})

	var fired float64
	res, err := s.Trigger(context.Background(), TriggerOpts{
		Threshold:   0.5,
		PreSeconds:  0.5,
		PostSeconds: 0.3,
		Source:      sensor.SourceAccel,
		Axis:        sensor.AxisX,
		RMSWindow:   0.1,
		OnTrigger:   func(rms float64) { fired = rms },
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("result: %s %v", res.Outcome, res.Err)
	}
	if fired <= 0.5 {
		t.Errorf("callback got rms %g", fired)
	}
	if s.Continuous() {
		t.Error("continuous mode left on")
	}

	const pre, post = 50, 30
	d := res.Data
	if d.NumSamples() != pre+post {
		t.Fatalf("got %d samples, want %d", d.NumSamples(), pre+post)
	}
	if d.Samples[d.NumSamples()-post].Count != 0 {
		t.Errorf("trigger sample count = %d, want 0", d.Samples[d.NumSamples()-post].Count)
	}
	if d.Samples[0].Count != -pre {
		t.Errorf("first count = %d, want %d", d.Samples[0].Count, -pre)
	}
	if !d.Integrity() {
		t.Errorf("%d samples skipped", d.SkippedSamples())
	}
	// the window ends after the step, so the trigger sample is in the oscillation
	var quiet, loud int
	for _, sample := range d.Samples {
		if sample.AccX == 0 {
			quiet++
		} else {
			loud++
		}
	}
	if quiet == 0 || loud == 0 {
		t.Errorf("window has %d quiet and %d loud samples, want both", quiet, loud)
	}
}

func TestTriggerTooEarly(t *testing.T) {
	s, _ := openTest(t, picoquaketest.Behaviour{Signal: stepSignal(0, 1)})
	res, err := s.Trigger(context.Background(), TriggerOpts{
		Threshold:   0.5,
		PreSeconds:  1,
		PostSeconds: 0.1,
		Source:      sensor.SourceAccel,
		Axis:        sensor.AxisAll,
		RMSWindow:   0.05,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != acquisition.Incomplete {
		t.Errorf("outcome = %s, want incomplete", res.Outcome)
	}
	if !errors.Is(res.Err, ErrTriggeredTooEarly) || !errors.Is(res.Err, ErrIncomplete) {
		t.Errorf("err = %v, want triggered too early", res.Err)
	}
}

func TestTriggerWhileContinuous(t *testing.T) {
	s, _ := openTest(t, picoquaketest.Behaviour{})
	if err := s.StartContinuous(); err != nil {
		t.Fatal(err)
	}
	_, err := s.Trigger(context.Background(), TriggerOpts{Threshold: 1, Source: sensor.SourceGyro, Axis: sensor.AxisZ, RMSWindow: 1})
	if !errors.Is(err, ErrContinuousActive) {
		t.Fatalf("err = %v, want continuous active", err)
	}
}

func TestTriggerIndex(t *testing.T) {
	w := countsFrom(100, 30)
	if i := triggerIndex(w, 110, 20); i != 10 {
		t.Errorf("index = %d, want 10", i)
	}
	// a short post capture leaves fewer than post samples after the trigger
	if i := triggerIndex(w[:15], 110, 20); i != 10 {
		t.Errorf("index in short window = %d, want 10", i)
	}
	if i := triggerIndex(w, 500, 20); i != 10 {
		t.Errorf("fallback index = %d, want 10", i)
	}
}

func TestTriggerShortPostCapture(t *testing.T) {
	s, _ := openTest(t, picoquaketest.Behaviour{Signal: stepSignal(150, 1), StopAfter: 175})

	res, err := s.Trigger(context.Background(), TriggerOpts{
		Threshold:   0.5,
		PreSeconds:  0.5,
		PostSeconds: 0.3,
		Source:      sensor.SourceAccel,
		Axis:        sensor.AxisX,
		RMSWindow:   0.1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != acquisition.Incomplete {
		t.Fatalf("outcome = %s, want incomplete", res.Outcome)
	}

	const pre, post = 50, 30
	d := res.Data
	if n := d.NumSamples(); n <= pre || n >= pre+post {
		t.Fatalf("got %d samples, want between %d and %d", n, pre, pre+post)
	}
	if d.Samples[0].Count != -pre {
		t.Errorf("first count = %d, want %d", d.Samples[0].Count, -pre)
	}
	if d.Samples[pre].Count != 0 {
		t.Errorf("trigger sample count = %d, want 0", d.Samples[pre].Count)
	}
	if d.Samples[pre].AccX == 0 {
		t.Error("trigger sample is before the step")
	}
	if last := d.Samples[d.NumSamples()-1].Count; last >= post {
		t.Errorf("last count = %d, want below %d", last, post)
	}
}
