package acquisition

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/utils"
)

// Data is the complete result of one acquisition.
type Data struct {
	Samples   []sensor.IMUSample
	Device    sensor.DeviceInfo
	Config    sensor.Configuration
	StartTime time.Time

	// CSVPath is set when the data was loaded from or saved to a file.
	CSVPath string
}

// New copies samples so later changes to the source buffer do not leak in.
func New(samples []sensor.IMUSample, device sensor.DeviceInfo, config sensor.Configuration, start time.Time) *Data {
	cp := make([]sensor.IMUSample, len(samples))
	copy(cp, samples)
	return &Data{
		Samples:   cp,
		Device:    device,
		Config:    config,
		StartTime: start,
	}
}

func (d *Data) NumSamples() int {
	return len(d.Samples)
}

// Duration is num_samples / sample_rate.
func (d *Data) Duration() time.Duration {
	return time.Duration(d.DurationSeconds() * float64(time.Second))
}

func (d *Data) DurationSeconds() float64 {
	return float64(len(d.Samples)) / d.Config.SampleRate.Value()
}

// SkippedSamples counts the samples missing from the count sequence.
func (d *Data) SkippedSamples() int64 {
	if len(d.Samples) == 0 {
		return 0
	}
	var skipped int64
	last := d.Samples[0].Count
	for _, s := range d.Samples {
		if diff := s.Count - last; diff > 1 {
			skipped += diff - 1
		}
		last = s.Count
	}
	return skipped
}

func (d *Data) Integrity() bool {
	return d.SkippedSamples() == 0
}

// ReCentre shifts every count so that the sample at index has count zero. index is clamped
// to the valid range.
func (d *Data) ReCentre(index int) {
	if len(d.Samples) == 0 {
		return
	}
	index = min(max(0, index), len(d.Samples)-1)
	first := d.Samples[index].Count
	for i := range d.Samples {
		d.Samples[i].Count -= first
	}
}

// FileName is the default CSV name: short id and start time.
func (d *Data) FileName() string {
	return utils.TimestampedName(strings.ToUpper(d.Device.ShortID()), d.StartTime, "csv")
}

// Filename returns the base name of CSVPath, empty when the data has no file.
func (d *Data) Filename() string {
	if d.CSVPath == "" {
		return ""
	}
	return filepath.Base(d.CSVPath)
}

func (d *Data) String() string {
	return fmt.Sprintf("device = %s, start_time = %s, num_samples = %d, duration = %.2fs, skipped = %d",
		d.Device.ShortID(), d.StartTime.Format(timeLayout), d.NumSamples(), d.DurationSeconds(), d.SkippedSamples())
}
