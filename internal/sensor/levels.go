package sensor

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Level is one selectable setting of a device parameter. Index is the value sent on the
// wire, Value the physical quantity it stands for.
type Level interface {
	Index() int
	Value() float64
}

// SampleRate is the output data rate in Hz.
type SampleRate int

const (
	Rate12_5Hz SampleRate = iota
	Rate25Hz
	Rate50Hz
	Rate100Hz
	Rate200Hz
	Rate500Hz
	Rate1000Hz
	Rate2000Hz
	Rate4000Hz
)

var sampleRateHz = [...]float64{12.5, 25, 50, 100, 200, 500, 1000, 2000, 4000}

func (r SampleRate) Index() int     { return int(r) }
func (r SampleRate) Value() float64 { return tableValue(sampleRateHz[:], int(r)) }
func (r SampleRate) String() string { return fmt.Sprintf("%g Hz", r.Value()) }

// Filter is the low pass filter corner frequency in Hz.
type Filter int

const (
	Filter42Hz Filter = iota
	Filter84Hz
	Filter126Hz
	Filter170Hz
	Filter213Hz
	Filter258Hz
	Filter303Hz
	Filter348Hz
	Filter394Hz
	Filter441Hz
	Filter488Hz
	Filter536Hz
	Filter585Hz
	Filter634Hz
	Filter684Hz
	Filter734Hz
	Filter785Hz
	Filter837Hz
	Filter890Hz
	Filter943Hz
	Filter997Hz
	Filter1051Hz
	Filter1107Hz
	Filter1163Hz
	Filter1220Hz
	Filter1277Hz
	Filter1336Hz
	Filter1395Hz
	Filter1454Hz
	Filter1515Hz
	Filter1577Hz
	Filter1639Hz
	Filter1702Hz
	Filter1766Hz
	Filter1830Hz
	Filter1896Hz
	Filter1962Hz
	Filter2029Hz
	Filter2097Hz
	Filter2166Hz
	Filter2235Hz
	Filter2306Hz
	Filter2377Hz
	Filter2449Hz
	Filter2522Hz
	Filter2596Hz
	Filter2671Hz
	Filter2746Hz
	Filter2823Hz
	Filter2900Hz
	Filter2978Hz
	Filter3057Hz
	Filter3137Hz
	Filter3217Hz
	Filter3299Hz
	Filter3381Hz
	Filter3464Hz
	Filter3548Hz
	Filter3633Hz
	Filter3718Hz
	Filter3805Hz
	Filter3892Hz
	Filter3979Hz
)

var filterHz = [...]float64{
	42, 84, 126, 170, 213, 258, 303, 348, 394, 441, 488, 536, 585, 634, 684, 734, 785, 837,
	890, 943, 997, 1051, 1107, 1163, 1220, 1277, 1336, 1395, 1454, 1515, 1577, 1639, 1702,
	1766, 1830, 1896, 1962, 2029, 2097, 2166, 2235, 2306, 2377, 2449, 2522, 2596, 2671, 2746,
	2823, 2900, 2978, 3057, 3137, 3217, 3299, 3381, 3464, 3548, 3633, 3718, 3805, 3892, 3979,
}

func (f Filter) Index() int     { return int(f) }
func (f Filter) Value() float64 { return tableValue(filterHz[:], int(f)) }
func (f Filter) String() string { return fmt.Sprintf("%g Hz", f.Value()) }

// AccRange is the accelerometer full scale in g.
type AccRange int

const (
	Acc2G AccRange = iota
	Acc4G
	Acc8G
	Acc16G
)

var accRangeG = [...]float64{2, 4, 8, 16}

func (a AccRange) Index() int     { return int(a) }
func (a AccRange) Value() float64 { return tableValue(accRangeG[:], int(a)) }
func (a AccRange) String() string { return fmt.Sprintf("%g g", a.Value()) }

// GyroRange is the gyroscope full scale in degrees per second.
type GyroRange int

const (
	Gyro15_625DPS GyroRange = iota
	Gyro31_25DPS
	Gyro62_5DPS
	Gyro125DPS
	Gyro250DPS
	Gyro500DPS
	Gyro1000DPS
	Gyro2000DPS
)

var gyroRangeDPS = [...]float64{15.625, 31.25, 62.5, 125, 250, 500, 1000, 2000}

func (g GyroRange) Index() int     { return int(g) }
func (g GyroRange) Value() float64 { return tableValue(gyroRangeDPS[:], int(g)) }
func (g GyroRange) String() string { return fmt.Sprintf("%g dps", g.Value()) }

func tableValue(table []float64, idx int) float64 {
	if idx < 0 || idx >= len(table) {
		return math.NaN()
	}
	return table[idx]
}

func levels[T ~int](n int) []T {
	res := make([]T, n)
	for i := range res {
		res[i] = T(i)
	}
	return res
}

// SampleRates, Filters, AccRanges and GyroRanges list every level in increasing order.
func SampleRates() []SampleRate { return levels[SampleRate](len(sampleRateHz)) }
func Filters() []Filter         { return levels[Filter](len(filterHz)) }
func AccRanges() []AccRange     { return levels[AccRange](len(accRangeG)) }
func GyroRanges() []GyroRange   { return levels[GyroRange](len(gyroRangeDPS)) }

const valueTolerance = 1e-5

// FromIndex returns the level with the given wire index.
func FromIndex[T Level](all []T, index int) (T, error) {
	for _, l := range all {
		if l.Index() == index {
			return l, nil
		}
	}
	var zero T
	return zero, errors.Errorf("invalid index: %d", index)
}

// FromValue returns the level whose physical value equals v.
func FromValue[T Level](all []T, v float64) (T, error) {
	for _, l := range all {
		if math.Abs(l.Value()-v) < valueTolerance {
			return l, nil
		}
	}
	var zero T
	return zero, errors.Errorf("invalid value: %g", v)
}

// FindClosest returns the level nearest to v. On a tie the first one listed wins.
func FindClosest[T Level](all []T, v float64) T {
	var closest T
	best := math.Inf(1)
	for _, l := range all {
		if d := math.Abs(l.Value() - v); d < best {
			closest, best = l, d
		}
	}
	return closest
}

// Configuration is one level per device parameter.
type Configuration struct {
	SampleRate SampleRate
	Filter     Filter
	AccRange   AccRange
	GyroRange  GyroRange
}

// DefaultConfiguration is what a session starts with before configure is called.
func DefaultConfiguration() Configuration {
	return Configuration{
		SampleRate: Rate100Hz,
		Filter:     Filter42Hz,
		AccRange:   Acc2G,
		GyroRange:  Gyro250DPS,
	}
}

// ApproxConfiguration resolves physical values to the nearest available levels.
func ApproxConfiguration(sampleRate, filter, accRange, gyroRange float64) Configuration {
	return Configuration{
		SampleRate: FindClosest(SampleRates(), sampleRate),
		Filter:     FindClosest(Filters(), filter),
		AccRange:   FindClosest(AccRanges(), accRange),
		GyroRange:  FindClosest(GyroRanges(), gyroRange),
	}
}

// Validate checks that every level is a member of its table.
func (c Configuration) Validate() error {
	if _, err := FromIndex(SampleRates(), c.SampleRate.Index()); err != nil {
		return errors.Wrap(err, "sample rate")
	}
	if _, err := FromIndex(Filters(), c.Filter.Index()); err != nil {
		return errors.Wrap(err, "filter")
	}
	if _, err := FromIndex(AccRanges(), c.AccRange.Index()); err != nil {
		return errors.Wrap(err, "acc range")
	}
	if _, err := FromIndex(GyroRanges(), c.GyroRange.Index()); err != nil {
		return errors.Wrap(err, "gyro range")
	}
	return nil
}

func (c Configuration) String() string {
	return fmt.Sprintf("data_rate = %g, filter = %g, acc_range = %g, gyro_range = %g",
		c.SampleRate.Value(), c.Filter.Value(), c.AccRange.Value(), c.GyroRange.Value())
}
