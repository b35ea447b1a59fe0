package sensor

import (
	"strings"

	"github.com/pkg/errors"
)

// Source selects which of the two IMU sensors a computation reads.
type Source int

const (
	SourceAccel Source = iota
	SourceGyro
)

func (s Source) String() string {
	if s == SourceGyro {
		return "gyro"
	}
	return "accel"
}

func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accel":
		return SourceAccel, nil
	case "gyro":
		return SourceGyro, nil
	}
	return 0, errors.Errorf("invalid source %q, must be accel or gyro", s)
}

// Axes returns the three axes of the selected source.
func (s Source) Axes(sample IMUSample) [3]float32 {
	if s == SourceGyro {
		return sample.Gyro()
	}
	return sample.Acc()
}

// Axis is a bit mask over the x, y and z axes.
type Axis uint8

const (
	AxisX Axis = 1 << iota
	AxisY
	AxisZ

	AxisAll = AxisX | AxisY | AxisZ
)

// ParseAxis accepts any non empty combination of x, y and z, each at most once, in any order.
func ParseAxis(s string) (Axis, error) {
	if s == "" {
		return 0, errors.New("axis must not be empty")
	}
	var mask Axis
	for _, c := range strings.ToLower(s) {
		var bit Axis
		switch c {
		case 'x':
			bit = AxisX
		case 'y':
			bit = AxisY
		case 'z':
			bit = AxisZ
		default:
			return 0, errors.Errorf("invalid axis %q, must be a combination of x, y and z", s)
		}
		if mask&bit != 0 {
			return 0, errors.Errorf("invalid axis %q, repeated %q", s, c)
		}
		mask |= bit
	}
	return mask, nil
}

// Has reports whether axis i (0 = x, 1 = y, 2 = z) is selected.
func (a Axis) Has(i int) bool {
	return a&(1<<uint(i)) != 0
}

func (a Axis) String() string {
	var b strings.Builder
	for i, name := range "xyz" {
		if a.Has(i) {
			b.WriteRune(name)
		}
	}
	return b.String()
}
