package manager

import (
	"context"

	"github.com/PLab-SI/PicoQuake/internal/acquisition"
	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/sensor/picoquake"
)

// Manager keeps a device connection alive for long running services.
type Manager interface {
	Start() error
	Stop() error
	Restart() error
	Read(int64) (int64, []sensor.IMUSample, error)
	ReadLast() (sensor.IMUSample, error)
	Status() (sensor.Status, error)
	Info() (sensor.DeviceInfo, error)
	Config() sensor.Configuration
	Acquire(seconds float64, numSamples int) (acquisition.Result, error)
	Trigger(ctx context.Context, opt TriggerOpt) (acquisition.Result, error)
	Subscribe() (chan interface{}, error)
	Unsubscribe(chan interface{})
	Running() bool
	ManuallyStopped() bool
	Faulted() bool
	ListDev() ([]picoquake.PortInfo, error)
	TrySleep() error
}

// TriggerOpt mirrors the trigger parameters accepted by a device session.
type TriggerOpt struct {
	Threshold   float64
	PreSeconds  float64
	PostSeconds float64
	Source      sensor.Source
	Axis        sensor.Axis
	RMSWindow   float64
}
