package sensor

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// State is the sampling state reported by the device in its status frames.
type State uint32

const (
	StateIdle State = iota
	StateSampling
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSampling:
		return "SAMPLING"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("STATE(%d)", uint32(s))
	}
}

// Message is one decoded inbound packet: IMUSample, Status or DeviceInfo.
type Message interface {
	isMessage()
}

// IMUSample is a single accelerometer + gyroscope reading.
// Count is the device side sample counter, reset on every start of sampling. It travels as
// an unsigned 64 bit value; re-centred acquisitions make it negative before the reference.
type IMUSample struct {
	Count int64
	AccX  float32
	AccY  float32
	AccZ  float32
	GyroX float32
	GyroY float32
	GyroZ float32
}

func (IMUSample) isMessage() {}

func (s IMUSample) String() string {
	return fmt.Sprintf("cnt = %d, a_x = %+.2f, a_y = %+.2f, a_z = %+.2f, g_x = %+.2f, g_y = %+.2f, g_z = %+.2f",
		s.Count, s.AccX, s.AccY, s.AccZ, s.GyroX, s.GyroY, s.GyroZ)
}

// Acc returns the accelerometer axes as an array indexed x, y, z.
func (s IMUSample) Acc() [3]float32 {
	return [3]float32{s.AccX, s.AccY, s.AccZ}
}

// Gyro returns the gyroscope axes as an array indexed x, y, z.
func (s IMUSample) Gyro() [3]float32 {
	return [3]float32{s.GyroX, s.GyroY, s.GyroZ}
}

type Status struct {
	State         State
	Temperature   float32
	MissedSamples uint32
	ErrorCode     uint32
}

func (Status) isMessage() {}

func (s Status) String() string {
	return fmt.Sprintf("state = %s, temp = %+.2f, missed = %d, error = %d",
		s.State, s.Temperature, s.MissedSamples, s.ErrorCode)
}

// DeviceInfo identifies a connected device. UniqueID is uppercase hex.
type DeviceInfo struct {
	UniqueID string
	Firmware string
}

func (DeviceInfo) isMessage() {}

// NewDeviceInfo builds a DeviceInfo from the raw unique id bytes sent by the device.
func NewDeviceInfo(uniqueID []byte, firmware string) DeviceInfo {
	return DeviceInfo{
		UniqueID: strings.ToUpper(hex.EncodeToString(uniqueID)),
		Firmware: firmware,
	}
}

// ShortID is the 4 character fingerprint printed on the device label.
func (d DeviceInfo) ShortID() string {
	return UniqueIDToShortID(d.UniqueID)
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("device_id = %s, short_id = %s, firmware = %s",
		strings.ToUpper(d.UniqueID), d.ShortID(), d.Firmware)
}

// UniqueIDToShortID hashes the unique id string with a 2 byte BLAKE2b digest.
func UniqueIDToShortID(uniqueID string) string {
	h, err := blake2b.New(2, nil)
	if err != nil {
		// size 2 with no key is always valid
		panic(err)
	}
	h.Write([]byte(uniqueID))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}
