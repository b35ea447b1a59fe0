package picoquake

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

// IMUDataLen is the size of the little endian IMU_DATA payload: u64 count + 6 x f32.
const IMUDataLen = 8 + 6*4

// CommandID selects what a COMMAND packet asks the device to do.
type CommandID uint32

const (
	CmdHandshake CommandID = iota
	CmdStartSampling
	CmdStopSampling
)

func (c CommandID) String() string {
	switch c {
	case CmdHandshake:
		return "HANDSHAKE"
	case CmdStartSampling:
		return "START_SAMPLING"
	case CmdStopSampling:
		return "STOP_SAMPLING"
	default:
		return "UNKNOWN"
	}
}

// Command is the only outbound message. The level indices and NumToSample are only
// meaningful for CmdStartSampling; NumToSample 0 samples until stopped.
type Command struct {
	ID          CommandID
	Filter      uint32
	DataRate    uint32
	AccRange    uint32
	GyroRange   uint32
	NumToSample uint64
}

// NewStartCommand builds a START_SAMPLING command for the given configuration.
func NewStartCommand(cfg sensor.Configuration, numToSample uint64) Command {
	return Command{
		ID:          CmdStartSampling,
		Filter:      uint32(cfg.Filter.Index()),
		DataRate:    uint32(cfg.SampleRate.Index()),
		AccRange:    uint32(cfg.AccRange.Index()),
		GyroRange:   uint32(cfg.GyroRange.Index()),
		NumToSample: numToSample,
	}
}

// protobuf field numbers
const (
	fieldStatusState         protowire.Number = 1
	fieldStatusTemperature   protowire.Number = 2
	fieldStatusMissedSamples protowire.Number = 3
	fieldStatusErrorCode     protowire.Number = 4

	fieldInfoUniqueID protowire.Number = 1
	fieldInfoFirmware protowire.Number = 2

	fieldCmdID          protowire.Number = 1
	fieldCmdFilter      protowire.Number = 2
	fieldCmdDataRate    protowire.Number = 3
	fieldCmdAccRange    protowire.Number = 4
	fieldCmdGyroRange   protowire.Number = 5
	fieldCmdNumToSample protowire.Number = 6
)

// Encode serializes the command into a complete frame ready to be written to the port.
func (c Command) Encode() []byte {
	var b []byte
	b = appendVarintField(b, fieldCmdID, uint64(c.ID))
	b = appendVarintField(b, fieldCmdFilter, uint64(c.Filter))
	b = appendVarintField(b, fieldCmdDataRate, uint64(c.DataRate))
	b = appendVarintField(b, fieldCmdAccRange, uint64(c.AccRange))
	b = appendVarintField(b, fieldCmdGyroRange, uint64(c.GyroRange))
	b = appendVarintField(b, fieldCmdNumToSample, c.NumToSample)
	return EncodeFrame(PacketCommand, b)
}

// proto3 leaves zero valued scalars off the wire
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// EncodeStatus frames a status message the way the firmware does.
func EncodeStatus(s sensor.Status) []byte {
	var b []byte
	b = appendVarintField(b, fieldStatusState, uint64(s.State))
	if s.Temperature != 0 {
		b = protowire.AppendTag(b, fieldStatusTemperature, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(s.Temperature))
	}
	b = appendVarintField(b, fieldStatusMissedSamples, uint64(s.MissedSamples))
	b = appendVarintField(b, fieldStatusErrorCode, uint64(s.ErrorCode))
	return EncodeFrame(PacketStatus, b)
}

// EncodeDeviceInfo frames a device info message the way the firmware does.
func EncodeDeviceInfo(uniqueID []byte, firmware string) []byte {
	var b []byte
	b = appendBytesField(b, fieldInfoUniqueID, uniqueID)
	b = appendBytesField(b, fieldInfoFirmware, []byte(firmware))
	return EncodeFrame(PacketDeviceInfo, b)
}

// EncodeIMUSample frames a sample as the fixed little endian struct.
func EncodeIMUSample(s sensor.IMUSample) []byte {
	b := make([]byte, IMUDataLen)
	binary.LittleEndian.PutUint64(b[0:], uint64(s.Count))
	for i, v := range [6]float32{s.AccX, s.AccY, s.AccZ, s.GyroX, s.GyroY, s.GyroZ} {
		binary.LittleEndian.PutUint32(b[8+4*i:], math.Float32bits(v))
	}
	return EncodeFrame(PacketIMUData, b)
}

// ParseFrame removes the stuffing and decodes the payload according to the frame type.
func ParseFrame(f RawFrame) (sensor.Message, error) {
	payload, err := f.Payload()
	if err != nil {
		return nil, err
	}
	switch f.Type() {
	case PacketIMUData:
		return decodeIMUSample(payload)
	case PacketStatus:
		return decodeStatus(payload)
	case PacketDeviceInfo:
		return decodeDeviceInfo(payload)
	default:
		return nil, errors.Wrapf(ErrDecode, "unexpected packet type 0x%02X", byte(f.Type()))
	}
}

func decodeIMUSample(b []byte) (sensor.IMUSample, error) {
	if len(b) != IMUDataLen {
		return sensor.IMUSample{}, errors.Wrapf(ErrDecode, "imu payload is %d bytes, want %d", len(b), IMUDataLen)
	}
	f := func(i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(b[8+4*i:]))
	}
	return sensor.IMUSample{
		Count: int64(binary.LittleEndian.Uint64(b[0:])),
		AccX:  f(0),
		AccY:  f(1),
		AccZ:  f(2),
		GyroX: f(3),
		GyroY: f(4),
		GyroZ: f(5),
	}, nil
}

// skipField is returned by walkFields callbacks for fields they do not consume.
const skipField = -1 << 20

// walkFields calls fn for every field in a protobuf message. fn returns the number of
// bytes it consumed from b, or skipField.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrDecode, protowire.ParseError(n).Error())
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m == skipField {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return errors.Wrapf(ErrDecode, "field %d: %v", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeUint(typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return skipField
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func decodeStatus(b []byte) (sensor.Status, error) {
	var s sensor.Status
	var state, missed, code uint64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case fieldStatusState:
			return consumeUint(typ, b, &state)
		case fieldStatusMissedSamples:
			return consumeUint(typ, b, &missed)
		case fieldStatusErrorCode:
			return consumeUint(typ, b, &code)
		case fieldStatusTemperature:
			if typ != protowire.Fixed32Type {
				return skipField
			}
			v, n := protowire.ConsumeFixed32(b)
			if n >= 0 {
				s.Temperature = math.Float32frombits(v)
			}
			return n
		}
		return skipField
	})
	if err != nil {
		return sensor.Status{}, errors.Wrap(err, "status")
	}
	if state > uint64(sensor.StateError) {
		return sensor.Status{}, errors.Wrapf(ErrDecode, "status: unknown state %d", state)
	}
	s.State = sensor.State(state)
	s.MissedSamples = uint32(missed)
	s.ErrorCode = uint32(code)
	return s, nil
}

func decodeDeviceInfo(b []byte) (sensor.DeviceInfo, error) {
	var uniqueID, firmware []byte
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType {
			return skipField
		}
		switch num {
		case fieldInfoUniqueID, fieldInfoFirmware:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			if num == fieldInfoUniqueID {
				uniqueID = append([]byte(nil), v...)
			} else {
				firmware = append([]byte(nil), v...)
			}
			return n
		}
		return skipField
	})
	if err != nil {
		return sensor.DeviceInfo{}, errors.Wrap(err, "device info")
	}
	return sensor.NewDeviceInfo(uniqueID, string(firmware)), nil
}

// DecodeCommand parses the payload of a COMMAND frame. The host never receives commands;
// this exists for device simulators and tooling.
func DecodeCommand(f RawFrame) (Command, error) {
	if f.Type() != PacketCommand {
		return Command{}, errors.Wrapf(ErrDecode, "not a command frame: %s", f.Type())
	}
	payload, err := f.Payload()
	if err != nil {
		return Command{}, err
	}
	var id, filter, rate, acc, gyro, num uint64
	err = walkFields(payload, func(n protowire.Number, typ protowire.Type, b []byte) int {
		switch n {
		case fieldCmdID:
			return consumeUint(typ, b, &id)
		case fieldCmdFilter:
			return consumeUint(typ, b, &filter)
		case fieldCmdDataRate:
			return consumeUint(typ, b, &rate)
		case fieldCmdAccRange:
			return consumeUint(typ, b, &acc)
		case fieldCmdGyroRange:
			return consumeUint(typ, b, &gyro)
		case fieldCmdNumToSample:
			return consumeUint(typ, b, &num)
		}
		return skipField
	})
	if err != nil {
		return Command{}, errors.Wrap(err, "command")
	}
	return Command{
		ID:          CommandID(id),
		Filter:      uint32(filter),
		DataRate:    uint32(rate),
		AccRange:    uint32(acc),
		GyroRange:   uint32(gyro),
		NumToSample: num,
	}, nil
}
