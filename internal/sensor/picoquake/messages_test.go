package picoquake

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

func decodeOne(t *testing.T, frame []byte) sensor.Message {
	t.Helper()
	frames := NewDecoder().Feed(frame)
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}
	msg, err := ParseFrame(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestIMUSampleWire(t *testing.T) {
	want := sensor.IMUSample{Count: 1<<40 + 3, AccX: 0.5, AccY: -1.25, AccZ: 9.81, GyroX: 100, GyroY: -0.001, GyroZ: 0}
	msg := decodeOne(t, EncodeIMUSample(want))
	got, ok := msg.(sensor.IMUSample)
	if !ok {
		t.Fatalf("message type %T", msg)
	}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestIMUSampleWrongLength(t *testing.T) {
	frames := NewDecoder().Feed(EncodeFrame(PacketIMUData, make([]byte, 20)))
	if _, err := ParseFrame(frames[0]); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v", err)
	}
}

func TestStatusWire(t *testing.T) {
	for _, want := range []sensor.Status{
		{},
		{State: sensor.StateSampling, Temperature: 31.5, MissedSamples: 12},
		{State: sensor.StateError, Temperature: -4, ErrorCode: 1},
	} {
		got, ok := decodeOne(t, EncodeStatus(want)).(sensor.Status)
		if !ok || got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDeviceInfoWire(t *testing.T) {
	id := []byte{0xe6, 0x63, 0x68, 0x25, 0x4f, 0x89, 0xa2, 0x25}
	got, ok := decodeOne(t, EncodeDeviceInfo(id, "1.2.0")).(sensor.DeviceInfo)
	if !ok {
		t.Fatal("not a device info")
	}
	if got.UniqueID != "E66368254F89A225" || got.Firmware != "1.2.0" || got.ShortID() != "C6E3" {
		t.Fatalf("got %+v", got)
	}
}

func TestCommandWire(t *testing.T) {
	cfg := sensor.Configuration{
		SampleRate: sensor.Rate1000Hz,
		Filter:     sensor.Filter213Hz,
		AccRange:   sensor.Acc16G,
		GyroRange:  sensor.Gyro2000DPS,
	}
	cmds := []Command{
		{ID: CmdHandshake},
		{ID: CmdStopSampling},
		NewStartCommand(cfg, 1000),
		NewStartCommand(sensor.DefaultConfiguration(), 0),
	}
	for _, want := range cmds {
		frames := NewDecoder().Feed(want.Encode())
		if len(frames) != 1 {
			t.Fatalf("got %d frames", len(frames))
		}
		got, err := DecodeCommand(frames[0])
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
	start := NewStartCommand(cfg, 1000)
	if start.DataRate != 6 || start.Filter != 4 || start.AccRange != 3 || start.GyroRange != 7 {
		t.Fatalf("indices %+v", start)
	}
}

func TestParseFrameRejectsCommand(t *testing.T) {
	frames := NewDecoder().Feed(Command{ID: CmdHandshake}.Encode())
	if _, err := ParseFrame(frames[0]); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v", err)
	}
}

func TestStatusSkipsUnknownFields(t *testing.T) {
	// field 9 varint 5, then state = 1
	payload := []byte{0x48, 0x05, 0x08, 0x01}
	frames := NewDecoder().Feed(EncodeFrame(PacketStatus, payload))
	msg, err := ParseFrame(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	if s := msg.(sensor.Status); s.State != sensor.StateSampling {
		t.Fatalf("state = %v", s.State)
	}
}

func TestStatusUnknownState(t *testing.T) {
	// state = 3
	frames := NewDecoder().Feed(EncodeFrame(PacketStatus, []byte{0x08, 0x03}))
	if _, err := ParseFrame(frames[0]); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestStatusTruncated(t *testing.T) {
	frames := NewDecoder().Feed(EncodeFrame(PacketStatus, []byte{0x15, 0x01}))
	if _, err := ParseFrame(frames[0]); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v", err)
	}
}
