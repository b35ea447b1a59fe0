package picoquake

import "github.com/pkg/errors"

// PacketType is the one byte tag that follows the start delimiter of every frame.
type PacketType byte

const (
	PacketIMUData    PacketType = 0x01
	PacketStatus     PacketType = 0x02
	PacketDeviceInfo PacketType = 0x03
	PacketCommand    PacketType = 0x04
)

func (p PacketType) String() string {
	switch p {
	case PacketIMUData:
		return "IMU_DATA"
	case PacketStatus:
		return "STATUS"
	case PacketDeviceInfo:
		return "DEVICE_INFO"
	case PacketCommand:
		return "COMMAND"
	default:
		return "UNKNOWN"
	}
}

const (
	Delimiter = 0x00

	// MaxFrameLen bounds the bytes collected between two delimiters. Longer runs can only
	// come from a lost delimiter and are discarded.
	MaxFrameLen = 1024
)

// EncodeFrame builds 0x00 | type | cobs(payload) | 0x00.
func EncodeFrame(t PacketType, payload []byte) []byte {
	stuffed := cobsEncode(payload)
	out := make([]byte, 0, len(stuffed)+3)
	out = append(out, Delimiter, byte(t))
	out = append(out, stuffed...)
	return append(out, Delimiter)
}

// RawFrame is the content between two delimiters: type byte followed by the stuffed payload.
type RawFrame []byte

// Type returns the packet type tag of the frame.
func (f RawFrame) Type() PacketType {
	if len(f) == 0 {
		return 0
	}
	return PacketType(f[0])
}

// Payload removes the byte stuffing.
func (f RawFrame) Payload() ([]byte, error) {
	if len(f) < 1 {
		return nil, errors.Wrap(ErrDecode, "empty frame")
	}
	return cobsDecode(f[1:])
}

// Decoder reassembles frames from a byte stream split at arbitrary points.
// 0x00 is the only delimiter: it opens a frame when none is open, closes a non empty open
// frame, and is absorbed as a redundant start marker when the open frame is still empty.
type Decoder struct {
	receiving bool
	buf       []byte
	overruns  int
}

func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 64)}
}

// Feed consumes p and returns every frame it completed, in stream order.
func (d *Decoder) Feed(p []byte) []RawFrame {
	var frames []RawFrame
	for _, b := range p {
		if b == Delimiter {
			if !d.receiving {
				d.receiving = true
				continue
			}
			if len(d.buf) == 0 {
				continue
			}
			frame := make(RawFrame, len(d.buf))
			copy(frame, d.buf)
			frames = append(frames, frame)
			d.buf = d.buf[:0]
			d.receiving = false
			continue
		}
		if !d.receiving {
			continue
		}
		if len(d.buf) >= MaxFrameLen {
			d.overruns++
			d.buf = d.buf[:0]
			d.receiving = false
			continue
		}
		d.buf = append(d.buf, b)
	}
	return frames
}

// Overruns counts frames dropped for exceeding MaxFrameLen.
func (d *Decoder) Overruns() int {
	return d.overruns
}

// Reset drops any partially received frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.receiving = false
}
