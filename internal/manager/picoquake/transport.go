package picoquake

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/sensor/picoquake"
)

// transport owns the serial port. Each loop iteration reads whatever arrived within the
// port read timeout, then writes at most one queued command frame.
type transport struct {
	open   func() (picoquake.Port, error)
	in     chan<- sensor.Message
	out    <-chan []byte
	logger *log.Entry
}

func (t *transport) run(ctx context.Context) error {
	t.logger.Debugln("connecting...")
	port, err := t.open()
	if err != nil {
		return errors.Wrapf(ErrConnection, "could not connect: %v", err)
	}
	defer port.Close()

	dec := picoquake.NewDecoder()
	chunk := make([]byte, readChunkLen)
	for {
		select {
		case <-ctx.Done():
			return t.flush(port)
		default:
		}

		n, err := port.Read(chunk)
		if err != nil {
			return errors.Wrapf(ErrConnection, "connection lost, port closed: %v", err)
		}
		for _, f := range dec.Feed(chunk[:n]) {
			msg, err := picoquake.ParseFrame(f)
			if err != nil {
				t.logger.Errorf("decode error: %v", err)
				continue
			}
			select {
			case t.in <- msg:
			case <-ctx.Done():
				return t.flush(port)
			}
		}

		select {
		case frame := <-t.out:
			if _, err := port.Write(frame); err != nil {
				return errors.Wrapf(ErrConnection, "write: %v", err)
			}
		default:
		}
	}
}

// flush writes the frames still queued so a final stop command reaches the device.
func (t *transport) flush(port picoquake.Port) error {
	for {
		select {
		case frame := <-t.out:
			if _, err := port.Write(frame); err != nil {
				return errors.Wrapf(ErrConnection, "write: %v", err)
			}
		default:
			return nil
		}
	}
}
