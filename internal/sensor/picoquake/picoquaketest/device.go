// Package picoquaketest provides an in-memory serial port backed by a simulated device.
package picoquaketest

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/sensor/picoquake"
)

// DefaultUniqueID has the short id C6E3.
var DefaultUniqueID = []byte{0xE6, 0x63, 0x68, 0x25, 0x4F, 0x89, 0xA2, 0x25}

const DefaultFirmware = "1.0.2"

// Behaviour tweaks how the simulated device answers. The zero value is a healthy device.
type Behaviour struct {
	// NoHandshake ignores HANDSHAKE commands.
	NoHandshake bool
	// Silent stops status reports after the handshake.
	Silent bool
	// StopAfter ends a run after this many samples, as if samples were lost. Zero disables.
	StopAfter uint64
	// GapAt skips GapLen counts once the count reaches GapAt. The number of samples sent
	// is unchanged, only the counter jumps.
	GapAt  int64
	GapLen int64
	// ErrorCode, when set, is reported in an error status right after sampling starts.
	ErrorCode uint32
	// Signal produces the sample for a count. Nil sends zeros.
	Signal func(count int64) sensor.IMUSample
	// PerTick is the number of samples sent per tick. Defaults to 5.
	PerTick int
	// Tick is the simulation period. Defaults to 1ms.
	Tick time.Duration
	// StatusEvery is the status report period. Defaults to 20ms.
	StatusEvery time.Duration
}

// Device simulates the firmware on the other end of a Port.
type Device struct {
	b        Behaviour
	uniqueID []byte

	mu       sync.Mutex
	rx       bytes.Buffer
	closed   bool
	dec      *picoquake.Decoder
	commands []picoquake.Command
	state    sensor.State
	count    int64
	sent     uint64
	limit    uint64
	gapped   bool
	info     bool

	stop chan struct{}
	once sync.Once
}

// NewDevice starts a simulated device. Close stops it.
func NewDevice(b Behaviour) *Device {
	if b.PerTick <= 0 {
		b.PerTick = 5
	}
	if b.Tick <= 0 {
		b.Tick = time.Millisecond
	}
	if b.StatusEvery <= 0 {
		b.StatusEvery = 20 * time.Millisecond
	}
	d := &Device{
		b:        b,
		uniqueID: DefaultUniqueID,
		dec:      picoquake.NewDecoder(),
		stop:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Info is the identity the device answers the handshake with.
func (d *Device) Info() sensor.DeviceInfo {
	return sensor.NewDeviceInfo(d.uniqueID, DefaultFirmware)
}

// Open returns the host side of the connection. It fits Options.Open of a session.
func (d *Device) Open() (picoquake.Port, error) {
	return &port{d: d}, nil
}

// Commands returns the commands received so far.
func (d *Device) Commands() []picoquake.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]picoquake.Command(nil), d.commands...)
}

// Received reports whether a command with id arrived.
func (d *Device) Received(id picoquake.CommandID) bool {
	for _, c := range d.Commands() {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (d *Device) State() sensor.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Unplug makes every further port read fail.
func (d *Device) Unplug() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Close stops the simulation.
func (d *Device) Close() {
	d.once.Do(func() { close(d.stop) })
}

func (d *Device) run() {
	tick := time.NewTicker(d.b.Tick)
	defer tick.Stop()
	status := time.NewTicker(d.b.StatusEvery)
	defer status.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-status.C:
			d.mu.Lock()
			if d.info && !d.b.Silent {
				d.sendStatus()
			}
			d.mu.Unlock()
		case <-tick.C:
			d.mu.Lock()
			d.sample()
			d.mu.Unlock()
		}
	}
}

// sample must be called with the lock held.
func (d *Device) sample() {
	if d.state != sensor.StateSampling {
		return
	}
	for i := 0; i < d.b.PerTick; i++ {
		if (d.limit > 0 && d.sent >= d.limit) || (d.b.StopAfter > 0 && d.sent >= d.b.StopAfter) {
			d.state = sensor.StateIdle
			d.sendStatus()
			return
		}
		if d.b.GapLen > 0 && !d.gapped && d.count >= d.b.GapAt {
			d.count += d.b.GapLen
			d.gapped = true
		}
		s := sensor.IMUSample{Count: d.count}
		if d.b.Signal != nil {
			s = d.b.Signal(d.count)
			s.Count = d.count
		}
		d.rx.Write(picoquake.EncodeIMUSample(s))
		d.count++
		d.sent++
	}
}

// sendStatus must be called with the lock held.
func (d *Device) sendStatus() {
	st := sensor.Status{State: d.state, Temperature: 24.5}
	if d.state == sensor.StateError {
		st.ErrorCode = d.b.ErrorCode
	}
	d.rx.Write(picoquake.EncodeStatus(st))
}

func (d *Device) receive(p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.dec.Feed(p) {
		cmd, err := picoquake.DecodeCommand(f)
		if err != nil {
			continue
		}
		d.commands = append(d.commands, cmd)
		switch cmd.ID {
		case picoquake.CmdHandshake:
			if !d.b.NoHandshake {
				d.info = true
				d.rx.Write(picoquake.EncodeDeviceInfo(d.uniqueID, DefaultFirmware))
			}
		case picoquake.CmdStartSampling:
			d.count, d.sent, d.gapped = 0, 0, false
			d.limit = cmd.NumToSample
			d.state = sensor.StateSampling
			if d.b.ErrorCode != 0 {
				d.state = sensor.StateError
			}
			if !d.b.Silent {
				d.sendStatus()
			}
		case picoquake.CmdStopSampling:
			d.state = sensor.StateIdle
			if !d.b.Silent {
				d.sendStatus()
			}
		}
	}
}

// port is the host end. Reads time out after readTimeout like a real serial port.
type port struct {
	d *Device
}

const readTimeout = 2 * time.Millisecond

func (p *port) Read(b []byte) (int, error) {
	deadline := time.Now().Add(readTimeout)
	for {
		p.d.mu.Lock()
		if p.d.closed {
			p.d.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if p.d.rx.Len() > 0 {
			n, _ := p.d.rx.Read(b)
			p.d.mu.Unlock()
			return n, nil
		}
		p.d.mu.Unlock()
		if time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func (p *port) Write(b []byte) (int, error) {
	p.d.mu.Lock()
	closed := p.d.closed
	p.d.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	p.d.receive(b)
	return len(b), nil
}

func (p *port) ResetInputBuffer() error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	p.d.rx.Reset()
	return nil
}

func (p *port) Close() error {
	return nil
}
