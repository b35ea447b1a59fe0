package picoquake

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	tarm "github.com/tarm/serial"
	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

// USB identifiers of the device.
const (
	VID = 0x2E8A
	PID = 0x000A
)

const DefaultBaudRate = 115200

// DefaultReadTimeout is the polling quantum of the transport: a read returns after at
// most this long even if no byte arrived.
const DefaultReadTimeout = 10 * time.Millisecond

const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
)

// Port is an open 8N1 serial connection. Read returns (0, nil) when the read timeout
// expires without data.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

type PortOpt struct {
	Name        string
	Driver      string
	Baud        int
	ReadTimeout time.Duration
}

// OpenPort opens opt.Name with the selected driver and clears stale input.
func OpenPort(opt PortOpt) (Port, error) {
	if opt.Name == "" {
		return nil, errors.New("empty port name")
	}
	if opt.Baud <= 0 {
		opt.Baud = DefaultBaudRate
	}
	if opt.ReadTimeout <= 0 {
		opt.ReadTimeout = DefaultReadTimeout
	}
	var (
		p   Port
		err error
	)
	switch opt.Driver {
	case "", DriverBugst:
		p, err = openBugst(opt)
	case DriverTarm:
		p, err = openTarm(opt)
	default:
		return nil, errors.Errorf("unknown serial driver %q", opt.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, errors.Wrapf(err, "reset input buffer of %s", opt.Name)
	}
	log.Debugf("opened %s (driver=%s, baud=%d)", opt.Name, opt.Driver, opt.Baud)
	return p, nil
}

type bugstPort struct {
	bugst.Port
}

func openBugst(opt PortOpt) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: opt.Baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	port, err := bugst.Open(opt.Name, mode)
	if err != nil {
		var portErr *bugst.PortError
		if errors.As(err, &portErr) && portErr.Code() == bugst.PermissionDenied {
			return nil, errors.Wrapf(err, "permission denied on port %s, check user permissions", opt.Name)
		}
		return nil, errors.Wrapf(err, "could not connect to port %s", opt.Name)
	}
	if err := port.SetReadTimeout(opt.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, errors.Wrapf(err, "set read timeout on %s", opt.Name)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		_ = port.Close()
		return nil, errors.Wrapf(err, "reset output buffer of %s", opt.Name)
	}
	return &bugstPort{Port: port}, nil
}

type tarmPort struct {
	*tarm.Port
}

func openTarm(opt PortOpt) (Port, error) {
	c := &tarm.Config{
		Name:        opt.Name,
		Baud:        opt.Baud,
		ReadTimeout: opt.ReadTimeout,
		Size:        8,
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
	}
	port, err := tarm.OpenPort(c)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to port %s", opt.Name)
	}
	return &tarmPort{Port: port}, nil
}

// Read hides the io.EOF tarm reports for an expired read timeout.
func (p *tarmPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, err
}

func (p *tarmPort) ResetInputBuffer() error {
	return p.Port.Flush()
}

// PortInfo describes a connected device found during discovery.
type PortInfo struct {
	Name         string `json:"name"`
	SerialNumber string `json:"serial_number"`
	ShortID      string `json:"short_id"`
}

// listPorts is replaced in tests.
var listPorts = enumerator.GetDetailedPortsList

func matchesUSBID(hexID string, want uint16) bool {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(hexID), "0x"), 16, 16)
	return err == nil && uint16(v) == want
}

// ListDevices returns every serial port that belongs to a device, identified by USB VID/PID.
func ListDevices() ([]PortInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate serial ports")
	}
	var res []PortInfo
	for _, p := range ports {
		log.Debugf("found port: %s, vid: %s, pid: %s, sn: %s", p.Name, p.VID, p.PID, p.SerialNumber)
		if !p.IsUSB || !matchesUSBID(p.VID, VID) || !matchesUSBID(p.PID, PID) || p.SerialNumber == "" {
			continue
		}
		res = append(res, PortInfo{
			Name:         p.Name,
			SerialNumber: p.SerialNumber,
			ShortID:      sensor.UniqueIDToShortID(p.SerialNumber),
		})
	}
	return res, nil
}

// ValidateShortID checks the format of a user supplied short id.
func ValidateShortID(shortID string) error {
	if len(shortID) != 4 {
		return errors.Wrapf(ErrInvalidShortID, "got %q", shortID)
	}
	return nil
}

// FindPort returns the port of the device whose short id matches, ignoring case.
func FindPort(shortID string) (string, error) {
	if err := ValidateShortID(shortID); err != nil {
		return "", err
	}
	devices, err := ListDevices()
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if strings.EqualFold(d.ShortID, shortID) {
			return d.Name, nil
		}
	}
	return "", errors.Wrapf(ErrDeviceNotFound, "short id %s", strings.ToUpper(shortID))
}
