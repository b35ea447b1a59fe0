package acquisition

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

var ErrFormat = errors.New("malformed acquisition file")

const (
	timeLayout   = "2006-01-02 15:04:05.999999999Z07:00"
	headerLines  = 5
	fileTitle    = "# PLab PicoQuake Data"
	unknownFW    = "unknown"
	floatBitSize = 32
)

var columns = []string{"count", "a_x", "a_y", "a_z", "g_x", "g_y", "g_z"}

// WriteCSV writes the metadata block, the column row and one row per sample.
func (d *Data) WriteCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, fileTitle)
	fmt.Fprintf(bw, "# Time: %s, Device: %s (%s), FW: %s\n",
		d.StartTime.Format(timeLayout), strings.ToUpper(d.Device.ShortID()), d.Device.UniqueID, d.Device.Firmware)
	fmt.Fprintf(bw, "# Num. samples: %d, Duration: %g s\n", d.NumSamples(), d.DurationSeconds())
	fmt.Fprintf(bw, "# Config: %s\n", d.Config)
	fmt.Fprintf(bw, "# Integrity: %t, Skipped samples: %d\n", d.Integrity(), d.SkippedSamples())

	cw := csv.NewWriter(bw)
	if err := cw.Write(columns); err != nil {
		return errors.Wrap(err, "write column row")
	}
	row := make([]string, len(columns))
	for _, s := range d.Samples {
		row[0] = strconv.FormatInt(s.Count, 10)
		for i, v := range []float32{s.AccX, s.AccY, s.AccZ, s.GyroX, s.GyroY, s.GyroZ} {
			row[i+1] = strconv.FormatFloat(float64(v), 'g', -1, floatBitSize)
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "write sample row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, "flush csv")
	}
	return bw.Flush()
}

// SaveCSV writes the data to path and remembers it in CSVPath.
func (d *Data) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := d.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	d.CSVPath = path
	return nil
}

// LoadCSV reads a file produced by SaveCSV.
func LoadCSV(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	d, err := ReadCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	d.CSVPath = path
	return d, nil
}

// ReadCSV parses the metadata block and the sample rows. The skip count stored in the
// header must agree with the one recomputed from the samples.
func ReadCSV(r io.Reader) (*Data, error) {
	br := bufio.NewReader(r)
	var header [headerLines]string
	for i := range header {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "header line %d: %v", i+1, err)
		}
		header[i] = strings.TrimRight(line, "\r\n")
	}
	if header[0] != fileTitle {
		return nil, errors.Wrapf(ErrFormat, "unexpected title %q", header[0])
	}

	d := &Data{}
	var err error
	if d.StartTime, d.Device, err = parseDeviceLine(header[1]); err != nil {
		return nil, err
	}
	if d.Config, err = parseConfigLine(header[3]); err != nil {
		return nil, err
	}
	recorded, err := parseSkippedLine(header[4])
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = len(columns)
	cr.ReuseRecord = true
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "sample rows: %v", err)
		}
		if first {
			first = false
			if rec[0] == columns[0] {
				continue
			}
		}
		s, err := parseSample(rec)
		if err != nil {
			return nil, err
		}
		d.Samples = append(d.Samples, s)
	}

	if got := d.SkippedSamples(); got != recorded {
		return nil, errors.Wrapf(ErrFormat, "header records %d skipped samples, data has %d", recorded, got)
	}
	return d, nil
}

// parseDeviceLine handles "# Time: <t>, Device: SHORT (UNIQUE), FW: <fw>".
func parseDeviceLine(line string) (time.Time, sensor.DeviceInfo, error) {
	var info sensor.DeviceInfo
	rest, ok := strings.CutPrefix(line, "# Time: ")
	if !ok {
		return time.Time{}, info, errors.Wrapf(ErrFormat, "time line %q", line)
	}
	ts, rest, ok := strings.Cut(rest, ", Device: ")
	if !ok {
		return time.Time{}, info, errors.Wrapf(ErrFormat, "device in %q", line)
	}
	start, err := time.Parse(timeLayout, ts)
	if err != nil {
		return time.Time{}, info, errors.Wrapf(ErrFormat, "start time: %v", err)
	}
	device, fw, ok := strings.Cut(rest, ", FW: ")
	if !ok {
		fw = unknownFW
	}
	open := strings.Index(device, "(")
	closing := strings.LastIndex(device, ")")
	if open < 0 || closing < open {
		return time.Time{}, info, errors.Wrapf(ErrFormat, "unique id in %q", device)
	}
	info = sensor.DeviceInfo{
		UniqueID: device[open+1 : closing],
		Firmware: fw,
	}
	return start, info, nil
}

// parseConfigLine handles "# Config: data_rate = 100, filter = 42, ...".
func parseConfigLine(line string) (sensor.Configuration, error) {
	var c sensor.Configuration
	rest, ok := strings.CutPrefix(line, "# Config: ")
	if !ok {
		return c, errors.Wrapf(ErrFormat, "config line %q", line)
	}
	values := map[string]float64{}
	for _, part := range strings.Split(rest, ", ") {
		k, v, ok := strings.Cut(part, " = ")
		if !ok {
			return c, errors.Wrapf(ErrFormat, "config entry %q", part)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return c, errors.Wrapf(ErrFormat, "config value %q", part)
		}
		values[strings.TrimSpace(k)] = f
	}
	var err error
	if c.SampleRate, err = sensor.FromValue(sensor.SampleRates(), values["data_rate"]); err != nil {
		return c, errors.Wrap(ErrFormat, err.Error())
	}
	if c.Filter, err = sensor.FromValue(sensor.Filters(), values["filter"]); err != nil {
		return c, errors.Wrap(ErrFormat, err.Error())
	}
	if c.AccRange, err = sensor.FromValue(sensor.AccRanges(), values["acc_range"]); err != nil {
		return c, errors.Wrap(ErrFormat, err.Error())
	}
	if c.GyroRange, err = sensor.FromValue(sensor.GyroRanges(), values["gyro_range"]); err != nil {
		return c, errors.Wrap(ErrFormat, err.Error())
	}
	return c, nil
}

func parseSkippedLine(line string) (int64, error) {
	_, v, ok := strings.Cut(line, "Skipped samples: ")
	if !ok {
		return 0, errors.Wrapf(ErrFormat, "integrity line %q", line)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrFormat, "skipped samples %q", v)
	}
	return n, nil
}

func parseSample(rec []string) (sensor.IMUSample, error) {
	var s sensor.IMUSample
	count, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		// older files store the count as a float
		f, ferr := strconv.ParseFloat(rec[0], 64)
		if ferr != nil {
			return s, errors.Wrapf(ErrFormat, "count %q", rec[0])
		}
		count = int64(f)
	}
	s.Count = count
	dst := []*float32{&s.AccX, &s.AccY, &s.AccZ, &s.GyroX, &s.GyroY, &s.GyroZ}
	for i, p := range dst {
		v, err := strconv.ParseFloat(rec[i+1], floatBitSize)
		if err != nil {
			return s, errors.Wrapf(ErrFormat, "%s %q", columns[i+1], rec[i+1])
		}
		*p = float32(v)
	}
	return s, nil
}
