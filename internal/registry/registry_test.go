package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

func openTemp(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "sub", "devices.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRecordAndGet(t *testing.T) {
	r := openTemp(t)
	info := sensor.DeviceInfo{UniqueID: "E66368254F89A225", Firmware: "1.0.2"}
	if err := r.Record("/dev/ttyACM0", info); err != nil {
		t.Fatal(err)
	}

	e, err := r.Get("C6E3")
	if err != nil {
		t.Fatal(err)
	}
	if e.UniqueID != info.UniqueID || e.Firmware != info.Firmware || e.Port != "/dev/ttyACM0" {
		t.Errorf("entry = %+v", e)
	}
	if time.Since(e.LastSeen) > time.Minute {
		t.Errorf("last seen %v", e.LastSeen)
	}

	if _, err := r.Get("FFFF"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestRecordReplaces(t *testing.T) {
	r := openTemp(t)
	info := sensor.DeviceInfo{UniqueID: "E66368254F89A225", Firmware: "1.0.1"}
	_ = r.Record("/dev/ttyACM0", info)
	info.Firmware = "1.0.2"
	_ = r.Record("/dev/ttyACM1", info)

	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Port != "/dev/ttyACM1" || entries[0].Firmware != "1.0.2" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestListNewestFirst(t *testing.T) {
	r := openTemp(t)
	now := time.Now()
	for i, id := range []string{"AAAA", "BBBB", "CCCC"} {
		if err := r.put(Entry{ShortID: id, LastSeen: now.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.ShortID)
	}
	if len(got) != 3 || got[0] != "CCCC" || got[2] != "AAAA" {
		t.Errorf("order = %v", got)
	}

	if err := r.Forget("BBBB"); err != nil {
		t.Fatal(err)
	}
	if err := r.Forget("BBBB"); err != nil {
		t.Errorf("forgetting twice: %v", err)
	}
	entries, _ = r.List()
	if len(entries) != 2 {
		t.Errorf("got %d entries after forget", len(entries))
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.db")
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = r.Record("COM3", sensor.DeviceInfo{UniqueID: "E66368254F89A225", Firmware: "1.0.2"})
	_ = r.Close()

	r, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Get("C6E3"); err != nil {
		t.Error(err)
	}
}
