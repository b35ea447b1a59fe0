package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/PLab-SI/PicoQuake/internal/acquisition"
	"github.com/PLab-SI/PicoQuake/internal/manager"
	managerImpl "github.com/PLab-SI/PicoQuake/internal/manager/picoquake"
	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/sensor/picoquake"
)

var testInfo = sensor.DeviceInfo{UniqueID: "E66368254F89A225", Firmware: "1.0.2"}

type fakeManager struct {
	running bool
	started int
	stopped int

	samples []sensor.IMUSample
	stream  []sensor.IMUSample

	result     acquisition.Result
	err        error
	gotSeconds float64
	gotSamples int
	gotTrigger manager.TriggerOpt
}

func (f *fakeManager) Start() error   { f.started++; f.running = true; return nil }
func (f *fakeManager) Stop() error    { f.stopped++; f.running = false; return nil }
func (f *fakeManager) Restart() error { return nil }

func (f *fakeManager) Read(cursor int64) (int64, []sensor.IMUSample, error) {
	if len(f.samples) == 0 {
		return cursor, nil, errors.New("not ready")
	}
	if cursor < 0 {
		return int64(len(f.samples) - 1), f.samples[len(f.samples)-1:], nil
	}
	if cursor+1 >= int64(len(f.samples)) {
		return cursor, nil, errors.New("no new data")
	}
	return int64(len(f.samples) - 1), f.samples[cursor+1:], nil
}

func (f *fakeManager) ReadLast() (sensor.IMUSample, error) {
	_, s, err := f.Read(-1)
	if err != nil {
		return sensor.IMUSample{}, err
	}
	return s[0], nil
}

func (f *fakeManager) Status() (sensor.Status, error) {
	if !f.running {
		return sensor.Status{}, managerImpl.ErrStopped
	}
	return sensor.Status{State: sensor.StateSampling, Temperature: 24.5}, nil
}

func (f *fakeManager) Info() (sensor.DeviceInfo, error) {
	if !f.running {
		return sensor.DeviceInfo{}, managerImpl.ErrStopped
	}
	return testInfo, nil
}

func (f *fakeManager) Config() sensor.Configuration { return sensor.DefaultConfiguration() }

func (f *fakeManager) Acquire(seconds float64, numSamples int) (acquisition.Result, error) {
	f.gotSeconds, f.gotSamples = seconds, numSamples
	return f.result, f.err
}

func (f *fakeManager) Trigger(_ context.Context, opt manager.TriggerOpt) (acquisition.Result, error) {
	f.gotTrigger = opt
	return f.result, f.err
}

func (f *fakeManager) Subscribe() (chan interface{}, error) {
	ch := make(chan interface{}, len(f.stream))
	for _, s := range f.stream {
		ch <- s
	}
	close(ch)
	return ch, nil
}

func (f *fakeManager) Unsubscribe(chan interface{}) {}
func (f *fakeManager) Running() bool                { return f.running }
func (f *fakeManager) ManuallyStopped() bool        { return !f.running }
func (f *fakeManager) Faulted() bool                { return false }
func (f *fakeManager) TrySleep() error              { return nil }

func (f *fakeManager) ListDev() ([]picoquake.PortInfo, error) {
	return []picoquake.PortInfo{{Name: "/dev/ttyACM0", SerialNumber: testInfo.UniqueID, ShortID: "C6E3"}}, nil
}

func newRouter(m manager.Manager, outputDir string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHTTPServer(r, m, outputDir)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	resp := map[string]interface{}{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: bad json %q", method, path, w.Body.String())
	}
	return w.Code, resp
}

func testData(n int) *acquisition.Data {
	samples := make([]sensor.IMUSample, n)
	for i := range samples {
		samples[i] = sensor.IMUSample{Count: int64(i), AccZ: 1}
	}
	start := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	return acquisition.New(samples, testInfo, sensor.DefaultConfiguration(), start)
}

func TestStatusAndDevice(t *testing.T) {
	m := &fakeManager{}
	r := newRouter(m, t.TempDir())

	code, resp := do(t, r, http.MethodGet, "/api/v1/status", nil)
	if code != http.StatusOK || resp["running"] != false {
		t.Fatalf("status %d %v", code, resp)
	}
	if _, ok := resp["state"]; ok {
		t.Error("state reported for a stopped device")
	}
	if code, _ := do(t, r, http.MethodGet, "/api/v1/device", nil); code != http.StatusServiceUnavailable {
		t.Errorf("device on stopped manager: %d", code)
	}

	if code, resp := do(t, r, http.MethodPost, "/api/v1/start", nil); code != http.StatusOK || resp["running"] != true {
		t.Fatalf("start %d %v", code, resp)
	}
	_, resp = do(t, r, http.MethodGet, "/api/v1/status", nil)
	if resp["state"] != "SAMPLING" {
		t.Errorf("state = %v", resp["state"])
	}
	_, resp = do(t, r, http.MethodGet, "/api/v1/device", nil)
	if resp["short_id"] != "C6E3" || resp["firmware"] != "1.0.2" {
		t.Errorf("device = %v", resp)
	}

	if code, _ := do(t, r, http.MethodPost, "/api/v1/stop", nil); code != http.StatusOK || m.stopped != 1 {
		t.Errorf("stop %d, stopped %d times", code, m.stopped)
	}
}

func TestListDevices(t *testing.T) {
	r := newRouter(&fakeManager{}, t.TempDir())
	code, resp := do(t, r, http.MethodGet, "/api/v1/devices", nil)
	if code != http.StatusOK {
		t.Fatal(code)
	}
	devs := resp["devices"].([]interface{})
	if len(devs) != 1 || devs[0].(map[string]interface{})["short_id"] != "C6E3" {
		t.Errorf("devices = %v", devs)
	}
}

func TestLastAndSamples(t *testing.T) {
	m := &fakeManager{running: true, samples: testData(5).Samples}
	r := newRouter(m, t.TempDir())

	code, resp := do(t, r, http.MethodGet, "/api/v1/last", nil)
	if code != http.StatusOK || resp["count"] != float64(4) {
		t.Fatalf("last %d %v", code, resp)
	}

	_, resp = do(t, r, http.MethodGet, "/api/v1/samples?cursor=1", nil)
	if got := resp["samples"].([]interface{}); len(got) != 3 {
		t.Errorf("got %d samples after cursor 1, want 3", len(got))
	}
	if resp["cursor"] != float64(4) {
		t.Errorf("cursor = %v", resp["cursor"])
	}

	_, resp = do(t, r, http.MethodGet, "/api/v1/samples?cursor=4", nil)
	if len(resp["samples"].([]interface{})) != 0 || resp["err"] == nil {
		t.Errorf("up to date cursor gave %v", resp)
	}

	if code, _ := do(t, r, http.MethodGet, "/api/v1/samples?cursor=abc", nil); code != http.StatusBadRequest {
		t.Errorf("bad cursor: %d", code)
	}

	m.running = false
	if code, _ := do(t, r, http.MethodGet, "/api/v1/last", nil); code != http.StatusServiceUnavailable {
		t.Errorf("last on stopped manager: %d", code)
	}
}

func TestAcquire(t *testing.T) {
	dir := t.TempDir()
	m := &fakeManager{running: true, result: acquisition.Result{Data: testData(100), Outcome: acquisition.Complete}}
	r := newRouter(m, dir)

	code, resp := do(t, r, http.MethodPost, "/api/v1/acquire", acquireRequest{Seconds: 1, Save: true})
	if code != http.StatusOK {
		t.Fatalf("acquire %d %v", code, resp)
	}
	if m.gotSeconds != 1 || m.gotSamples != 0 {
		t.Errorf("manager got seconds %g samples %d", m.gotSeconds, m.gotSamples)
	}
	if resp["outcome"] != "complete" || resp["num_samples"] != float64(100) || resp["device"] != "C6E3" {
		t.Errorf("response = %v", resp)
	}
	want := filepath.Join(dir, "C6E3_20240305_140709.csv")
	if resp["file"] != want {
		t.Errorf("file = %v, want %s", resp["file"], want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Error(err)
	}
}

func TestAcquireIncompleteStillSaved(t *testing.T) {
	dir := t.TempDir()
	m := &fakeManager{running: true, result: acquisition.Result{
		Data:    testData(40),
		Outcome: acquisition.Incomplete,
		Err:     errors.Wrap(managerImpl.ErrIncomplete, "received 40 of 100 samples"),
	}}
	r := newRouter(m, dir)
	code, resp := do(t, r, http.MethodPost, "/api/v1/acquire", acquireRequest{Samples: 100, Save: true})
	if code != http.StatusOK {
		t.Fatalf("acquire %d %v", code, resp)
	}
	if resp["outcome"] != "incomplete" || !strings.Contains(resp["err"].(string), "40 of 100") {
		t.Errorf("response = %v", resp)
	}
	if _, ok := resp["file"]; !ok {
		t.Error("partial data not saved")
	}
}

func TestAcquireErrors(t *testing.T) {
	m := &fakeManager{running: true, err: errors.Wrap(managerImpl.ErrValidation, "either seconds or number of samples must be specified")}
	r := newRouter(m, t.TempDir())
	if code, _ := do(t, r, http.MethodPost, "/api/v1/acquire", acquireRequest{}); code != http.StatusBadRequest {
		t.Errorf("validation error: %d", code)
	}

	m.err = managerImpl.ErrContinuousActive
	if code, _ := do(t, r, http.MethodPost, "/api/v1/acquire", acquireRequest{Samples: 1}); code != http.StatusConflict {
		t.Errorf("continuous active: %d", code)
	}

	m.running = false
	if code, _ := do(t, r, http.MethodPost, "/api/v1/acquire", acquireRequest{Samples: 1}); code != http.StatusServiceUnavailable {
		t.Errorf("stopped manager: %d", code)
	}
}

func TestTrigger(t *testing.T) {
	m := &fakeManager{running: true, result: acquisition.Result{Data: testData(10), Outcome: acquisition.Complete}}
	r := newRouter(m, t.TempDir())

	code, resp := do(t, r, http.MethodPost, "/api/v1/trigger", triggerRequest{
		Threshold: 0.2, PreSeconds: 1, PostSeconds: 2, Source: "gyro", Axis: "z", RMSWindow: 0.5,
	})
	if code != http.StatusOK {
		t.Fatalf("trigger %d %v", code, resp)
	}
	want := manager.TriggerOpt{Threshold: 0.2, PreSeconds: 1, PostSeconds: 2, Source: sensor.SourceGyro, Axis: sensor.AxisZ, RMSWindow: 0.5}
	if m.gotTrigger != want {
		t.Errorf("trigger opt = %+v", m.gotTrigger)
	}

	code, _ = do(t, r, http.MethodPost, "/api/v1/trigger", triggerRequest{Threshold: 0.2, RMSWindow: 1, Source: "mag"})
	if code != http.StatusBadRequest {
		t.Errorf("bad source: %d", code)
	}
	code, _ = do(t, r, http.MethodPost, "/api/v1/trigger", triggerRequest{Threshold: 0.2, RMSWindow: 1, Axis: "w"})
	if code != http.StatusBadRequest {
		t.Errorf("bad axis: %d", code)
	}
}

func TestStream(t *testing.T) {
	m := &fakeManager{running: true, stream: testData(3).Samples}
	ts := httptest.NewServer(newRouter(m, t.TempDir()))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var events int
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == "event:sample" {
			events++
		}
	}
	if events != 3 {
		t.Errorf("got %d sample events, want 3", events)
	}
}
