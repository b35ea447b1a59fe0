package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

func newCmd(t *testing.T, configPath string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", configPath, "")
	cmd.Flags().Float64("sample-rate", 0, "")
	cmd.Flags().String("short-id", "", "")
	cmd.Flags().Int64("port", DefaultAPIPort, "")
	return cmd
}

func TestParseDefaults(t *testing.T) {
	t.Setenv("PICOQUAKE_CONFIG", "")
	desc := NewPicoQuakeDesc()
	if err := desc.Parse(newCmd(t, filepath.Join(t.TempDir(), "missing.yaml"))); err != nil {
		t.Fatal(err)
	}
	if desc.Opt != NewPicoQuakeOpt() {
		t.Errorf("opt = %+v\nwant %+v", desc.Opt, NewPicoQuakeOpt())
	}
	if desc.Viper == nil {
		t.Error("viper not kept")
	}
}

func TestParseFileFlagsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `device:
  short_id: c6e3
sampling:
  sample_rate: 1000
  acc_range: 16
api:
  port: 9000
timeouts:
  handshake: 3s
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PICOQUAKE_DEVICE_PORT", "/dev/ttyACM3")

	cmd := newCmd(t, path)
	if err := cmd.Flags().Set("sample-rate", "500"); err != nil {
		t.Fatal(err)
	}
	desc := NewPicoQuakeDesc()
	if err := desc.Parse(cmd); err != nil {
		t.Fatal(err)
	}
	opt := desc.Opt
	if opt.Sampling.SampleRate != 500 {
		t.Errorf("sample rate = %g, flag should win over the file", opt.Sampling.SampleRate)
	}
	if opt.Sampling.AccRange != 16 || opt.Device.ShortID != "c6e3" || opt.API.Port != 9000 {
		t.Errorf("file values not applied: %+v", opt)
	}
	if opt.Timeouts.Handshake != 3*time.Second {
		t.Errorf("handshake = %v", opt.Timeouts.Handshake)
	}
	if opt.Device.Port != "/dev/ttyACM3" {
		t.Errorf("port = %q, want the environment value", opt.Device.Port)
	}
	if opt.Sampling.GyroRange != 250 {
		t.Errorf("gyro range = %g, want the default", opt.Sampling.GyroRange)
	}
}

func TestValidate(t *testing.T) {
	valid := NewPicoQuakeOpt()
	if err := valid.Validate(); err != nil {
		t.Fatal(err)
	}
	cases := map[string]func(o *PicoQuakeOpt){
		"driver": func(o *PicoQuakeOpt) { o.Device.Driver = "ftdi" },
		"source": func(o *PicoQuakeOpt) { o.Trigger.Source = "mag" },
		"axis":   func(o *PicoQuakeOpt) { o.Trigger.Axis = "xx" },
		"port":   func(o *PicoQuakeOpt) { o.API.Port = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := NewPicoQuakeOpt()
			mutate(&o)
			if err := o.Validate(); err == nil {
				t.Fatal("invalid options accepted")
			}
		})
	}
}

func TestSamplingConfiguration(t *testing.T) {
	cfg := SamplingOpt{SampleRate: 900, Filter: 40, AccRange: 5, GyroRange: 2000}.Configuration()
	if cfg.SampleRate != sensor.Rate1000Hz {
		t.Errorf("sample rate = %s", cfg.SampleRate)
	}
	if cfg.AccRange != sensor.Acc4G {
		t.Errorf("acc range = %s", cfg.AccRange)
	}
	if cfg.GyroRange.Value() != 2000 || cfg.Filter.Value() != 42 {
		t.Errorf("config = %s", cfg)
	}
}
