package config

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/utils"
)

const DefaultAppName = "picoquake"
const DefaultConfigName = "config"
const DefaultAPIInterface = "0.0.0.0"
const DefaultAPIPort = 18889
const DefaultDriver = "bugst"
const DefaultBaud = 115200
const DefaultOutputDir = "./"
const DefaultSleepAfter = 60 * time.Second

var userHomeDir, _ = os.UserHomeDir()
var DefaultConfig = path.Join(userHomeDir, ".config/"+DefaultAppName+"/"+DefaultConfigName+".yaml")
var DefaultConfigSearchPath0 = path.Join(userHomeDir, ".config", DefaultAppName)
var DefaultRegistryPath = path.Join(userHomeDir, ".config", DefaultAppName, "devices.db")

const DefaultConfigSearchPath1 = "/etc/" + DefaultAppName
const DefaultConfigSearchPath2 = "./"
const DefaultConfigSearchPath3 = "/config"

type APIOpt struct {
	Port       int           `yaml:"port" mapstructure:"port"`
	Interface  string        `yaml:"interface" mapstructure:"interface"`
	SleepAfter time.Duration `yaml:"sleep_after" mapstructure:"sleep_after"`
}

type DeviceOpt struct {
	ShortID string `yaml:"short_id" mapstructure:"short_id"`
	Port    string `yaml:"port" mapstructure:"port"`
	Driver  string `yaml:"driver" mapstructure:"driver"`
	Baud    int    `yaml:"baud" mapstructure:"baud"`
}

// SamplingOpt holds physical values; each is resolved to the closest level the device has.
type SamplingOpt struct {
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
	Filter     float64 `yaml:"filter" mapstructure:"filter"`
	AccRange   float64 `yaml:"acc_range" mapstructure:"acc_range"`
	GyroRange  float64 `yaml:"gyro_range" mapstructure:"gyro_range"`
}

func (o SamplingOpt) Configuration() sensor.Configuration {
	return sensor.ApproxConfiguration(o.SampleRate, o.Filter, o.AccRange, o.GyroRange)
}

type AcquireOpt struct {
	Seconds float64 `yaml:"seconds" mapstructure:"seconds"`
	Samples int     `yaml:"samples" mapstructure:"samples"`
}

type TriggerOpt struct {
	Threshold   float64 `yaml:"threshold" mapstructure:"threshold"`
	PreSeconds  float64 `yaml:"pre_seconds" mapstructure:"pre_seconds"`
	PostSeconds float64 `yaml:"post_seconds" mapstructure:"post_seconds"`
	Source      string  `yaml:"source" mapstructure:"source"`
	Axis        string  `yaml:"axis" mapstructure:"axis"`
	RMSWindow   float64 `yaml:"rms_window" mapstructure:"rms_window"`
}

type OutputOpt struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

type RegistryOpt struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type TimeoutOpt struct {
	Handshake   time.Duration `yaml:"handshake" mapstructure:"handshake"`
	Status      time.Duration `yaml:"status" mapstructure:"status"`
	SampleStart time.Duration `yaml:"sample_start" mapstructure:"sample_start"`
	Read        time.Duration `yaml:"read" mapstructure:"read"`
}

type PicoQuakeOpt struct {
	Device   DeviceOpt   `yaml:"device" mapstructure:"device"`
	Sampling SamplingOpt `yaml:"sampling" mapstructure:"sampling"`
	Acquire  AcquireOpt  `yaml:"acquire" mapstructure:"acquire"`
	Trigger  TriggerOpt  `yaml:"trigger" mapstructure:"trigger"`
	Output   OutputOpt   `yaml:"output" mapstructure:"output"`
	Registry RegistryOpt `yaml:"registry" mapstructure:"registry"`
	API      APIOpt      `yaml:"api" mapstructure:"api"`
	Timeouts TimeoutOpt  `yaml:"timeouts" mapstructure:"timeouts"`
	Debug    bool        `yaml:"debug" mapstructure:"debug"`
}

type PicoQuakeDesc struct {
	Opt   PicoQuakeOpt
	Viper *viper.Viper
}

func NewPicoQuakeDesc() PicoQuakeDesc {
	return PicoQuakeDesc{
		Opt:   NewPicoQuakeOpt(),
		Viper: nil,
	}
}

func NewPicoQuakeOpt() PicoQuakeOpt {
	def := sensor.DefaultConfiguration()
	return PicoQuakeOpt{
		Device: DeviceOpt{
			Driver: DefaultDriver,
			Baud:   DefaultBaud,
		},
		Sampling: SamplingOpt{
			SampleRate: def.SampleRate.Value(),
			Filter:     def.Filter.Value(),
			AccRange:   def.AccRange.Value(),
			GyroRange:  def.GyroRange.Value(),
		},
		Acquire: AcquireOpt{
			Seconds: 10,
		},
		Trigger: TriggerOpt{
			Threshold:   0.1,
			PreSeconds:  2,
			PostSeconds: 8,
			Source:      "accel",
			Axis:        "xyz",
			RMSWindow:   1,
		},
		Output: OutputOpt{
			Dir: DefaultOutputDir,
		},
		Registry: RegistryOpt{
			Path: DefaultRegistryPath,
		},
		API: APIOpt{
			Port:       DefaultAPIPort,
			Interface:  DefaultAPIInterface,
			SleepAfter: DefaultSleepAfter,
		},
		Timeouts: TimeoutOpt{
			Handshake:   5 * time.Second,
			Status:      2 * time.Second,
			SampleStart: time.Second,
			Read:        time.Second,
		},
		Debug: false,
	}
}

func setDefaults(vipCfg *viper.Viper, opt PicoQuakeOpt) {
	vipCfg.SetDefault("device.short_id", opt.Device.ShortID)
	vipCfg.SetDefault("device.port", opt.Device.Port)
	vipCfg.SetDefault("device.driver", opt.Device.Driver)
	vipCfg.SetDefault("device.baud", opt.Device.Baud)
	vipCfg.SetDefault("sampling.sample_rate", opt.Sampling.SampleRate)
	vipCfg.SetDefault("sampling.filter", opt.Sampling.Filter)
	vipCfg.SetDefault("sampling.acc_range", opt.Sampling.AccRange)
	vipCfg.SetDefault("sampling.gyro_range", opt.Sampling.GyroRange)
	vipCfg.SetDefault("acquire.seconds", opt.Acquire.Seconds)
	vipCfg.SetDefault("acquire.samples", opt.Acquire.Samples)
	vipCfg.SetDefault("trigger.threshold", opt.Trigger.Threshold)
	vipCfg.SetDefault("trigger.pre_seconds", opt.Trigger.PreSeconds)
	vipCfg.SetDefault("trigger.post_seconds", opt.Trigger.PostSeconds)
	vipCfg.SetDefault("trigger.source", opt.Trigger.Source)
	vipCfg.SetDefault("trigger.axis", opt.Trigger.Axis)
	vipCfg.SetDefault("trigger.rms_window", opt.Trigger.RMSWindow)
	vipCfg.SetDefault("output.dir", opt.Output.Dir)
	vipCfg.SetDefault("registry.path", opt.Registry.Path)
	vipCfg.SetDefault("api.port", opt.API.Port)
	vipCfg.SetDefault("api.interface", opt.API.Interface)
	vipCfg.SetDefault("api.sleep_after", opt.API.SleepAfter)
	vipCfg.SetDefault("timeouts.handshake", opt.Timeouts.Handshake)
	vipCfg.SetDefault("timeouts.status", opt.Timeouts.Status)
	vipCfg.SetDefault("timeouts.sample_start", opt.Timeouts.SampleStart)
	vipCfg.SetDefault("timeouts.read", opt.Timeouts.Read)
	vipCfg.SetDefault("debug", opt.Debug)
}

// flagBindings maps config keys to the command line flags that may override them.
var flagBindings = map[string]string{
	"device.short_id":      "short-id",
	"device.port":          "device",
	"device.driver":        "driver",
	"sampling.sample_rate": "sample-rate",
	"sampling.filter":      "filter",
	"sampling.acc_range":   "acc-range",
	"sampling.gyro_range":  "gyro-range",
	"acquire.seconds":      "seconds",
	"acquire.samples":      "samples",
	"trigger.threshold":    "threshold",
	"trigger.pre_seconds":  "pre",
	"trigger.post_seconds": "post",
	"trigger.source":       "source",
	"trigger.axis":         "axis",
	"trigger.rms_window":   "rms-window",
	"output.dir":           "output-dir",
	"registry.path":        "registry",
	"api.port":             "port",
	"api.interface":        "interface",
	"debug":                "debug",
}

func (o *PicoQuakeDesc) Parse(cmd *cobra.Command) error {
	vipCfg := viper.New()
	setDefaults(vipCfg, NewPicoQuakeOpt())

	if configFileCmd, err := cmd.Flags().GetString("config"); err == nil && configFileCmd != "" {
		vipCfg.SetConfigFile(configFileCmd)
	} else {
		configFileEnv := os.Getenv("PICOQUAKE_CONFIG")
		if configFileEnv != "" {
			vipCfg.SetConfigFile(configFileEnv)
		} else {
			vipCfg.SetConfigName(DefaultConfigName)
			vipCfg.SetConfigType("yaml")
			vipCfg.AddConfigPath(DefaultConfigSearchPath0)
			vipCfg.AddConfigPath(DefaultConfigSearchPath1)
			vipCfg.AddConfigPath(DefaultConfigSearchPath2)
			vipCfg.AddConfigPath(DefaultConfigSearchPath3)
		}
	}

	vipCfg.SetEnvPrefix(DefaultAppName)
	vipCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vipCfg.AutomaticEnv()

	for key, flag := range flagBindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = vipCfg.BindPFlag(key, f)
		}
	}

	// If a config file is found, read it in.
	if err := vipCfg.ReadInConfig(); err == nil {
		log.Debugln("using config file:", vipCfg.ConfigFileUsed())
	} else {
		log.Debugln(err)
	}

	if err := vipCfg.Unmarshal(&o.Opt); err != nil {
		return errors.Wrap(err, "failed to unmarshal config")
	}

	o.Viper = vipCfg
	return nil
}

func (o *PicoQuakeDesc) PostParse() {
	if o.Opt.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// Validate checks the options that can be wrong before any device is touched.
func (o *PicoQuakeOpt) Validate() error {
	switch o.Device.Driver {
	case "", "bugst", "tarm":
	default:
		return errors.Errorf("unknown serial driver %q", o.Device.Driver)
	}
	if _, err := sensor.ParseSource(o.Trigger.Source); err != nil {
		return errors.Wrap(err, "trigger.source")
	}
	if _, err := sensor.ParseAxis(o.Trigger.Axis); err != nil {
		return errors.Wrap(err, "trigger.axis")
	}
	if o.API.Port <= 0 || o.API.Port > 65535 {
		return errors.Errorf("invalid api port %d", o.API.Port)
	}
	return nil
}

func (o *PicoQuakeDesc) SaveConfig() error {
	if o.Viper == nil {
		return errors.New("viper is nil")
	}
	f, err := os.OpenFile(o.Viper.ConfigFileUsed(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	w := bufio.NewWriter(f)
	s, _ := yaml.Marshal(o.Opt)
	_, err = w.Write(s)
	if err != nil {
		return err
	}
	return w.Flush()
}

// InitCfg initConfig prepares config for the application
func InitCfg(cmd *cobra.Command, _ []string) error {
	printFlag, _ := cmd.Flags().GetBool("print")
	outputPath, _ := cmd.Flags().GetString("output")
	overwriteFlag, _ := cmd.Flags().GetBool("yes")

	desc := NewPicoQuakeDesc()
	err := desc.Parse(cmd)
	if err != nil {
		log.Errorln(err)
		return err
	}

	if printFlag {
		configBuffer, _ := yaml.Marshal(desc.Opt)
		fmt.Println(string(configBuffer))
	} else {
		utils.DumpOption(desc.Opt, outputPath, overwriteFlag)
	}
	return nil
}
