package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/PLab-SI/PicoQuake/internal/config"
	"github.com/PLab-SI/PicoQuake/internal/server"
	"github.com/PLab-SI/PicoQuake/pkg/version"
)

var RootCmd = &cobra.Command{
	Use:     "picoquake",
	Short:   "acquire data from PicoQuake USB vibration sensors",
	Long:    "acquire data from PicoQuake USB vibration sensors, once or as a service",
	Version: version.GitVersion,

	SilenceUsage: true,
}

// DeviceFlags selects the device and its sampling parameters.
func DeviceFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "default configuration path")
	cmd.Flags().StringP("short-id", "s", "", "4 character short id printed on the device")
	cmd.Flags().StringP("device", "d", "", "serial port of the device, overrides short id lookup")
	cmd.Flags().String("driver", config.DefaultDriver, "serial driver, bugst or tarm")
	cmd.Flags().Float64("sample-rate", 0, "sample rate in Hz, rounded to the closest supported rate")
	cmd.Flags().Float64("filter", 0, "low pass filter corner in Hz, rounded to the closest supported value")
	cmd.Flags().Float64("acc-range", 0, "accelerometer range in g")
	cmd.Flags().Float64("gyro-range", 0, "gyroscope range in dps")
	cmd.Flags().String("registry", "", "device registry database")
	cmd.Flags().Bool("debug", false, "toggle debug logging")
}

// OutputFlags selects where acquisitions are written.
func OutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output-dir", "o", "", "directory for CSV files")
}

func ServeCmdRunE(cmd *cobra.Command, args []string) error {
	return server.NewMainApp(cmd, args).PrepareRun().Run()
}

func ServeCmdFlags(cmd *cobra.Command) {
	DeviceFlags(cmd)
	OutputFlags(cmd)
	cmd.Flags().Int64P("port", "p", config.DefaultAPIPort, "port that the api server listens on")
	cmd.Flags().StringP("interface", "i", config.DefaultAPIInterface, "interface that the api server listens on, default to 0.0.0.0")
}

var ServeCmd = &cobra.Command{
	Use: "serve",
	SuggestFor: []string{
		"ru", "ser",
	},
	Short: "serve keeps a device streaming and exposes it over http.",
	Long: `serve keeps a device streaming and exposes it over http, using predefined configs, by the following order:
1. path specified in --config flag
2. path defined PICOQUAKE_CONFIG environment variable
3. default location $HOME/.config/picoquake/config.yaml, /etc/picoquake/config.yaml, current directory
The parameters in the configuration file will be overwritten by the following order:
1. command line arguments
2. environment variables
`,
	Example: `  picoquake serve --config=/path/to/config
  picoquake serve -s C6E3 -p 18889`,
	RunE: ServeCmdRunE,
}

func InitCmdFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("print", false, "print config to stdout")
	cmd.Flags().BoolP("yes", "y", false, "overwrite")
	cmd.Flags().StringP("output", "o", config.DefaultConfig, "specify output directory")
}

var InitCmd = &cobra.Command{
	Use: "init",
	SuggestFor: []string{
		"ini", "in",
	},
	Short: "init create a configuration template",
	Long: `init create a configuration template.
The configuration file can be used by every other command.
If --print flag is present, the configuration will be printed to stdout.
If --output / -o flag is present, the configuration will be saved to the path specified
Otherwise init will output configuration file to $HOME/.config/picoquake/config.yaml
If --yes / -y flag is present, the configuration will be overwrite without confirmation
`,
	Example: `  picoquake init --print
  picoquake init --output /path/to/config.yaml
  picoquake init -o /path/to/config.yaml -y`,
	RunE: config.InitCfg,
}

func ProbeCmdFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "default configuration path")
	cmd.Flags().String("registry", "", "device registry database")
	cmd.Flags().Bool("debug", false, "toggle debug logging")
}

var ProbeCmd = &cobra.Command{
	Use: "probe",
	SuggestFor: []string{
		"pro", "pr", "prob", "list",
	},
	Short: "probe the connected devices",
	Long: `probe the connected devices.
The probe command lists the USB serial ports that belong to a PicoQuake together with
their short id, followed by the devices remembered in the registry.
`,
	Example: `  picoquake probe`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.NewMainApp(cmd, args).PrepareRun().ProbeSensor()
	},
}

func AcquireCmdFlags(cmd *cobra.Command) {
	DeviceFlags(cmd)
	OutputFlags(cmd)
	cmd.Flags().Float64("seconds", 0, "acquisition duration in seconds")
	cmd.Flags().Int("samples", 0, "number of samples, takes precedence over --seconds")
}

var AcquireCmd = &cobra.Command{
	Use: "acquire",
	SuggestFor: []string{
		"acq", "record",
	},
	Short: "acquire a fixed number of samples to CSV",
	Long: `acquire a fixed number of samples to CSV.
The file is named <short id>_<start time>.csv and written to the output directory. Data
that is incomplete or has skipped samples is still written, with a warning.
`,
	Example: `  picoquake acquire -s C6E3 --seconds 10 --sample-rate 1000
  picoquake acquire -d /dev/ttyACM0 --samples 5000 -o ./data`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.NewMainApp(cmd, args).PrepareRun().Acquire()
	},
}

func TriggerCmdFlags(cmd *cobra.Command) {
	DeviceFlags(cmd)
	OutputFlags(cmd)
	cmd.Flags().Float64("threshold", 0, "RMS threshold")
	cmd.Flags().Float64("pre", 0, "seconds kept before the trigger")
	cmd.Flags().Float64("post", 0, "seconds recorded after the trigger")
	cmd.Flags().String("source", "", "accel or gyro")
	cmd.Flags().String("axis", "", "any combination of x, y and z")
	cmd.Flags().Float64("rms-window", 0, "RMS window in seconds")
}

var TriggerCmd = &cobra.Command{
	Use: "trigger",
	SuggestFor: []string{
		"trig", "tr",
	},
	Short: "wait for an RMS threshold and record the window around it",
	Long: `wait for an RMS threshold and record the window around it.
The device streams continuously while the detrended RMS over the last rms window is
compared with the threshold. Once exceeded, pre seconds before and post seconds after the
trigger are written to CSV with the sample count re-centred on the trigger.
`,
	Example: `  picoquake trigger -s C6E3 --threshold 0.05 --pre 2 --post 8
  picoquake trigger -s C6E3 --threshold 10 --source gyro --axis z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.NewMainApp(cmd, args).PrepareRun().Trigger()
	},
}

func getRootCmd() *cobra.Command {

	ServeCmdFlags(ServeCmd)
	RootCmd.AddCommand(ServeCmd)

	InitCmdFlags(InitCmd)
	RootCmd.AddCommand(InitCmd)

	ProbeCmdFlags(ProbeCmd)
	RootCmd.AddCommand(ProbeCmd)

	AcquireCmdFlags(AcquireCmd)
	RootCmd.AddCommand(AcquireCmd)

	TriggerCmdFlags(TriggerCmd)
	RootCmd.AddCommand(TriggerCmd)

	return RootCmd
}

func Execute() {
	rootCmd := getRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
