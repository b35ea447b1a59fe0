package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/sensor/picoquake"
)

const readChunk = 256

func send(p picoquake.Port, cmd picoquake.Command) error {
	msg := cmd.Encode()
	if _, err := p.Write(msg); err != nil {
		return err
	}
	fmt.Printf("host -> %s [% x]\n", cmd.ID, msg)
	return nil
}

// dump prints every frame that arrives within d, raw and decoded.
func dump(p picoquake.Port, d time.Duration, quiet bool) (frames, samples int, err error) {
	dec := picoquake.NewDecoder()
	buf := make([]byte, readChunk)
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		n, err := p.Read(buf)
		if err != nil {
			return frames, samples, err
		}
		for _, f := range dec.Feed(buf[:n]) {
			frames++
			msg, err := picoquake.ParseFrame(f)
			if err != nil {
				fmt.Printf("dev  -> %s [%s] decode error: %v\n", f.Type(), hex.EncodeToString(f), err)
				continue
			}
			if _, ok := msg.(sensor.IMUSample); ok {
				samples++
				if quiet {
					continue
				}
			}
			fmt.Printf("dev  -> %s %s\n", f.Type(), msg)
		}
	}
	if o := dec.Overruns(); o > 0 {
		log.Warnf("%d oversized frames dropped", o)
	}
	return frames, samples, nil
}

func _main(cmd *cobra.Command) error {
	port, _ := cmd.Flags().GetString("port")
	driver, _ := cmd.Flags().GetString("driver")
	baud, _ := cmd.Flags().GetInt("baud")
	listen, _ := cmd.Flags().GetDuration("duration")
	rate, _ := cmd.Flags().GetFloat64("sample-rate")
	numSamples, _ := cmd.Flags().GetUint64("samples")
	quiet, _ := cmd.Flags().GetBool("quiet")
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		log.SetLevel(log.DebugLevel)
	}

	p, err := picoquake.OpenPort(picoquake.PortOpt{Name: port, Driver: driver, Baud: baud})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if err := send(p, picoquake.Command{ID: picoquake.CmdHandshake}); err != nil {
		return err
	}
	if _, _, err := dump(p, 200*time.Millisecond, quiet); err != nil {
		return err
	}

	cfg := sensor.DefaultConfiguration()
	cfg.SampleRate = sensor.FindClosest(sensor.SampleRates(), rate)
	if err := send(p, picoquake.NewStartCommand(cfg, numSamples)); err != nil {
		return err
	}
	frames, samples, err := dump(p, listen, quiet)
	if err != nil {
		return err
	}
	if err := send(p, picoquake.Command{ID: picoquake.CmdStopSampling}); err != nil {
		return err
	}
	log.Infof("%d frames, %d samples in %v (%.1f samples/s, configured %s)",
		frames, samples, listen, float64(samples)/listen.Seconds(), cfg.SampleRate)
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "frame_dump",
	Short: "print the raw frames a device sends",
	Long:  "frame_dump performs a handshake, samples for a while and prints every frame exchanged",
	Run: func(cmd *cobra.Command, args []string) {
		if err := _main(cmd); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd.Flags().StringP("port", "p", "", "The serial port to use")
	rootCmd.Flags().String("driver", picoquake.DriverTarm, "serial driver, bugst or tarm")
	rootCmd.Flags().Int("baud", picoquake.DefaultBaudRate, "Baud rate")
	rootCmd.Flags().Duration("duration", time.Second, "how long to sample")
	rootCmd.Flags().Float64("sample-rate", 100, "sample rate in Hz")
	rootCmd.Flags().Uint64("samples", 0, "samples to request, 0 samples until stopped")
	rootCmd.Flags().BoolP("quiet", "q", false, "count samples instead of printing them")
	rootCmd.Flags().Bool("debug", false, "toggle debug logging")
	_ = rootCmd.MarkFlagRequired("port")
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}
