package main

import (
	"fmt"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PLab-SI/PicoQuake/internal/config"
	"github.com/PLab-SI/PicoQuake/internal/manager"
	managerImpl "github.com/PLab-SI/PicoQuake/internal/manager/picoquake"
	"github.com/PLab-SI/PicoQuake/internal/server"
)

const plotLen = 200

var defaultTableValue = [][]string{{"Count", "Acc [g]", "Gyro [dps]", "State", "Temp", "SPS"}}

func getTable() *widgets.Table {
	table := widgets.NewTable()
	table.Rows = [][]string{defaultTableValue[0], {"", "", "", "", "", ""}}
	table.ColumnWidths = []int{10, 26, 30, 10, 8, 8}
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.TextAlignment = ui.AlignRight
	table.SetRect(0, 0, 94, 5)
	return table
}

func getPlot() *widgets.Plot {
	plot := widgets.NewPlot()
	plot.Title = "acceleration x / y / z"
	plot.Data = make([][]float64, 3)
	plot.LineColors = []ui.Color{ui.ColorRed, ui.ColorGreen, ui.ColorBlue}
	plot.AxesColor = ui.ColorWhite
	plot.SetRect(0, 5, 94, 30)
	return plot
}

func printArray(arr [3]float32) string {
	str := ""
	for i, num := range arr {
		str += fmt.Sprintf("%+.2f", num)
		if i != len(arr)-1 {
			str += ", "
		}
	}
	return str
}

// push appends v to the history of one axis, keeping the last plotLen values.
func push(history []float64, v float32) []float64 {
	history = append(history, float64(v))
	if len(history) > plotLen {
		history = history[len(history)-plotLen:]
	}
	return history
}

func updateValue(m manager.Manager, table *widgets.Table, plot *widgets.Plot) {
	err := m.Start()
	if err != nil {
		log.Panicln(err)
	}

	cursor := int64(-1)
	lastRate := time.Now()
	var received int
	sps := 0.0
	for {
		next, res, err := m.Read(cursor)
		if err != nil {
			time.Sleep(time.Millisecond * 10)
			continue
		}
		cursor = next
		received += len(res)
		if d := time.Since(lastRate); d >= time.Second {
			sps = float64(received) / d.Seconds()
			received = 0
			lastRate = time.Now()
		}

		for _, s := range res {
			acc := s.Acc()
			for i := range plot.Data {
				plot.Data[i] = push(plot.Data[i], acc[i])
			}
		}
		last := res[len(res)-1]
		st, _ := m.Status()
		table.Rows[1] = []string{
			fmt.Sprintf("%d", last.Count),
			printArray(last.Acc()),
			printArray(last.Gyro()),
			st.State.String(),
			fmt.Sprintf("%.1f", st.Temperature),
			fmt.Sprintf("%.0f", sps),
		}

		// the plot needs at least two points per line
		if len(plot.Data[0]) > 1 {
			ui.Render(table, plot)
		} else {
			ui.Render(table)
		}
		time.Sleep(time.Millisecond * 10)
	}
}

func _main(cmd *cobra.Command, args []string) {
	log.Info("Starting")
	app := server.NewMainApp(cmd, args).PrepareRun()
	opt := app.GetOpt()
	m := managerImpl.NewManager(app.SessionOptions(), opt.Sampling.Configuration(), 0)
	defer func() { _ = m.Stop() }()

	if err := ui.Init(); err != nil {
		log.Fatalf("failed to initialize termui: %v", err)
	}
	defer ui.Close()

	table, plot := getTable(), getPlot()
	plot.Title = fmt.Sprintf("acceleration x / y / z at %s", opt.Sampling.Configuration().SampleRate)
	go updateValue(m, table, plot)

	uiEvents := ui.PollEvents()
	for {
		e := <-uiEvents
		switch e.ID {
		case "q", "<C-c>":
			return
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "serial_playground",
	Short: "live view of a streaming device",
	Long:  "serial_playground streams a device continuously and shows the newest samples in the terminal",
	Run: func(cmd *cobra.Command, args []string) {
		_main(cmd, args)
	},
}

func main() {
	rootCmd.Flags().String("config", "", "default configuration path")
	rootCmd.Flags().StringP("short-id", "s", "", "4 character short id printed on the device")
	rootCmd.Flags().StringP("device", "d", "", "serial port of the device")
	rootCmd.Flags().String("driver", config.DefaultDriver, "serial driver, bugst or tarm")
	rootCmd.Flags().Float64("sample-rate", 0, "sample rate in Hz")
	rootCmd.Flags().Bool("debug", false, "toggle debug logging")

	err := rootCmd.Execute()
	if err != nil {
		return
	}
}
