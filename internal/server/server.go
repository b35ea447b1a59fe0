package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PLab-SI/PicoQuake/internal/acquisition"
	"github.com/PLab-SI/PicoQuake/internal/config"
	http2 "github.com/PLab-SI/PicoQuake/internal/controller/http"
	managerImpl "github.com/PLab-SI/PicoQuake/internal/manager/picoquake"
	"github.com/PLab-SI/PicoQuake/internal/registry"
	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/sensor/picoquake"
	"github.com/PLab-SI/PicoQuake/internal/utils"
	"github.com/PLab-SI/PicoQuake/pkg/version"
)

const shutdownTimeout = 5 * time.Second

type mainApp struct {
	name     string
	cmd      *cobra.Command
	args     []string
	opt      *config.PicoQuakeOpt
	registry *registry.Registry

	// open replaces the serial driver of every session the app opens.
	open func() (picoquake.Port, error)
}

func (a *mainApp) GetOpt() *config.PicoQuakeOpt {
	return a.opt
}

func (a *mainApp) SetOpt(opt *config.PicoQuakeOpt) { a.opt = opt }

// SessionOptions maps the device and timeout options onto a session.
func (a *mainApp) SessionOptions() managerImpl.Options {
	return managerImpl.Options{
		Port:               a.opt.Device.Port,
		ShortID:            a.opt.Device.ShortID,
		Driver:             a.opt.Device.Driver,
		Baud:               a.opt.Device.Baud,
		HandshakeTimeout:   a.opt.Timeouts.Handshake,
		StatusTimeout:      a.opt.Timeouts.Status,
		SampleStartTimeout: a.opt.Timeouts.SampleStart,
		ReadTimeout:        a.opt.Timeouts.Read,
		Open:               a.open,
		OnConnect:          a.recordDevice,
	}
}

func (a *mainApp) openRegistry() {
	if a.opt.Registry.Path == "" || a.registry != nil {
		return
	}
	r, err := registry.Open(a.opt.Registry.Path)
	if err != nil {
		log.Warnf("device registry disabled: %v", err)
		return
	}
	a.registry = r
}

func (a *mainApp) closeRegistry() {
	if a.registry == nil {
		return
	}
	if err := a.registry.Close(); err != nil {
		log.Warnln(err)
	}
	a.registry = nil
}

func (a *mainApp) recordDevice(port string, info sensor.DeviceInfo) {
	if a.registry == nil {
		return
	}
	if err := a.registry.Record(port, info); err != nil {
		log.Warnln(err)
	}
}

func (a *mainApp) ProbeSensor() error {
	m := managerImpl.NewManager(a.SessionOptions(), a.opt.Sampling.Configuration(), 0)
	log.Infoln("Probing PicoQuake devices...")
	res, err := m.ListDev()
	if err != nil {
		log.Errorln(err)
		return err
	}
	log.Infof("Found %d PicoQuake devices: \n", len(res))
	for _, v := range res {
		fmt.Printf("- %s on %s (serial %s)\n", v.ShortID, v.Name, v.SerialNumber)
	}

	a.openRegistry()
	defer a.closeRegistry()
	if a.registry == nil {
		return nil
	}
	known, err := a.registry.List()
	if err != nil {
		return err
	}
	if len(known) > 0 {
		log.Infof("Known devices: \n")
	}
	for _, e := range known {
		fmt.Printf("- %s (%s), firmware %s, last seen on %s at %s\n",
			e.ShortID, e.UniqueID, e.Firmware, e.Port, e.LastSeen.Format(time.DateTime))
	}
	return nil
}

// Run serves the HTTP control plane until interrupted.
func (a *mainApp) Run() error {
	log.Infoln("version:", version.GitVersion)
	log.Infoln("api.port:", a.opt.API.Port)
	log.Infoln("api.interface:", a.opt.API.Interface)
	log.Infoln("api.sleep_after:", a.opt.API.SleepAfter)
	log.Infoln("debug:", a.opt.Debug)
	log.Infoln("device.short_id:", a.opt.Device.ShortID)
	log.Infoln("device.port:", a.opt.Device.Port)
	log.Infoln("sampling:", a.opt.Sampling.Configuration())

	a.openRegistry()
	defer a.closeRegistry()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// start manager
	m := managerImpl.NewManager(a.SessionOptions(), a.opt.Sampling.Configuration(), a.opt.API.SleepAfter)
	go managerImpl.Daemon(ctx, m)
	defer func() { _ = m.Stop() }()

	// install and start api server
	if !a.opt.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	http2.NewHTTPServer(router, m, a.opt.Output.Dir)

	addr := net.JoinHostPort(a.opt.API.Interface, strconv.Itoa(a.opt.API.Port))
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Errorln("shutdown:", err)
		}
	}()

	log.Info("start http listen on ", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorln("failed to serve...", err)
		return err
	}
	log.Infoln("exit")
	return nil
}

// connect opens a session and applies the configured sampling parameters.
func (a *mainApp) connect() (*managerImpl.Session, error) {
	s, err := managerImpl.Open(a.SessionOptions())
	if err != nil {
		return nil, err
	}
	if err := s.Configure(a.opt.Sampling.Configuration()); err != nil {
		_ = s.Stop()
		return nil, err
	}
	log.Infof("config: %s", s.Config())
	return s, nil
}

// Acquire records a fixed length acquisition to the output directory.
func (a *mainApp) Acquire() error {
	a.openRegistry()
	defer a.closeRegistry()

	seconds, samples := a.opt.Acquire.Seconds, a.opt.Acquire.Samples
	if samples > 0 {
		seconds = 0
	}
	s, err := a.connect()
	if err != nil {
		return err
	}
	defer func() { _ = s.Stop() }()

	res, err := s.Acquire(seconds, samples)
	if err != nil {
		return err
	}
	_, err = a.save(res)
	return err
}

// Trigger waits for the configured RMS threshold and records the window around it.
func (a *mainApp) Trigger() error {
	source, err := sensor.ParseSource(a.opt.Trigger.Source)
	if err != nil {
		return err
	}
	axis, err := sensor.ParseAxis(a.opt.Trigger.Axis)
	if err != nil {
		return err
	}

	a.openRegistry()
	defer a.closeRegistry()

	s, err := a.connect()
	if err != nil {
		return err
	}
	defer func() { _ = s.Stop() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Infof("waiting for trigger: %s rms over %s above %g", source, axis, a.opt.Trigger.Threshold)
	res, err := s.Trigger(ctx, managerImpl.TriggerOpts{
		Threshold:   a.opt.Trigger.Threshold,
		PreSeconds:  a.opt.Trigger.PreSeconds,
		PostSeconds: a.opt.Trigger.PostSeconds,
		Source:      source,
		Axis:        axis,
		RMSWindow:   a.opt.Trigger.RMSWindow,
		OnTrigger: func(rms float64) {
			log.Infof("triggered, rms: %.4f", rms)
		},
	})
	if err != nil {
		return err
	}
	_, err = a.save(res)
	return err
}

// save writes the data even when the acquisition did not complete; the outcome is logged.
func (a *mainApp) save(res acquisition.Result) (string, error) {
	if !res.OK() {
		log.Warnf("acquisition %s: %v", res.Outcome, res.Err)
	}
	if res.Data == nil || res.Data.NumSamples() == 0 {
		if res.Err != nil {
			return "", res.Err
		}
		return "", errors.New("no samples acquired")
	}
	if err := utils.EnsureDir(a.opt.Output.Dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(a.opt.Output.Dir, res.Data.FileName())
	if err := res.Data.SaveCSV(path); err != nil {
		return "", err
	}
	log.Infof("saved %s: %s", path, res.Data)
	return path, nil
}

func (a *mainApp) PrepareRun() MainApp {
	desc := config.NewPicoQuakeDesc()
	err := desc.Parse(a.cmd)
	if err != nil {
		log.Errorln(err)
		os.Exit(1)
		return nil
	}
	desc.PostParse()
	if err := desc.Opt.Validate(); err != nil {
		log.Errorln(err)
		os.Exit(1)
		return nil
	}
	a.opt = &desc.Opt
	a.name = config.DefaultAppName

	return a
}

type MainApp interface {
	Run() error
	PrepareRun() MainApp
	GetOpt() *config.PicoQuakeOpt
	SetOpt(*config.PicoQuakeOpt)
	SessionOptions() managerImpl.Options
	ProbeSensor() error
	Acquire() error
	Trigger() error
}

func NewMainApp(cmd *cobra.Command, args []string) MainApp {
	return &mainApp{
		cmd:  cmd,
		args: args,
	}
}
