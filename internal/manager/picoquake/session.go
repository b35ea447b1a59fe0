package picoquake

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cskr/pubsub"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/sensor/picoquake"
)

const (
	DefaultHandshakeTimeout   = 5 * time.Second
	DefaultStatusTimeout      = 2 * time.Second
	DefaultSampleStartTimeout = 1 * time.Second
	DefaultReadTimeout        = 1 * time.Second

	DefaultPollInterval     = time.Millisecond
	DefaultDispatchInterval = 100 * time.Millisecond

	// DefaultContinuousBufferLen holds 16 s at the highest sample rate.
	DefaultContinuousBufferLen = 1 << 16

	inQueueLen    = 4096
	outQueueLen   = 16
	readChunkLen  = 1000
	subscriberLen = 256
	topicSamples  = "samples"
)

// Options selects the device and tunes the session timing. Either Port, ShortID or Open
// must be set. Zero durations fall back to the defaults above.
type Options struct {
	Port    string
	ShortID string
	Driver  string
	Baud    int

	HandshakeTimeout   time.Duration
	StatusTimeout      time.Duration
	SampleStartTimeout time.Duration
	ReadTimeout        time.Duration
	PollInterval       time.Duration
	DispatchInterval   time.Duration

	ContinuousBufferLen int

	// Open replaces the serial driver, mainly for tests.
	Open func() (picoquake.Port, error)
	// OnConnect is called once the handshake succeeded.
	OnConnect func(port string, info sensor.DeviceInfo)
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = DefaultStatusTimeout
	}
	if o.SampleStartTimeout <= 0 {
		o.SampleStartTimeout = DefaultSampleStartTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.DispatchInterval <= 0 {
		o.DispatchInterval = DefaultDispatchInterval
	}
	if o.ContinuousBufferLen <= 0 {
		o.ContinuousBufferLen = DefaultContinuousBufferLen
	}
	return o
}

// Session is a connection to one device. It owns two goroutines: the transport worker
// moving frames on the serial port and the dispatcher applying decoded messages.
type Session struct {
	opt    Options
	port   string
	logger *log.Entry

	ctx            context.Context
	cancel         context.CancelFunc
	transportDone  chan struct{}
	dispatcherDone chan struct{}
	out            chan []byte
	in             chan sensor.Message

	errs errorSlot
	buf  *sampleBuffer

	mu         sync.RWMutex
	status     sensor.Status
	statusSeq  uint64
	lastStatus time.Time
	info       *sensor.DeviceInfo

	cfgMu  sync.RWMutex
	config sensor.Configuration

	continuous atomic.Bool
	sampling   atomic.Bool
	stopped    atomic.Bool
	stopOnce   sync.Once

	brokerMu sync.RWMutex
	broker   *pubsub.PubSub
}

// Open connects to the device, starts the background workers and performs the handshake.
func Open(opt Options) (*Session, error) {
	opt = opt.withDefaults()
	port := opt.Port
	if opt.Open == nil {
		if port == "" {
			if opt.ShortID == "" {
				return nil, errors.Wrap(ErrValidation, "either short id or port must be specified")
			}
			var err error
			if port, err = picoquake.FindPort(opt.ShortID); err != nil {
				return nil, err
			}
		}
		name := port
		opt.Open = func() (picoquake.Port, error) {
			return picoquake.OpenPort(picoquake.PortOpt{Name: name, Driver: opt.Driver, Baud: opt.Baud})
		}
	}

	s := newSession(opt, port)
	s.start()
	if err := s.handshake(); err != nil {
		return nil, err
	}
	info := s.deviceInfo()
	s.logger.Infof("connected to: %s", info)
	if opt.OnConnect != nil {
		opt.OnConnect(port, info)
	}
	return s, nil
}

func newSession(opt Options, port string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opt:            opt,
		port:           port,
		logger:         log.WithField("device", port),
		ctx:            ctx,
		cancel:         cancel,
		transportDone:  make(chan struct{}),
		dispatcherDone: make(chan struct{}),
		out:            make(chan []byte, outQueueLen),
		in:             make(chan sensor.Message, inQueueLen),
		buf:            newSampleBuffer(1),
		lastStatus:     time.Now(),
		config:         sensor.DefaultConfiguration(),
		broker:         pubsub.New(subscriberLen),
	}
}

func (s *Session) start() {
	t := &transport{
		open:   s.opt.Open,
		in:     s.in,
		out:    s.out,
		logger: s.logger,
	}
	go func() {
		defer close(s.transportDone)
		if err := t.run(s.ctx); err != nil {
			s.fail(err)
		}
		s.logger.Debugln("serial worker stopped")
	}()
	go func() {
		defer close(s.dispatcherDone)
		s.dispatch(s.ctx)
		s.logger.Debugln("handler stopped")
	}()
}

// fail posts err to the error slot; only the first one is kept and logged.
func (s *Session) fail(err error) {
	if s.errs.post(err) {
		s.logger.Errorf("exception: %v", err)
	}
}

// Err returns the first error posted by a background worker, if any.
func (s *Session) Err() error {
	return s.errs.get()
}

func (s *Session) handshake() error {
	if err := s.send(picoquake.Command{ID: picoquake.CmdHandshake}); err != nil {
		_ = s.Stop()
		return err
	}
	deadline := time.Now().Add(s.opt.HandshakeTimeout)
	for {
		if s.hasInfo() {
			s.mu.Lock()
			s.lastStatus = time.Now()
			s.mu.Unlock()
			return nil
		}
		if err := s.Err(); err != nil {
			_ = s.Stop()
			return err
		}
		if time.Now().After(deadline) {
			_ = s.Stop()
			return errors.Wrap(ErrHandshake, "handshake timeout")
		}
		time.Sleep(s.opt.PollInterval)
	}
}

// send queues a command for the transport worker.
func (s *Session) send(cmd picoquake.Command) error {
	select {
	case s.out <- cmd.Encode():
		s.logger.Debugf("command sent: %s", cmd.ID)
		return nil
	case <-s.transportDone:
		return errors.Wrapf(ErrStopped, "send %s", cmd.ID)
	}
}

// startSampling resets the buffer and sends the start command. A device still winding
// down from a previous stop is given StatusTimeout to report idle first, so samples of the
// old run never land in the new buffer.
func (s *Session) startSampling(numSamples uint64, capacity int) error {
	if s.Status().State == sensor.StateSampling {
		idle, err := s.wait(s.opt.StatusTimeout, func() bool {
			return s.Status().State != sensor.StateSampling
		})
		if err != nil {
			return err
		}
		if !idle {
			return errors.Wrap(ErrConnection, "device did not stop sampling")
		}
	}
	s.logger.Debugln("starting sampling...")
	s.buf.reset(capacity)
	if err := s.send(picoquake.NewStartCommand(s.Config(), numSamples)); err != nil {
		return err
	}
	s.sampling.Store(true)
	return nil
}

func (s *Session) stopSampling() error {
	s.logger.Debugln("stopping sampling...")
	err := s.send(picoquake.Command{ID: picoquake.CmdStopSampling})
	s.sampling.Store(false)
	return err
}

// Configure replaces the configuration sent with the next start of sampling.
func (s *Session) Configure(cfg sensor.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(ErrValidation, err.Error())
	}
	s.cfgMu.Lock()
	s.config = cfg
	s.cfgMu.Unlock()
	s.logger.Infof("configuration set: %s", cfg)
	return nil
}

// ConfigureApprox picks the closest available level for every parameter.
func (s *Session) ConfigureApprox(sampleRate, filter, accRange, gyroRange float64) error {
	return s.Configure(sensor.ApproxConfiguration(sampleRate, filter, accRange, gyroRange))
}

func (s *Session) Config() sensor.Configuration {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.config
}

// Status is the last status reported by the device.
func (s *Session) Status() sensor.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) statusWithSeq() (sensor.Status, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.statusSeq
}

// Info is the identity reported during the handshake.
func (s *Session) Info() sensor.DeviceInfo {
	return s.deviceInfo()
}

func (s *Session) deviceInfo() sensor.DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info == nil {
		return sensor.DeviceInfo{}
	}
	return *s.info
}

func (s *Session) hasInfo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info != nil
}

// Port is the serial port name, empty when a custom opener was used without one.
func (s *Session) Port() string {
	return s.port
}

func (s *Session) Continuous() bool {
	return s.continuous.Load()
}

func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

// ready reports why no new operation can start, if anything.
func (s *Session) ready() error {
	if s.stopped.Load() {
		return ErrStopped
	}
	return s.Err()
}

// Stop ends sampling if needed, then stops and joins both workers. It is safe to call
// more than once.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if s.sampling.Load() {
			if err := s.stopSampling(); err != nil {
				s.logger.Debugf("stop sampling: %v", err)
			}
		}
		s.continuous.Store(false)
		s.cancel()
		<-s.dispatcherDone
		<-s.transportDone

		s.brokerMu.Lock()
		s.broker.Shutdown()
		s.broker = nil
		s.brokerMu.Unlock()
		s.logger.Infoln("device stopped")
	})
	return nil
}

// wait polls cond until it returns true, an error is posted or the timeout expires.
// It returns the posted error, or nil with ok=false on timeout.
func (s *Session) wait(timeout time.Duration, cond func() bool) (ok bool, err error) {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true, nil
		}
		if err := s.Err(); err != nil {
			return false, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(s.opt.PollInterval)
	}
}
