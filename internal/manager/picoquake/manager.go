package picoquake

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/PLab-SI/PicoQuake/internal/acquisition"
	"github.com/PLab-SI/PicoQuake/internal/manager"
	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/sensor/picoquake"
)

const BufLen = 1024

const faultCheckInterval = 100 * time.Millisecond

// picoquakeManager keeps a session streaming continuously and mirrors the stream into a
// ring buffer that readers consume with a cursor.
type picoquakeManager struct {
	opt        Options
	config     sensor.Configuration
	sleepAfter time.Duration

	session *Session
	samples chan interface{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	lock   sync.RWMutex

	bufLock    sync.RWMutex
	ringBuffer []sensor.IMUSample
	counter    int64

	manuallyStopped  atomic.Bool
	faulted          atomic.Bool
	lastAccessSecond atomic.Int64
}

// NewManager returns a stopped manager. sleepAfter stops an unused stream, zero disables it.
func NewManager(opt Options, config sensor.Configuration, sleepAfter time.Duration) manager.Manager {
	m := &picoquakeManager{
		opt:        opt,
		config:     config,
		sleepAfter: sleepAfter,
		ringBuffer: make([]sensor.IMUSample, BufLen),
	}
	m.touch()
	return m
}

func (m *picoquakeManager) touch() {
	m.lastAccessSecond.Store(time.Now().Unix())
}

func (m *picoquakeManager) updateAll() {
	defer m.wg.Done()
	ticker := time.NewTicker(faultCheckInterval)
	defer ticker.Stop()

	diagLastCheck := time.Now()
	diagLastCounter := int64(0)
	for {
		select {
		case <-m.ctx.Done():
			return
		case v, ok := <-m.samples:
			if !ok {
				log.Warnln("sample stream closed")
				m.faulted.Store(true)
				return
			}
			sample, ok := v.(sensor.IMUSample)
			if !ok {
				continue
			}
			m.bufLock.Lock()
			m.ringBuffer[m.counter%BufLen] = sample
			m.counter++
			m.bufLock.Unlock()
		case <-ticker.C:
			if err := m.session.Err(); err != nil {
				log.Errorf("session faulted: %v", err)
				m.faulted.Store(true)
				return
			}
			if d := time.Since(diagLastCheck); d >= 10*time.Second {
				m.bufLock.RLock()
				c := m.counter
				m.bufLock.RUnlock()
				log.Debugf("updateAll sps: %3.1f", float64(c-diagLastCounter)/d.Seconds())
				diagLastCounter = c
				diagLastCheck = time.Now()
			}
		}
	}
}

// Start opens the session and starts the continuous stream.
func (m *picoquakeManager) Start() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.touch()

	if m.session == nil {
		s, err := Open(m.opt)
		if err != nil {
			return err
		}
		if err := s.Configure(m.config); err != nil {
			_ = s.Stop()
			return err
		}
		if err := s.StartContinuous(); err != nil {
			_ = s.Stop()
			return err
		}
		ch, err := s.Subscribe()
		if err != nil {
			_ = s.Stop()
			return err
		}
		m.session = s
		m.samples = ch
		m.ctx, m.cancel = context.WithCancel(context.Background())
		m.faulted.Store(false)
		m.wg.Add(1)
		go m.updateAll()
		log.Infof("manager started")
	}
	m.manuallyStopped.Store(false)
	return nil
}

// Stop closes the session. Stopping a faulted manager is not a manual stop, so the daemon
// reconnects afterwards.
func (m *picoquakeManager) Stop() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.touch()

	if m.session == nil {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	m.session.Unsubscribe(m.samples)
	err := m.session.Stop()
	m.session = nil
	m.samples = nil
	m.manuallyStopped.Store(!m.faulted.Load())
	m.faulted.Store(false)

	m.bufLock.Lock()
	m.counter = 0
	m.ringBuffer = make([]sensor.IMUSample, BufLen)
	m.bufLock.Unlock()
	log.Infof("manager stopped")
	return err
}

// Restart restarts the sensor manager
func (m *picoquakeManager) Restart() error {
	err := m.Stop()
	if err != nil {
		return err
	}
	return m.Start()
}

// Read returns the newest sample for a negative cursor, otherwise every sample after it.
func (m *picoquakeManager) Read(cursor int64) (int64, []sensor.IMUSample, error) {
	m.bufLock.RLock()
	defer m.bufLock.RUnlock()
	m.touch()

	if cursor < 0 {
		cursor = m.counter - 1
		if cursor < 0 {
			return cursor, nil, errors.New("not ready")
		}
		return cursor, []sensor.IMUSample{m.ringBuffer[cursor%BufLen]}, nil
	}
	if cursor+1 >= m.counter {
		return cursor, nil, errors.New("no new data")
	}
	// skip what the ring already overwrote
	if m.counter-cursor > BufLen {
		cursor = m.counter - BufLen
	} else {
		cursor++
	}
	res := make([]sensor.IMUSample, 0, m.counter-cursor)
	for ; cursor < m.counter; cursor++ {
		res = append(res, m.ringBuffer[cursor%BufLen])
	}
	return cursor - 1, res, nil
}

func (m *picoquakeManager) ReadLast() (sensor.IMUSample, error) {
	_, res, err := m.Read(-1)
	if err != nil {
		return sensor.IMUSample{}, err
	}
	return res[0], nil
}

func (m *picoquakeManager) current() (*Session, error) {
	if m.session == nil {
		return nil, errors.Wrap(ErrStopped, "manager not running")
	}
	return m.session, nil
}

func (m *picoquakeManager) Status() (sensor.Status, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	s, err := m.current()
	if err != nil {
		return sensor.Status{}, err
	}
	return s.Status(), nil
}

func (m *picoquakeManager) Info() (sensor.DeviceInfo, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	s, err := m.current()
	if err != nil {
		return sensor.DeviceInfo{}, err
	}
	return s.Info(), nil
}

func (m *picoquakeManager) Config() sensor.Configuration {
	return m.config
}

// pause stops the stream for the duration of fn and resumes it afterwards.
func (m *picoquakeManager) pause(fn func(s *Session) (acquisition.Result, error)) (acquisition.Result, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.touch()
	s, err := m.current()
	if err != nil {
		return acquisition.Result{}, err
	}
	if err := s.StopContinuous(); err != nil && !errors.Is(err, ErrContinuousNotStarted) {
		return acquisition.Result{}, err
	}
	res, err := fn(s)
	if s.Stopped() {
		m.faulted.Store(true)
		return res, err
	}
	if rerr := s.StartContinuous(); rerr != nil {
		log.Errorf("resume stream: %v", rerr)
		m.faulted.Store(true)
	}
	return res, err
}

func (m *picoquakeManager) Acquire(seconds float64, numSamples int) (acquisition.Result, error) {
	return m.pause(func(s *Session) (acquisition.Result, error) {
		return s.Acquire(seconds, numSamples)
	})
}

func (m *picoquakeManager) Trigger(ctx context.Context, opt manager.TriggerOpt) (acquisition.Result, error) {
	return m.pause(func(s *Session) (acquisition.Result, error) {
		return s.Trigger(ctx, TriggerOpts{
			Threshold:   opt.Threshold,
			PreSeconds:  opt.PreSeconds,
			PostSeconds: opt.PostSeconds,
			Source:      opt.Source,
			Axis:        opt.Axis,
			RMSWindow:   opt.RMSWindow,
		})
	})
}

func (m *picoquakeManager) Subscribe() (chan interface{}, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	m.touch()
	s, err := m.current()
	if err != nil {
		return nil, err
	}
	return s.Subscribe()
}

func (m *picoquakeManager) Unsubscribe(ch chan interface{}) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.session != nil {
		m.session.Unsubscribe(ch)
	}
}

func (m *picoquakeManager) Running() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.session != nil && !m.faulted.Load()
}

func (m *picoquakeManager) Faulted() bool {
	return m.faulted.Load()
}

func (m *picoquakeManager) ManuallyStopped() bool {
	return m.manuallyStopped.Load()
}

// ListDev returns the connected devices found by USB id.
func (m *picoquakeManager) ListDev() ([]picoquake.PortInfo, error) {
	m.touch()
	return picoquake.ListDevices()
}

// TrySleep stops the stream once nobody used the manager for sleepAfter.
func (m *picoquakeManager) TrySleep() error {
	if m.sleepAfter <= 0 || !m.Running() {
		return nil
	}
	idle := time.Since(time.Unix(m.lastAccessSecond.Load(), 0))
	if idle <= m.sleepAfter {
		return nil
	}
	log.Infof("idle for %v, enter sleep mode", idle.Round(time.Second))
	return m.Stop()
}

// Daemon restarts a faulted manager once per second until ctx is done. A manually stopped
// manager is left alone.
func Daemon(ctx context.Context, m manager.Manager) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if m.Faulted() {
			log.Infoln("status is faulted, stopping")
			if err := m.Stop(); err != nil {
				log.Errorln(err)
			}
		}
		if !m.Running() && !m.ManuallyStopped() {
			if err := m.Start(); err != nil {
				log.Errorln(err)
			}
		}
		if err := m.TrySleep(); err != nil {
			log.Errorln(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
