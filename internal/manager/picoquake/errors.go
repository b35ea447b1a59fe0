package picoquake

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrConnection           = errors.New("connection error")
	ErrHandshake            = errors.New("handshake error")
	ErrValidation           = errors.New("invalid argument")
	ErrContinuousActive     = errors.New("continuous mode is active, stop it first")
	ErrContinuousNotStarted = errors.New("continuous mode not started")
	ErrStopped              = errors.New("session stopped")
	ErrIncomplete           = errors.New("acquisition incomplete")
	ErrTriggeredTooEarly    = errors.Wrap(ErrIncomplete, "triggered too early")
	ErrCorrupted            = errors.New("data corrupted")
)

// DeviceError is posted when the device reports its error state.
type DeviceError struct {
	Code uint32
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: %d", e.Code)
}

// errorSlot keeps the first error posted by a background worker. Later posts are dropped.
type errorSlot struct {
	mu  sync.Mutex
	err error
}

// post stores err if the slot is empty and reports whether it did.
func (s *errorSlot) post(err error) bool {
	if err == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false
	}
	s.err = err
	return true
}

func (s *errorSlot) get() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
