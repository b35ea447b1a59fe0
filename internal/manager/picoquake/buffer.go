package picoquake

import (
	"sync"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

// sampleBuffer is a bounded FIFO of samples. When full the oldest sample is dropped.
// The dispatcher is the only writer; the session pops and slices under the same lock.
type sampleBuffer struct {
	mu    sync.Mutex
	data  []sensor.IMUSample
	head  int
	size  int
	total uint64
}

func newSampleBuffer(capacity int) *sampleBuffer {
	b := &sampleBuffer{}
	b.reset(capacity)
	return b
}

// reset empties the buffer and sets a new capacity.
func (b *sampleBuffer) reset(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make([]sensor.IMUSample, capacity)
	b.head = 0
	b.size = 0
	b.total = 0
}

func (b *sampleBuffer) push(s sensor.IMUSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	capacity := len(b.data)
	b.data[(b.head+b.size)%capacity] = s
	if b.size < capacity {
		b.size++
	} else {
		b.head = (b.head + 1) % capacity
	}
	b.total++
}

// at must be called with the lock held.
func (b *sampleBuffer) at(i int) sensor.IMUSample {
	return b.data[(b.head+i)%len(b.data)]
}

func (b *sampleBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// received is the number of samples pushed since the last reset, dropped ones included.
func (b *sampleBuffer) received() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *sampleBuffer) newest() (sensor.IMUSample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return sensor.IMUSample{}, false
	}
	return b.at(b.size - 1), true
}

// snapshot copies the buffered samples, oldest first.
func (b *sampleBuffer) snapshot() []sensor.IMUSample {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyRange(0, b.size)
}

// last copies the newest n samples, oldest first.
func (b *sampleBuffer) last(n int) []sensor.IMUSample {
	b.mu.Lock()
	defer b.mu.Unlock()
	n = min(n, b.size)
	return b.copyRange(b.size-n, b.size)
}

func (b *sampleBuffer) copyRange(from, to int) []sensor.IMUSample {
	out := make([]sensor.IMUSample, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, b.at(i))
	}
	return out
}

// pop removes and returns up to n of the oldest samples.
func (b *sampleBuffer) pop(n int) []sensor.IMUSample {
	b.mu.Lock()
	defer b.mu.Unlock()
	n = min(n, b.size)
	out := b.copyRange(0, n)
	b.head = (b.head + n) % len(b.data)
	b.size -= n
	return out
}

// popLast returns the newest sample and discards everything older.
func (b *sampleBuffer) popLast() (sensor.IMUSample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return sensor.IMUSample{}, false
	}
	s := b.at(b.size - 1)
	b.head = 0
	b.size = 0
	return s, true
}
