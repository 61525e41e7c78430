package gpio

import (
	"errors"
	"sync"
)

// FakePin is a test double that returns scripted pin values.
// It is safe for concurrent use.
type FakePin struct {
	mu sync.Mutex

	// samples contains scripted values; each Read consumes the next one.
	// When exhausted, the last sample repeats.
	samples []bool
	index   int

	// level is returned when no samples are scripted.
	level bool

	readErr  error
	inputErr error
	reads    int
	inputs   int
	closed   bool
}

// NewFakePin creates a FakePin returning the given samples in order.
func NewFakePin(samples ...bool) *FakePin {
	return &FakePin{samples: samples}
}

// Input records the call and returns the configured input error, if any.
func (f *FakePin) Input() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs++
	return f.inputErr
}

// Read returns the next scripted sample, or the current level if no samples
// are scripted.
func (f *FakePin) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++

	if f.readErr != nil {
		return false, f.readErr
	}
	if len(f.samples) == 0 {
		return f.level, nil
	}

	v := f.samples[f.index]
	if f.index < len(f.samples)-1 {
		f.index++
	}
	return v, nil
}

// Set drops any scripted samples and holds the pin at level.
func (f *FakePin) Set(level bool) {
	f.mu.Lock()
	f.samples = nil
	f.index = 0
	f.level = level
	f.mu.Unlock()
}

// SetReadError makes subsequent reads fail with err (nil clears it).
func (f *FakePin) SetReadError(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

// SetInputError makes subsequent Input calls fail with err (nil clears it).
func (f *FakePin) SetInputError(err error) {
	f.mu.Lock()
	f.inputErr = err
	f.mu.Unlock()
}

// Reads returns the number of Read calls.
func (f *FakePin) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Inputs returns the number of Input calls.
func (f *FakePin) Inputs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs
}

// Close marks the pin as closed.
func (f *FakePin) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fake pin: already closed")
	}
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakePin) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
