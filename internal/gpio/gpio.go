// Package gpio provides the digital input pin used by the motion detector.
// The real implementations use the Linux GPIO character device or periph.io.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"io"
)

// Pin is a readable digital input.
type Pin interface {
	// Input puts the pin into digital input mode.
	Input() error

	// Read returns the logical level of the pin (true = motion).
	Read() (bool, error)
}

// PinCloser is a Pin holding hardware resources.
type PinCloser interface {
	Pin
	io.Closer
}

// Backend names accepted by Open.
const (
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
)

// Defaults for the Raspberry Pi wiring (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 17
)

// ErrUnknownBackend is returned by Open for an unrecognised backend name.
var ErrUnknownBackend = errors.New("gpio: unknown backend")

// Open returns a pin for the given backend. chip is only used by the cdev
// backend.
func Open(backend, chip string, line int, activeLow bool) (PinCloser, error) {
	var (
		pin PinCloser
		err error
	)
	switch backend {
	case BackendCdev, "":
		pin, err = NewCdevPin(chip, line, activeLow)
	case BackendPeriph:
		pin, err = NewPeriphPin(line, activeLow)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
	if err != nil {
		return nil, err
	}
	return pin, nil
}
