//go:build !linux

package gpio

import "errors"

// CdevPin is not available on non-Linux platforms.
type CdevPin struct{}

// NewCdevPin returns an error on non-Linux platforms.
func NewCdevPin(chip string, offset int, activeLow bool) (*CdevPin, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

// Input is not implemented on non-Linux platforms.
func (p *CdevPin) Input() error {
	return errors.New("gpio: not supported")
}

// Read is not implemented on non-Linux platforms.
func (p *CdevPin) Read() (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (p *CdevPin) Close() error {
	return nil
}
