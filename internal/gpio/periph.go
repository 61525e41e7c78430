package gpio

import (
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphPin reads a PIR output through periph.io. Pins are addressed by
// their BCM number.
type PeriphPin struct {
	pin       pgpio.PinIO
	activeLow bool
}

// NewPeriphPin initialises the periph host drivers and resolves GPIO<line>.
func NewPeriphPin(line int, activeLow bool) (*PeriphPin, error) {
	// host.Init is safe to call more than once.
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	name := fmt.Sprintf("GPIO%d", line)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periph: no pin named %s", name)
	}
	return &PeriphPin{pin: p, activeLow: activeLow}, nil
}

// Input configures the pin as an input with pull-down and no edge detection.
func (p *PeriphPin) Input() error {
	if err := p.pin.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
		return fmt.Errorf("configure %s as input: %w", p.pin.Name(), err)
	}
	return nil
}

// Read returns the logical level, honouring active-low wiring.
func (p *PeriphPin) Read() (bool, error) {
	high := p.pin.Read() == pgpio.High
	return high != p.activeLow, nil
}

// Close leaves the pin as a pulled-down input.
func (p *PeriphPin) Close() error {
	return p.Input()
}
