//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// CdevPin reads a PIR output through the Linux GPIO character device.
type CdevPin struct {
	mu     sync.Mutex
	chip   *gpiocdev.Chip
	line   *gpiocdev.Line
	offset int
	opts   []gpiocdev.LineConfigOption
}

// NewCdevPin requests the given line offset on chip as an input.
func NewCdevPin(chip string, offset int, activeLow bool) (*CdevPin, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	// PIR modules drive their output, pull-down keeps the line low while
	// the module is unpowered.
	reqOpts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
	opts := []gpiocdev.LineConfigOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
	if activeLow {
		reqOpts = append(reqOpts, gpiocdev.AsActiveLow)
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := c.RequestLine(offset, reqOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request pin %d: %w", offset, err)
	}

	return &CdevPin{
		chip:   c,
		line:   line,
		offset: offset,
		opts:   opts,
	}, nil
}

// Input reconfigures the line as an input with the options it was requested
// with.
func (p *CdevPin) Input() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.line.Reconfigure(p.opts...); err != nil {
		return fmt.Errorf("reconfigure pin %d: %w", p.offset, err)
	}
	return nil
}

// Read returns the logical value of the line.
func (p *CdevPin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", p.offset, err)
	}
	return v == 1, nil
}

// Close releases GPIO resources.
// The line is left as an input with pull-down, matching Pi boot defaults.
func (p *CdevPin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.line != nil {
		if err := p.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", p.offset, err))
		}
		if err := p.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", p.offset, err))
		}
		p.line = nil
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		p.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
