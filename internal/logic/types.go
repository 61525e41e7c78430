// Package logic contains the PIR motion detection state machine.
// It talks to hardware only through gpio.Pin and to time only through
// clock.Clock, so it runs unchanged on virtual time in tests.
package logic

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/pir-sensor/internal/gpio"
)

// Defaults applied when an option is left at zero.
const (
	DefaultPollInterval  = 50 * time.Millisecond
	DefaultStabilization = 9 * time.Second
	DefaultCalibration   = 30 * time.Second
)

var (
	// ErrNoPin is returned when a detector is built without a pin.
	ErrNoPin = errors.New("logic: a pin is required")

	// ErrInvalidOptions is returned for negative durations.
	ErrInvalidOptions = errors.New("logic: invalid options")

	// ErrClosed is returned by Configure after Close.
	ErrClosed = errors.New("logic: detector closed")
)

// Options configures a Detector. Zero values keep the previous setting, or
// the default on first use.
type Options struct {
	Pin gpio.Pin

	// PollInterval is the raw pin sampling cadence.
	PollInterval time.Duration

	// Stabilization is how long a motion reading must persist before it is
	// confirmed.
	Stabilization time.Duration

	// Calibration is the warm-up delay before the detector starts polling.
	// Only honoured at construction.
	Calibration time.Duration
}

func (o Options) validate() error {
	if o.PollInterval < 0 {
		return fmt.Errorf("%w: poll interval %v", ErrInvalidOptions, o.PollInterval)
	}
	if o.Stabilization < 0 {
		return fmt.Errorf("%w: stabilization %v", ErrInvalidOptions, o.Stabilization)
	}
	if o.Calibration < 0 {
		return fmt.Errorf("%w: calibration %v", ErrInvalidOptions, o.Calibration)
	}
	return nil
}

// merge returns o with every non-zero field of next applied.
func (o Options) merge(next Options) Options {
	if next.Pin != nil {
		o.Pin = next.Pin
	}
	if next.PollInterval > 0 {
		o.PollInterval = next.PollInterval
	}
	if next.Stabilization > 0 {
		o.Stabilization = next.Stabilization
	}
	if next.Calibration > 0 {
		o.Calibration = next.Calibration
	}
	return o
}

// Settings are the effective timing parameters of a Detector.
type Settings struct {
	PollInterval  time.Duration
	Stabilization time.Duration
	Calibration   time.Duration
}

func defaultSettings() Settings {
	return Settings{
		PollInterval:  DefaultPollInterval,
		Stabilization: DefaultStabilization,
		Calibration:   DefaultCalibration,
	}
}

// Change is the payload of a change notification.
type Change struct {
	// Time the new state was entered. For motion this is when the reading
	// was first seen, not when it was confirmed.
	Time time.Time
	// TimeInState is how long the previous state lasted.
	TimeInState time.Duration
	// Value is the new state (true = motion).
	Value bool
}

// EventCounts tracks detector activity since construction.
type EventCounts struct {
	MotionOn   int
	MotionOff  int
	Aborted    int // candidates discarded before stabilization
	ReadErrors int
}

// event is a queued notification awaiting delivery.
type event struct {
	ready  bool
	change Change
}
