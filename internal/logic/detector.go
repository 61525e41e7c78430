package logic

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/pir-sensor/internal/clock"
	"github.com/sweeney/pir-sensor/internal/gpio"
)

// Detector debounces a PIR pin into motion / no-motion transitions.
//
// After construction the detector ignores the pin for the calibration
// period, emits ready, then polls the pin. A motion reading must hold for
// the stabilization window before it is confirmed; a single no-motion
// reading during that window discards it. Leaving motion is immediate.
//
// Timer callbacks and Configure are serialized by mu. Notifications are
// queued under mu and delivered in order after it is released, so
// listeners may call back into the detector.
type Detector struct {
	clock     clock.Clock
	logger    *zap.Logger
	listeners listeners

	mu       sync.Mutex
	pin      gpio.Pin
	settings Settings
	pending  Options // applied when calibration completes

	calibration   clock.Timer
	poll          clock.Timer
	pollGen       uint64
	stabilizer    clock.Timer // nil when no candidate is pending
	stabilizerGen uint64

	motion      bool      // confirmed state
	candidate   bool      // unconfirmed motion reading
	candidateAt time.Time // when the candidate was first seen
	since       time.Time // when the confirmed state was entered
	ready       bool
	closed      bool
	counts      EventCounts

	queue      []event
	delivering bool
}

// NewDetector validates opts and schedules calibration. It does not read the
// pin until calibration completes.
func NewDetector(clk clock.Clock, logger *zap.Logger, opts Options) (*Detector, error) {
	if opts.Pin == nil {
		return nil, ErrNoPin
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Detector{
		clock:    clk,
		logger:   logger,
		pin:      opts.Pin,
		settings: defaultSettings(),
		pending:  opts,
		since:    clk.Now(),
	}
	d.listeners.logger = logger
	if opts.Calibration > 0 {
		d.settings.Calibration = opts.Calibration
	}

	d.mu.Lock()
	d.calibration = clk.AfterFunc(d.settings.Calibration, d.calibrated)
	d.mu.Unlock()

	logger.Info("pir sensor calibrating", zap.Duration("calibration", d.settings.Calibration))
	return d, nil
}

// OnReady registers fn to run once calibration completes. The returned
// function removes the listener.
func (d *Detector) OnReady(fn func()) (remove func()) {
	return d.listeners.addReady(fn)
}

// OnChange registers fn to run on every confirmed transition. The returned
// function removes the listener.
func (d *Detector) OnChange(fn func(Change)) (remove func()) {
	return d.listeners.addChange(fn)
}

// Configure resets the detector with new options. Zero-valued fields keep
// their previous value; Calibration is ignored.
//
// If the detector is polling, any pending candidate is discarded and the
// confirmed state is forced to false (emitting a change if motion was
// present) before the new options apply. Before calibration completes the
// options are only recorded.
func (d *Detector) Configure(opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}
	opts.Calibration = 0

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if !d.ready {
		d.pending = d.pending.merge(opts)
		d.mu.Unlock()
		return nil
	}
	err := d.configureLocked(opts)
	d.mu.Unlock()

	d.deliver()
	return err
}

func (d *Detector) configureLocked(opts Options) error {
	now := d.clock.Now()

	if d.poll != nil {
		d.poll.Stop()
		d.poll = nil
		d.pollGen++
		d.clearStabilizerLocked()
		d.transitionLocked(now, false)
	}

	if opts.Pin != nil {
		d.pin = opts.Pin
	}
	if opts.PollInterval > 0 {
		d.settings.PollInterval = opts.PollInterval
	}
	if opts.Stabilization > 0 {
		d.settings.Stabilization = opts.Stabilization
	}

	// motion is already false here: either polling never started or the
	// forced transition above cleared it.
	d.candidate = false
	d.since = now

	if err := d.pin.Input(); err != nil {
		return fmt.Errorf("set pin input mode: %w", err)
	}

	d.pollGen++
	gen := d.pollGen
	d.poll = d.clock.Every(d.settings.PollInterval, func() { d.tick(gen) })

	d.logger.Info("pir sensor polling",
		zap.Duration("poll", d.settings.PollInterval),
		zap.Duration("stabilization", d.settings.Stabilization),
	)
	return nil
}

func (d *Detector) calibrated() {
	d.mu.Lock()
	if d.closed || d.ready {
		d.mu.Unlock()
		return
	}
	d.calibration = nil
	d.ready = true
	d.queue = append(d.queue, event{ready: true})
	d.logger.Info("pir sensor calibrated")

	opts := d.pending
	d.pending = Options{}
	err := d.configureLocked(opts)
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("configure after calibration", zap.Error(err))
	}
	d.deliver()
}

// tick samples the pin and applies the first matching debounce rule.
func (d *Detector) tick(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.pollGen {
		d.mu.Unlock()
		return
	}

	sample, err := d.pin.Read()
	if err != nil {
		d.counts.ReadErrors++
		d.logger.Debug("pin read failed, treating as no motion", zap.Error(err))
		sample = false
	}
	now := d.clock.Now()

	switch {
	case !d.motion && !d.candidate && sample:
		d.candidate = true
		d.candidateAt = now
		d.stabilizerGen++
		sgen := d.stabilizerGen
		d.stabilizer = d.clock.AfterFunc(d.settings.Stabilization, func() { d.stabilized(sgen, now) })
		d.logger.Debug("motion candidate", zap.Time("since", now))

	case d.candidate && !sample:
		d.clearStabilizerLocked()
		d.counts.Aborted++
		d.logger.Debug("motion candidate discarded", zap.Duration("held", now.Sub(d.candidateAt)))

	case d.motion && !sample:
		d.transitionLocked(now, false)
	}
	d.mu.Unlock()

	d.deliver()
}

// stabilized confirms the candidate first seen at since.
func (d *Detector) stabilized(gen uint64, since time.Time) {
	d.mu.Lock()
	if d.closed || gen != d.stabilizerGen || !d.candidate {
		d.mu.Unlock()
		return
	}
	d.transitionLocked(since, true)
	d.mu.Unlock()

	d.deliver()
}

// clearStabilizerLocked stops any pending stabilization timer and drops the
// candidate. Bumping the generation invalidates a callback already in flight.
func (d *Detector) clearStabilizerLocked() {
	if d.stabilizer != nil {
		d.stabilizer.Stop()
		d.stabilizer = nil
	}
	d.stabilizerGen++
	d.candidate = false
}

// transition sets the confirmed state and delivers the resulting change.
func (d *Detector) transition(now time.Time, value bool) bool {
	d.mu.Lock()
	prev := d.transitionLocked(now, value)
	d.mu.Unlock()

	d.deliver()
	return prev
}

// transitionLocked is the only writer of the confirmed state. It queues
// exactly one change, or none if value is unchanged, and returns the
// previous value.
func (d *Detector) transitionLocked(now time.Time, value bool) bool {
	if value == d.motion {
		return d.motion
	}

	prev := d.motion
	change := Change{
		Time:        now,
		TimeInState: now.Sub(d.since),
		Value:       value,
	}
	d.motion = value
	d.clearStabilizerLocked()
	if value {
		d.counts.MotionOn++
	} else {
		d.counts.MotionOff++
	}
	d.queue = append(d.queue, event{change: change})
	d.since = now

	d.logger.Info("motion changed",
		zap.Bool("motion", value),
		zap.Duration("time_in_state", change.TimeInState),
	)
	return prev
}

// deliver drains the notification queue. Only one goroutine drains at a
// time; others return after queueing.
func (d *Detector) deliver() {
	d.mu.Lock()
	if d.delivering {
		d.mu.Unlock()
		return
	}
	d.delivering = true
	for len(d.queue) > 0 {
		e := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		d.listeners.dispatch(e)
		d.mu.Lock()
	}
	d.queue = nil
	d.delivering = false
	d.mu.Unlock()
}

// State returns the confirmed motion state and when it was entered.
func (d *Detector) State() (motion bool, since time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.motion, d.since
}

// IsReady reports whether calibration has completed.
func (d *Detector) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Counts returns a copy of the event counters.
func (d *Detector) Counts() EventCounts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}

// Settings returns the effective timing parameters.
func (d *Detector) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Close stops all timers without emitting. Configure fails afterwards.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.calibration != nil {
		d.calibration.Stop()
		d.calibration = nil
	}
	if d.poll != nil {
		d.poll.Stop()
		d.poll = nil
	}
	d.pollGen++
	d.clearStabilizerLocked()
	return nil
}
