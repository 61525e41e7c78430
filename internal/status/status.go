// Package status provides a thread-safe status tracker for the pir-sensor daemon.
// It is read by the HTTP handlers and by the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pir-sensor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Sensor          string
	Backend         string
	Chip            string
	Pin             int
	PollMs          int64
	StabilizationMs int64
	CalibrationMs   int64
	HeartbeatMs     int64
	Broker          string
	HTTPAddr        string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Motion        bool
	Since         time.Time
	Ready         bool
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	BootID        string
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// TimeInState returns how long the current motion state has lasted.
func (s Snapshot) TimeInState() time.Duration {
	if s.Since.IsZero() {
		return 0
	}
	return s.Now.Sub(s.Since)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time, boot id and config.
func NewTracker(startTime time.Time, bootID string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Since:     startTime,
			StartTime: startTime,
			BootID:    bootID,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update sets the confirmed motion state, readiness and event counts.
// Called from runLoop whenever the detector reports.
func (t *Tracker) Update(motion bool, since time.Time, ready bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Motion = motion
	t.snap.Since = since
	t.snap.Ready = ready
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
