package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/pir-sensor/internal/clock"
	"github.com/sweeney/pir-sensor/internal/gpio"
	"github.com/sweeney/pir-sensor/internal/logic"
	"github.com/sweeney/pir-sensor/internal/mqtt"
	"github.com/sweeney/pir-sensor/internal/status"
	"github.com/sweeney/pir-sensor/internal/web"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	poll        = 50 * time.Millisecond
	stabilize   = 9 * time.Second
	calibration = 30 * time.Second
)

// pipeline wires a detector to a publisher and tracker the way the daemon
// does, but synchronously: listeners publish directly.
type pipeline struct {
	clk       *clock.Fake
	detector  *logic.Detector
	publisher *mqtt.FakePublisher
	tracker   *status.Tracker
	metrics   *status.Metrics
}

func newPipeline(t *testing.T, pin gpio.Pin) *pipeline {
	t.Helper()
	p := &pipeline{
		clk:       clock.NewFake(start),
		publisher: mqtt.NewFakePublisher(),
		tracker:   status.NewTracker(start, "boot-1", status.Config{Sensor: "hall"}),
		metrics:   status.NewMetrics("hall"),
	}

	detector, err := logic.NewDetector(p.clk, zap.NewNop(), logic.Options{
		Pin:           pin,
		PollInterval:  poll,
		Stabilization: stabilize,
		Calibration:   calibration,
	})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	p.detector = detector

	detector.OnReady(func() {
		p.metrics.SetReady(true)
		p.refresh()
	})
	detector.OnChange(func(c logic.Change) {
		p.metrics.ObserveChange(c)
		if err := p.publisher.Publish(mqtt.Event{Sensor: "hall", Change: c}); err != nil {
			t.Errorf("publish: %v", err)
		}
		p.refresh()
	})
	t.Cleanup(func() { detector.Close() })
	return p
}

func (p *pipeline) refresh() {
	motion, since := p.detector.State()
	counts := p.detector.Counts()
	p.tracker.Update(motion, since, p.detector.IsReady(), counts)
	p.metrics.SyncCounts(counts)
}

// samples returns n copies of v.
func samples(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// TestIntegrationFullFlow tests the complete flow from pin to MQTT using fakes.
func TestIntegrationFullFlow(t *testing.T) {
	// One sample per poll tick: motion for 15s, then clear.
	var script []bool
	script = append(script, samples(true, 300)...)
	script = append(script, false)
	pin := gpio.NewFakePin(script...)
	p := newPipeline(t, pin)

	p.clk.Advance(calibration)
	if pin.Reads() != 0 {
		t.Fatalf("pin read %d times during calibration", pin.Reads())
	}
	t0 := start.Add(calibration)

	p.clk.Advance(15*time.Second + poll)

	if len(p.publisher.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(p.publisher.Events))
	}

	on := p.publisher.Events[0].Change
	if !on.Value {
		t.Error("event 0: expected motion")
	}
	if !on.Time.Equal(t0.Add(poll)) {
		t.Errorf("event 0: time %v, want %v", on.Time, t0.Add(poll))
	}
	if on.TimeInState != poll {
		t.Errorf("event 0: time in state %v, want %v", on.TimeInState, poll)
	}

	off := p.publisher.Events[1].Change
	if off.Value {
		t.Error("event 1: expected no motion")
	}
	if !off.Time.Equal(t0.Add(15*time.Second + poll)) {
		t.Errorf("event 1: time %v, want %v", off.Time, t0.Add(15*time.Second+poll))
	}
	if off.TimeInState != 15*time.Second {
		t.Errorf("event 1: time in state %v, want 15s", off.TimeInState)
	}

	// Verify JSON payloads
	for i, payload := range p.publisher.Payloads {
		var parsed mqtt.Payload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Errorf("payload %d: invalid JSON: %v", i, err)
		}
		if parsed.Motion.Timestamp == "" {
			t.Errorf("payload %d: missing timestamp", i)
		}
		if parsed.Motion.Sensor != "hall" {
			t.Errorf("payload %d: sensor %q, want hall", i, parsed.Motion.Sensor)
		}
	}
	var last mqtt.Payload
	json.Unmarshal(p.publisher.Payloads[1], &last)
	if last.Motion.TimeInStateMs != 15000 {
		t.Errorf("MOTION_OFF time_in_state_ms: got %d, want 15000", last.Motion.TimeInStateMs)
	}
}

// TestIntegrationNoEventsDuringCalibration verifies the pin is ignored while
// the sensor warms up.
func TestIntegrationNoEventsDuringCalibration(t *testing.T) {
	pin := gpio.NewFakePin()
	pin.Set(true)
	p := newPipeline(t, pin)

	p.clk.Advance(calibration - time.Millisecond)

	if len(p.publisher.Events) != 0 {
		t.Errorf("expected 0 events during calibration, got %d", len(p.publisher.Events))
	}
	if p.tracker.Snapshot().Ready {
		t.Error("tracker should not be ready during calibration")
	}
	if pin.Inputs() != 0 {
		t.Errorf("pin configured %d times during calibration", pin.Inputs())
	}
}

// TestIntegrationBounceRejection verifies a short burst never reaches MQTT.
func TestIntegrationBounceRejection(t *testing.T) {
	var script []bool
	for i := 0; i < 10; i++ {
		script = append(script, samples(true, 100)...) // 5s of motion
		script = append(script, false)
	}
	pin := gpio.NewFakePin(append(script, false)...)
	p := newPipeline(t, pin)

	p.clk.Advance(calibration)
	p.clk.Advance(time.Duration(len(script)) * poll)

	if len(p.publisher.Events) != 0 {
		t.Errorf("expected 0 events, got %d", len(p.publisher.Events))
	}
	if got := p.tracker.Snapshot().Counts.Aborted; got != 10 {
		t.Errorf("Aborted: got %d, want 10", got)
	}
}

// TestIntegrationReadErrorsClearMotion verifies a failing pin ends motion.
func TestIntegrationReadErrorsClearMotion(t *testing.T) {
	pin := gpio.NewFakePin()
	pin.Set(true)
	p := newPipeline(t, pin)

	p.clk.Advance(calibration + poll + stabilize)
	if motion, _ := p.detector.State(); !motion {
		t.Fatal("expected confirmed motion")
	}

	pin.SetReadError(errors.New("line gone"))
	p.clk.Advance(poll)

	if len(p.publisher.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(p.publisher.Events))
	}
	if p.publisher.Events[1].Change.Value {
		t.Error("read error should clear motion")
	}
	if got := p.tracker.Snapshot().Counts.ReadErrors; got != 1 {
		t.Errorf("ReadErrors: got %d, want 1", got)
	}
}

// TestIntegrationSwitchPin verifies Configure moves polling to a new pin and
// clears motion on the old one.
func TestIntegrationSwitchPin(t *testing.T) {
	oldPin := gpio.NewFakePin()
	oldPin.Set(true)
	p := newPipeline(t, oldPin)

	p.clk.Advance(calibration + poll + stabilize)

	newPin := gpio.NewFakePin()
	if err := p.detector.Configure(logic.Options{Pin: newPin}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	oldReads := oldPin.Reads()
	p.clk.Advance(time.Second)

	if oldPin.Reads() != oldReads {
		t.Error("old pin still polled after switch")
	}
	if newPin.Inputs() != 1 {
		t.Errorf("new pin Input calls: got %d, want 1", newPin.Inputs())
	}
	if newPin.Reads() == 0 {
		t.Error("new pin not polled")
	}
	if len(p.publisher.Events) != 2 || p.publisher.Events[1].Change.Value {
		t.Fatalf("expected MOTION_ON then MOTION_OFF, got %d events", len(p.publisher.Events))
	}
}

// TestIntegrationStatusServer verifies detector state reaches the HTTP API.
func TestIntegrationStatusServer(t *testing.T) {
	pin := gpio.NewFakePin()
	pin.Set(true)
	p := newPipeline(t, pin)

	ts := httptest.NewServer(web.New(":0", p.tracker, p.metrics.Registry).Handler())
	defer ts.Close()

	p.clk.Advance(calibration + poll + stabilize)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.State != status.StateMotion {
		t.Errorf("State: got %q, want MOTION", sj.Status.State)
	}
	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if sj.Status.Counts.MotionOn != 1 {
		t.Errorf("Counts.MotionOn: got %d, want 1", sj.Status.Counts.MotionOn)
	}
}
