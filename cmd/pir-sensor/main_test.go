package main

import (
	"encoding/json"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/pir-sensor/internal/clock"
	"github.com/sweeney/pir-sensor/internal/gpio"
	"github.com/sweeney/pir-sensor/internal/logic"
	"github.com/sweeney/pir-sensor/internal/mqtt"
	"github.com/sweeney/pir-sensor/internal/status"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	testPoll        = 50 * time.Millisecond
	testStabilize   = 9 * time.Second
	testCalibration = 30 * time.Second
)

// harness runs runLoop on its own goroutine against a detector driven by a
// fake clock. Only the test goroutine advances the clock.
type harness struct {
	clk       *clock.Fake
	pin       *gpio.FakePin
	detector  *logic.Detector
	pub       *mqtt.FakePublisher
	tracker   *status.Tracker
	sig       chan os.Signal
	heartbeat chan time.Time
	done      chan error
}

func startLoop(t *testing.T, pub *mqtt.FakePublisher) *harness {
	t.Helper()
	h := &harness{
		clk:       clock.NewFake(epoch),
		pin:       gpio.NewFakePin(),
		pub:       pub,
		tracker:   status.NewTracker(epoch, "boot-1", status.Config{Sensor: "hall"}),
		sig:       make(chan os.Signal),
		heartbeat: make(chan time.Time),
		done:      make(chan error, 1),
	}

	detector, err := logic.NewDetector(h.clk, zap.NewNop(), logic.Options{
		Pin:           h.pin,
		PollInterval:  testPoll,
		Stabilization: testStabilize,
		Calibration:   testCalibration,
	})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	h.detector = detector

	notifications := make(chan notification, notificationBuffer)
	subscribe(detector, notifications)

	l := loop{
		detector:      detector,
		sensor:        "hall",
		bootID:        "boot-1",
		publisher:     pub,
		mqttStatus:    pub,
		tracker:       h.tracker,
		metrics:       status.NewMetrics("hall"),
		logger:        zap.NewNop(),
		now:           h.clk.Now,
		notifications: notifications,
		heartbeat:     h.heartbeat,
		sig:           h.sig,
	}
	go func() { h.done <- runLoop(l) }()
	return h
}

// stop delivers s and waits for runLoop to return.
func (h *harness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("runLoop returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return after signal")
	}
}

// motionCycle calibrates, holds motion through stabilization, then clears.
func (h *harness) motionCycle() {
	h.clk.Advance(testCalibration)
	h.pin.Set(true)
	h.clk.Advance(testPoll)      // candidate
	h.clk.Advance(testStabilize) // confirmed
	h.pin.Set(false)
	h.clk.Advance(testPoll) // cleared
}

func parseStatus(t *testing.T, se mqtt.SystemEvent) status.StatusJSON {
	t.Helper()
	var sj status.StatusJSON
	if err := json.Unmarshal(se.RawPayload, &sj); err != nil {
		t.Fatalf("invalid status payload: %v", err)
	}
	return sj
}

func TestRunLoopShutdownBeforeReady(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startLoop(t, pub)

	h.stop(t, syscall.SIGTERM)

	if len(pub.Events) != 0 {
		t.Errorf("expected 0 motion events, got %d", len(pub.Events))
	}
	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	se := pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN event, got %q", se.Event)
	}
	if se.Reason != "SIGTERM" {
		t.Errorf("expected reason SIGTERM, got %q", se.Reason)
	}
	if !se.Retained {
		t.Error("expected Retained=true for SHUTDOWN")
	}
	if sj := parseStatus(t, se); sj.Status.Ready {
		t.Error("SHUTDOWN before calibration should report ready=false")
	}
}

func TestRunLoopShutdownClosesDetector(t *testing.T) {
	h := startLoop(t, mqtt.NewFakePublisher())
	h.stop(t, syscall.SIGTERM)

	if err := h.detector.Configure(logic.Options{}); !errors.Is(err, logic.ErrClosed) {
		t.Errorf("Configure after shutdown: got %v, want ErrClosed", err)
	}
	if h.clk.Pending() != 0 {
		t.Errorf("expected no pending timers after shutdown, got %d", h.clk.Pending())
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startLoop(t, pub)

	h.stop(t, syscall.SIGINT)

	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	if pub.SystemEvents[0].Reason != "SIGINT" {
		t.Errorf("expected reason SIGINT, got %q", pub.SystemEvents[0].Reason)
	}
}

func TestRunLoopReady(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startLoop(t, pub)

	h.clk.Advance(testCalibration)
	h.stop(t, syscall.SIGTERM)

	names := pub.SystemEventNames()
	if len(names) != 2 || names[0] != "READY" || names[1] != "SHUTDOWN" {
		t.Fatalf("system events: got %v, want [READY SHUTDOWN]", names)
	}
	ready := pub.SystemEvents[0]
	if !ready.Retained {
		t.Error("expected Retained=true for READY")
	}
	if ready.BootID != "boot-1" {
		t.Errorf("BootID: got %q, want boot-1", ready.BootID)
	}
	if !ready.Timestamp.Equal(epoch.Add(testCalibration)) {
		t.Errorf("Timestamp: got %v, want %v", ready.Timestamp, epoch.Add(testCalibration))
	}
	sj := parseStatus(t, ready)
	if !sj.Status.Ready {
		t.Error("READY payload should report ready=true")
	}
	if sj.Status.Event != "READY" {
		t.Errorf("payload event: got %q, want READY", sj.Status.Event)
	}
	if !h.tracker.Snapshot().Ready {
		t.Error("tracker should be ready")
	}
}

func TestRunLoopMotionCycle(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startLoop(t, pub)

	h.motionCycle()
	h.stop(t, syscall.SIGTERM)

	if len(pub.Events) != 2 {
		t.Fatalf("expected 2 motion events, got %d", len(pub.Events))
	}

	on := pub.Events[0]
	if on.Type() != mqtt.EventMotionOn {
		t.Errorf("first event: got %s, want MOTION_ON", on.Type())
	}
	if on.Sensor != "hall" {
		t.Errorf("Sensor: got %q, want hall", on.Sensor)
	}
	wantOnAt := epoch.Add(testCalibration + testPoll)
	if !on.Change.Time.Equal(wantOnAt) {
		t.Errorf("MOTION_ON time: got %v, want %v", on.Change.Time, wantOnAt)
	}

	off := pub.Events[1]
	if off.Type() != mqtt.EventMotionOff {
		t.Errorf("second event: got %s, want MOTION_OFF", off.Type())
	}
	if off.Change.TimeInState != testStabilize+testPoll {
		t.Errorf("MOTION_OFF time in state: got %v, want %v", off.Change.TimeInState, testStabilize+testPoll)
	}

	snap := h.tracker.Snapshot()
	if snap.Motion {
		t.Error("tracker should report no motion after cycle")
	}
	if snap.Counts.MotionOn != 1 || snap.Counts.MotionOff != 1 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
}

func TestRunLoopAbortedCandidate(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startLoop(t, pub)

	h.clk.Advance(testCalibration)
	h.pin.Set(true)
	h.clk.Advance(5 * time.Second)
	h.pin.Set(false)
	h.clk.Advance(testStabilize)
	h.stop(t, syscall.SIGTERM)

	if len(pub.Events) != 0 {
		t.Errorf("expected 0 motion events, got %d", len(pub.Events))
	}
	if got := h.tracker.Snapshot().Counts.Aborted; got != 1 {
		t.Errorf("Aborted: got %d, want 1", got)
	}
	sj := parseStatus(t, pub.SystemEvents[len(pub.SystemEvents)-1])
	if sj.Status.Counts.Aborted != 1 {
		t.Errorf("SHUTDOWN payload aborted: got %d, want 1", sj.Status.Counts.Aborted)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	h := startLoop(t, pub)

	h.heartbeat <- epoch
	h.stop(t, syscall.SIGTERM)

	names := pub.SystemEventNames()
	if len(names) != 2 || names[0] != "HEARTBEAT" || names[1] != "SHUTDOWN" {
		t.Fatalf("system events: got %v, want [HEARTBEAT SHUTDOWN]", names)
	}
	hb := pub.SystemEvents[0]
	if hb.Retained {
		t.Error("expected Retained=false for HEARTBEAT")
	}
	sj := parseStatus(t, hb)
	if !sj.Status.MQTT.Connected {
		t.Error("HEARTBEAT payload should report mqtt connected")
	}
	if sj.Status.BootID != "boot-1" {
		t.Errorf("BootID: got %q, want boot-1", sj.Status.BootID)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	h := startLoop(t, pub)

	h.motionCycle()
	h.stop(t, syscall.SIGTERM)

	if len(pub.Events) != 0 {
		t.Errorf("expected no recorded events, got %d", len(pub.Events))
	}
	names := pub.SystemEventNames()
	if len(names) != 2 || names[1] != "SHUTDOWN" {
		t.Errorf("system events: got %v, want [READY SHUTDOWN]", names)
	}
	if got := h.tracker.Snapshot().Counts.MotionOn; got != 1 {
		t.Errorf("tracker MotionOn: got %d, want 1", got)
	}
}

func TestRunLoopSystemPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("broker down")
	h := startLoop(t, pub)

	h.motionCycle()
	h.stop(t, syscall.SIGTERM)

	if len(pub.Events) != 2 {
		t.Errorf("expected 2 motion events, got %d", len(pub.Events))
	}
	if len(pub.SystemEvents) != 0 {
		t.Errorf("expected no recorded system events, got %d", len(pub.SystemEvents))
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}
