package status

import (
	"encoding/json"
	"time"
)

// Motion states as reported in JSON.
const (
	StateMotion = "MOTION"
	StateClear  = "CLEAR"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Sensor        string     `json:"sensor"`
	State         string     `json:"state"`
	Motion        bool       `json:"motion"`
	TimeInStateMs int64      `json:"time_in_state_ms"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	BootID        string     `json:"boot_id,omitempty"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	MotionOn   int `json:"motion_on"`
	MotionOff  int `json:"motion_off"`
	Aborted    int `json:"aborted"`
	ReadErrors int `json:"read_errors"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Backend         string `json:"backend"`
	Chip            string `json:"chip,omitempty"`
	Pin             int    `json:"pin"`
	PollMs          int64  `json:"poll_ms"`
	StabilizationMs int64  `json:"stabilization_ms"`
	CalibrationMs   int64  `json:"calibration_ms"`
	HeartbeatMs     int64  `json:"heartbeat_ms"`
	Broker          string `json:"broker"`
	HTTPAddr        string `json:"http_addr"`
}

// StateName returns MOTION or CLEAR.
func StateName(motion bool) string {
	if motion {
		return StateMotion
	}
	return StateClear
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Sensor:        snap.Config.Sensor,
		State:         StateName(snap.Motion),
		Motion:        snap.Motion,
		TimeInStateMs: snap.TimeInState().Milliseconds(),
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		BootID:        snap.BootID,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			MotionOn:   snap.Counts.MotionOn,
			MotionOff:  snap.Counts.MotionOff,
			Aborted:    snap.Counts.Aborted,
			ReadErrors: snap.Counts.ReadErrors,
		},
		Config: ConfigJSON{
			Backend:         snap.Config.Backend,
			Chip:            snap.Config.Chip,
			Pin:             snap.Config.Pin,
			PollMs:          snap.Config.PollMs,
			StabilizationMs: snap.Config.StabilizationMs,
			CalibrationMs:   snap.Config.CalibrationMs,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			Broker:          snap.Config.Broker,
			HTTPAddr:        snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
