// Package mqtt provides MQTT publishing of motion events with abstraction for
// testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/pir-sensor/internal/logic"
)

// DefaultTopicPrefix is the root under which each sensor publishes.
const DefaultTopicPrefix = "home/motion"

// TimestampLayout is RFC 3339 with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Motion event types.
const (
	EventMotionOn  = "MOTION_ON"
	EventMotionOff = "MOTION_OFF"
)

// Topics are the MQTT topics of one sensor.
type Topics struct {
	Events string
	System string
}

// TopicsFor returns the topics for sensor under prefix.
func TopicsFor(prefix, sensor string) Topics {
	base := prefix + "/" + sensor
	return Topics{
		Events: base + "/events",
		System: base + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a motion event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Event is a confirmed motion change from one sensor.
type Event struct {
	Sensor string
	Change logic.Change
}

// Type returns MOTION_ON or MOTION_OFF.
func (e Event) Type() string {
	if e.Change.Value {
		return EventMotionOn
	}
	return EventMotionOff
}

// SystemEvent represents a system lifecycle event (e.g., startup, ready,
// shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "READY", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	BootID     string
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Motion MotionPayload `json:"motion"`
}

// MotionPayload contains the motion event details.
type MotionPayload struct {
	Timestamp     string `json:"timestamp"`
	Event         string `json:"event"`
	Sensor        string `json:"sensor"`
	Value         bool   `json:"value"`
	TimeInStateMs int64  `json:"time_in_state_ms"`
}

// FormatPayload creates the JSON payload for a motion event.
func FormatPayload(event Event) ([]byte, error) {
	payload := Payload{
		Motion: MotionPayload{
			Timestamp:     event.Change.Time.UTC().Format(TimestampLayout),
			Event:         event.Type(),
			Sensor:        event.Sensor,
			Value:         event.Change.Value,
			TimeInStateMs: event.Change.TimeInState.Milliseconds(),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	BootID    string `json:"boot_id,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(TimestampLayout),
			Event:     event.Event,
			Reason:    event.Reason,
			BootID:    event.BootID,
		},
	}
	return json.Marshal(payload)
}
