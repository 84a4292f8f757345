package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// MessageType represents the type of message
type MessageType string

const (
	// Device to Server
	MsgTypeIdentify  MessageType = "identify"
	MsgTypeAccel     MessageType = "accel"
	MsgTypeLocation  MessageType = "location"
	MsgTypeTrigger   MessageType = "trigger"
	MsgTypeTrack     MessageType = "track"
	MsgTypeCheckIn   MessageType = "checkin"
	MsgTypeKeepalive MessageType = "keepalive"

	// Server to Device
	MsgTypeAck     MessageType = "ack"
	MsgTypeCommand MessageType = "command"
)

// Trigger names accepted in trigger messages.
const (
	TriggerEmergency       = "emergency"
	TriggerShake           = "shake"
	TriggerCheckInReminder = "checkin_reminder"
	TriggerMissedCheckIn   = "missed_checkin"
	TriggerConfirmSafe     = "confirm_safe"
	TriggerShareLocation   = "share_location"
	TriggerCallPolice      = "call_police"
	TriggerCallHelpline    = "call_helpline"
	TriggerStopEmergency   = "stop_emergency"
)

var knownTriggers = map[string]bool{
	TriggerEmergency:       true,
	TriggerShake:           true,
	TriggerCheckInReminder: true,
	TriggerMissedCheckIn:   true,
	TriggerConfirmSafe:     true,
	TriggerShareLocation:   true,
	TriggerCallPolice:      true,
	TriggerCallHelpline:    true,
	TriggerStopEmergency:   true,
}

// IsKnownTrigger reports whether name is a trigger the server handles.
func IsKnownTrigger(name string) bool {
	return knownTriggers[name]
}

// Track actions
const (
	TrackStart = "start"
	TrackStop  = "stop"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// IdentifyMessage is sent by the device on connection
type IdentifyMessage struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id"`
}

// AccelMessage carries one accelerometer sample (m/s²) stamped by the device
type AccelMessage struct {
	Type        MessageType `json:"type"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	Z           float64     `json:"z"`
	TimestampMs int64       `json:"timestamp_ms"`
}

// LocationMessage carries one location fix
type LocationMessage struct {
	Type      MessageType `json:"type"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
}

// TriggerMessage is an opaque named signal
type TriggerMessage struct {
	Type MessageType `json:"type"`
	Name string      `json:"name"`
}

// TrackMessage starts or stops route tracking. Start requires both
// coordinates.
type TrackMessage struct {
	Type      MessageType `json:"type"`
	Action    string      `json:"action"`
	Latitude  *float64    `json:"latitude,omitempty"`
	Longitude *float64    `json:"longitude,omitempty"`
}

// Destination returns the start coordinates. Call it only on a validated
// start message.
func (m *TrackMessage) Destination() (lat, lon float64) {
	return *m.Latitude, *m.Longitude
}

// CheckInMessage (re)arms the periodic check-in. Zero uses the saved interval.
type CheckInMessage struct {
	Type            MessageType `json:"type"`
	IntervalMinutes int         `json:"interval_minutes,omitempty"`
}

// KeepaliveMessage is sent by the device every 30-60 seconds
type KeepaliveMessage struct {
	Type MessageType `json:"type"`
}

// AckMessage is sent by the server in response to messages
type AckMessage struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// AckStatus constants
const (
	AckStatusIdentified = "identified"
	AckStatusAlive      = "alive"
	AckStatusAccepted   = "accepted"
	AckStatusError      = "error"
)

// ParseMessage parses a JSON line into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeIdentify:
		var msg IdentifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid identify message: %w", err)
		}
		if msg.DeviceID == "" {
			return nil, fmt.Errorf("device_id is required")
		}
		return &msg, nil

	case MsgTypeAccel:
		var msg AccelMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid accel message: %w", err)
		}
		if msg.TimestampMs <= 0 {
			return nil, fmt.Errorf("timestamp_ms is required")
		}
		return &msg, nil

	case MsgTypeLocation:
		var msg LocationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid location message: %w", err)
		}
		if err := validateCoordinates(msg.Latitude, msg.Longitude); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeTrigger:
		var msg TriggerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid trigger message: %w", err)
		}
		if !IsKnownTrigger(msg.Name) {
			return nil, fmt.Errorf("unknown trigger: %q", msg.Name)
		}
		return &msg, nil

	case MsgTypeTrack:
		var msg TrackMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid track message: %w", err)
		}
		if err := validateTrack(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeCheckIn:
		var msg CheckInMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid checkin message: %w", err)
		}
		if msg.IntervalMinutes < 0 {
			return nil, fmt.Errorf("interval_minutes must not be negative")
		}
		return &msg, nil

	case MsgTypeKeepalive:
		var msg KeepaliveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid keepalive message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

func validateTrack(msg *TrackMessage) error {
	switch msg.Action {
	case TrackStart:
		if msg.Latitude == nil || msg.Longitude == nil {
			return fmt.Errorf("track start requires latitude and longitude")
		}
		return validateCoordinates(*msg.Latitude, *msg.Longitude)
	case TrackStop:
		return nil
	default:
		return fmt.Errorf("unknown track action: %q", msg.Action)
	}
}

func validateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("invalid coordinates: %v,%v", lat, lon)
	}
	return nil
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// NewAckMessage creates a new acknowledgment message
func NewAckMessage(status string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: status,
	}
}
