package protocol

import (
	"encoding/json"
	"time"
)

// AlertRecord is the journal entry published to Kafka for every dispatch
type AlertRecord struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EncodeAlertRecord encodes an AlertRecord to JSON
func EncodeAlertRecord(rec *AlertRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeAlertRecord decodes JSON to AlertRecord
func DecodeAlertRecord(data []byte) (*AlertRecord, error) {
	var rec AlertRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
