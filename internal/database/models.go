package database

import (
	"time"

	"github.com/smukkama/safewalk/internal/protocol"
)

// AlertLog is one persisted dispatch outcome.
type AlertLog struct {
	ID         string
	DeviceID   string
	Kind       string
	Sent       int
	Failed     int
	Latitude   *float64
	Longitude  *float64
	CreatedAt  time.Time
	RecordedAt time.Time
}

// AlertLogFromRecord converts a journal record into a row.
func AlertLogFromRecord(rec *protocol.AlertRecord) *AlertLog {
	return &AlertLog{
		ID:        rec.ID,
		DeviceID:  rec.DeviceID,
		Kind:      rec.Kind,
		Sent:      rec.Sent,
		Failed:    rec.Failed,
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		CreatedAt: rec.CreatedAt,
	}
}
