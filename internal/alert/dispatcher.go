// Package alert renders safety messages and fans them out to emergency contacts.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smukkama/safewalk/internal/contacts"
	"github.com/smukkama/safewalk/internal/geo"
	"github.com/smukkama/safewalk/internal/protocol"
	"go.uber.org/zap"
)

// Messenger delivers one text message to one phone number.
type Messenger interface {
	Send(ctx context.Context, phone, body string) error
}

// Journal records the outcome of every dispatch.
type Journal interface {
	Record(ctx context.Context, rec *protocol.AlertRecord) error
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, *protocol.AlertRecord) error { return nil }

// Result counts contacts whose messages all went out and contacts with at
// least one failed send.
type Result struct {
	Sent   int
	Failed int
}

// Dispatcher sends a message to every contact in list order.
type Dispatcher struct {
	messenger Messenger
	journal   Journal
	logger    *zap.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. A nil journal disables journaling.
func NewDispatcher(messenger Messenger, journal Journal, logger *zap.Logger) *Dispatcher {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Dispatcher{
		messenger: messenger,
		journal:   journal,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch sends msg to each contact sequentially. A failure for one contact
// is logged and the remaining contacts are still attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, list []contacts.Contact, msg Message) Result {
	var res Result
	kind := string(msg.Kind)
	dispatchesTotal.WithLabelValues(kind).Inc()

	for _, c := range list {
		if d.sendTo(ctx, deviceID, c, msg) {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	d.logger.Info("Alert dispatched",
		zap.String("device_id", deviceID),
		zap.String("kind", kind),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed))

	rec := &protocol.AlertRecord{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Kind:      kind,
		Sent:      res.Sent,
		Failed:    res.Failed,
		CreatedAt: d.now().UTC(),
	}
	if msg.Location != nil {
		lat, lon := msg.Location.Latitude, msg.Location.Longitude
		rec.Latitude, rec.Longitude = &lat, &lon
	}
	if err := d.journal.Record(ctx, rec); err != nil {
		d.logger.Warn("Failed to journal alert",
			zap.String("device_id", deviceID),
			zap.String("kind", kind),
			zap.Error(err))
	}

	return res
}

func (d *Dispatcher) sendTo(ctx context.Context, deviceID string, c contacts.Contact, msg Message) bool {
	bodies := []string{msg.Body}
	if msg.Location != nil {
		bodies = append(bodies, geo.MapsLink(*msg.Location))
	}

	ok := true
	for _, body := range bodies {
		if err := d.messenger.Send(ctx, c.Phone, body); err != nil {
			ok = false
			messagesTotal.WithLabelValues(string(msg.Kind), "failed").Inc()
			d.logger.Warn("Failed to send alert message",
				zap.String("device_id", deviceID),
				zap.String("contact", c.Name),
				zap.String("kind", string(msg.Kind)),
				zap.Error(err))
			continue
		}
		messagesTotal.WithLabelValues(string(msg.Kind), "sent").Inc()
	}
	return ok
}
