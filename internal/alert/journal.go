package alert

import (
	"context"
	"fmt"

	"github.com/smukkama/safewalk/internal/protocol"
)

// Publisher is the subset of queue.Producer the journal needs.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaJournal publishes alert records keyed by device ID.
type KafkaJournal struct {
	publisher Publisher
}

func NewKafkaJournal(publisher Publisher) *KafkaJournal {
	return &KafkaJournal{publisher: publisher}
}

// Record encodes rec and publishes it.
func (j *KafkaJournal) Record(ctx context.Context, rec *protocol.AlertRecord) error {
	data, err := protocol.EncodeAlertRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode alert record: %w", err)
	}
	if err := j.publisher.Publish(ctx, rec.DeviceID, data); err != nil {
		return fmt.Errorf("failed to publish alert record %s: %w", rec.ID, err)
	}
	return nil
}
