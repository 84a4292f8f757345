package queue

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smukkama/safewalk/internal/database"
	"github.com/smukkama/safewalk/internal/protocol"
	"go.uber.org/zap"
)

const maxRetryBackoff = time.Minute

// MessageSource is the consuming side of a Kafka topic.
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// AlertStore persists alert log rows.
type AlertStore interface {
	InsertAlertLogs(ctx context.Context, rows []*database.AlertLog) (int64, error)
}

// BatchWriter consumes alert records and writes them to the alert log in
// batches. Offsets are committed only after the batch is stored. While a
// batch fails to store, consumption pauses so the buffer never exceeds one
// batch.
type BatchWriter struct {
	source        MessageSource
	store         AlertStore
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(source MessageSource, store AlertStore, batchSize int, flushInterval time.Duration, logger *zap.Logger) *BatchWriter {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchWriter{
		source:        source,
		store:         store,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the database
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.wg.Add(1)
	go bw.run(ctx)
}

// Stop flushes what is buffered and waits for the writer to exit.
func (bw *BatchWriter) Stop() {
	bw.stopOnce.Do(func() { close(bw.stopCh) })
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgChan := make(chan kafka.Message, bw.batchSize)
	go bw.consume(consumeCtx, msgChan)

	var (
		batch   []kafka.Message
		retry   <-chan time.Time
		backoff time.Duration
	)
	// in is nil while a failed batch waits for its retry.
	in := msgChan
	flush := func(ctx context.Context) {
		batch = bw.flush(ctx, batch)
		if len(batch) == 0 {
			in, retry, backoff = msgChan, nil, 0
			return
		}
		backoff = nextBackoff(backoff, bw.flushInterval)
		in, retry = nil, time.After(backoff)
		bw.logger.Warn("Pausing consumption until the alert batch is stored",
			zap.Int("messages", len(batch)),
			zap.Duration("retry_in", backoff))
	}

	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bw.stopCh:
			cancel()
			flushCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			bw.flush(flushCtx, batch)
			done()
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if retry == nil && len(batch) > 0 {
				flush(ctx)
			}

		case <-retry:
			flush(ctx)

		case msg := <-in:
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize {
				flush(ctx)
			}
		}
	}
}

// nextBackoff doubles the retry delay from base up to maxRetryBackoff.
func nextBackoff(prev, base time.Duration) time.Duration {
	if prev <= 0 {
		prev = base / 2
	}
	next := prev * 2
	if next > maxRetryBackoff {
		next = maxRetryBackoff
	}
	return next
}

func (bw *BatchWriter) consume(ctx context.Context, out chan<- kafka.Message) {
	for {
		msg, err := bw.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			bw.logger.Warn("Consumer error", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// flush stores batch and commits it. On a store failure the batch is
// returned so the next flush retries it.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	if len(batch) == 0 {
		return nil
	}

	rows := make([]*database.AlertLog, 0, len(batch))
	for _, msg := range batch {
		rec, err := protocol.DecodeAlertRecord(msg.Value)
		if err != nil || rec.ID == "" {
			bw.logger.Warn("Skipping undecodable alert record",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}
		rows = append(rows, database.AlertLogFromRecord(rec))
	}

	inserted, err := bw.store.InsertAlertLogs(ctx, rows)
	if err != nil {
		bw.logger.Error("Failed to write alert batch, will retry",
			zap.Int("records", len(rows)),
			zap.Error(err))
		return batch
	}

	if err := bw.source.Commit(ctx, batch...); err != nil {
		bw.logger.Error("Failed to commit offsets", zap.Error(err))
	}

	bw.logger.Info("Flushed alert batch",
		zap.Int("messages", len(batch)),
		zap.Int64("inserted", inserted))
	return nil
}
