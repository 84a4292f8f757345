// Package route watches a device's progress towards a single destination.
package route

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/smukkama/safewalk/internal/geo"
	"github.com/smukkama/safewalk/internal/store"
	"go.uber.org/zap"
)

// Outcome of evaluating one location fix.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeDeviation
	OutcomeArrival
	// OutcomeSuppressed is a deviation inside the cooldown window.
	OutcomeSuppressed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDeviation:
		return "deviation"
	case OutcomeArrival:
		return "arrival"
	case OutcomeSuppressed:
		return "suppressed"
	default:
		return "none"
	}
}

// Result reports what a location fix meant for the tracked route.
type Result struct {
	Outcome  Outcome
	Distance float64
}

// Config holds the tracking thresholds in meters.
type Config struct {
	DeviationMeters float64
	ArrivalMeters   float64
	// Cooldown suppresses repeat deviation alerts; zero alerts on every fix.
	Cooldown time.Duration
}

var ErrInvalidDestination = errors.New("invalid destination coordinates")

// Tracker is owned by one device engine and is not safe for concurrent use.
type Tracker struct {
	deviceID    string
	kv          store.KV
	cfg         Config
	now         func() time.Time
	logger      *zap.Logger
	active      bool
	destination geo.Point
}

func NewTracker(deviceID string, kv store.KV, cfg Config, now func() time.Time, logger *zap.Logger) *Tracker {
	return &Tracker{
		deviceID: deviceID,
		kv:       kv,
		cfg:      cfg,
		now:      now,
		logger:   logger,
	}
}

func (t *Tracker) key(name string) string {
	return store.DeviceKey(t.deviceID, name)
}

// Restore resumes tracking from a persisted destination. A corrupt or
// invalid destination is treated as no route.
func (t *Tracker) Restore(ctx context.Context) {
	var dest geo.Point
	err := store.GetJSON(ctx, t.kv, t.key(store.KeyTrackingDestination), &dest)
	switch {
	case err == nil && dest.Valid():
		t.active = true
		t.destination = dest
	case err == nil, !errors.Is(err, store.ErrNotFound):
		t.logger.Warn("Ignoring stored tracking destination",
			zap.String("device_id", t.deviceID),
			zap.Error(err))
	}
}

// Start begins tracking towards dest, replacing any active route.
func (t *Tracker) Start(ctx context.Context, dest geo.Point) error {
	if !dest.Valid() {
		return ErrInvalidDestination
	}
	if err := store.SetJSON(ctx, t.kv, t.key(store.KeyTrackingDestination), dest); err != nil {
		return fmt.Errorf("failed to persist destination: %w", err)
	}
	if err := t.kv.Delete(ctx, t.key(store.KeyLastDeviationAlert)); err != nil {
		t.logger.Warn("Failed to reset deviation bookkeeping", zap.String("device_id", t.deviceID), zap.Error(err))
	}
	t.active = true
	t.destination = dest
	return nil
}

// Stop ends tracking. Stopping an inactive tracker is a no-op.
func (t *Tracker) Stop(ctx context.Context) error {
	if !t.active {
		return nil
	}
	t.active = false
	if err := t.kv.Delete(ctx, t.key(store.KeyTrackingDestination)); err != nil {
		return fmt.Errorf("failed to clear destination: %w", err)
	}
	return nil
}

func (t *Tracker) Active() bool { return t.active }

// Destination returns the tracked destination when active.
func (t *Tracker) Destination() (geo.Point, bool) {
	return t.destination, t.active
}

// OnLocation evaluates a fix against the destination. Arrival stops tracking.
func (t *Tracker) OnLocation(ctx context.Context, current geo.Point) (Result, error) {
	if !t.active {
		return Result{}, nil
	}

	dist := geo.Distance(current, t.destination)
	switch {
	case dist < t.cfg.ArrivalMeters:
		if err := t.Stop(ctx); err != nil {
			return Result{Outcome: OutcomeArrival, Distance: dist}, err
		}
		return Result{Outcome: OutcomeArrival, Distance: dist}, nil

	case dist > t.cfg.DeviationMeters:
		now := t.now()
		if t.inCooldown(ctx, now) {
			return Result{Outcome: OutcomeSuppressed, Distance: dist}, nil
		}
		stamp := strconv.FormatInt(now.UnixMilli(), 10)
		if err := t.kv.Set(ctx, t.key(store.KeyLastDeviationAlert), stamp); err != nil {
			t.logger.Warn("Failed to record deviation alert time", zap.String("device_id", t.deviceID), zap.Error(err))
		}
		return Result{Outcome: OutcomeDeviation, Distance: dist}, nil

	default:
		return Result{Outcome: OutcomeNone, Distance: dist}, nil
	}
}

func (t *Tracker) inCooldown(ctx context.Context, now time.Time) bool {
	if t.cfg.Cooldown <= 0 {
		return false
	}
	v, err := t.kv.Get(ctx, t.key(store.KeyLastDeviationAlert))
	if err != nil {
		return false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false
	}
	return now.Sub(time.UnixMilli(ms)) < t.cfg.Cooldown
}
