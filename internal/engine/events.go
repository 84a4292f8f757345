package engine

import (
	"context"

	"github.com/smukkama/safewalk/internal/checkin"
	"github.com/smukkama/safewalk/internal/geo"
	"github.com/smukkama/safewalk/internal/shake"
)

// event is applied on the engine goroutine.
type event interface {
	apply(ctx context.Context, e *Engine)
}

type accelEvent struct{ sample shake.Sample }

func (ev accelEvent) apply(ctx context.Context, e *Engine) { e.onAccel(ctx, ev.sample) }

type locationEvent struct{ point geo.Point }

func (ev locationEvent) apply(ctx context.Context, e *Engine) { e.onLocation(ctx, ev.point) }

type triggerEvent struct{ name string }

func (ev triggerEvent) apply(ctx context.Context, e *Engine) { e.onTrigger(ctx, ev.name) }

type trackEvent struct {
	start bool
	dest  geo.Point
	reply chan error
}

func (ev trackEvent) apply(ctx context.Context, e *Engine) {
	ev.reply <- e.onTrack(ctx, ev.start, ev.dest)
}

type checkInEvent struct {
	intervalMinutes int
	reply           chan error
}

func (ev checkInEvent) apply(ctx context.Context, e *Engine) {
	ev.reply <- e.onCheckIn(ctx, ev.intervalMinutes)
}

type intervalChangedEvent struct {
	intervalMinutes int
	reply           chan error
}

func (ev intervalChangedEvent) apply(ctx context.Context, e *Engine) {
	ev.reply <- e.onIntervalChanged(ev.intervalMinutes)
}

type statusEvent struct{ reply chan Status }

func (ev statusEvent) apply(ctx context.Context, e *Engine) { ev.reply <- e.status() }

// Timer firings. Each carries the generation that armed it.

type checkInFiredEvent struct{ firing checkin.Firing }

func (ev checkInFiredEvent) apply(ctx context.Context, e *Engine) { e.onCheckInFired(ctx, ev.firing) }

type shakeDecayEvent struct{ id string }

func (ev shakeDecayEvent) apply(ctx context.Context, e *Engine) { e.onShakeDecay(ev.id) }

type emergencyTimer int

const (
	timerRepeat emergencyTimer = iota
	timerTorchOff
	timerAlarmOff
	timerFrontCamera
)

type emergencyFiredEvent struct {
	which emergencyTimer
	gen   uint64
}

func (ev emergencyFiredEvent) apply(ctx context.Context, e *Engine) {
	e.onEmergencyTimer(ctx, ev.which, ev.gen)
}
