package engine

import (
	"context"
	"time"

	"github.com/smukkama/safewalk/internal/alert"
	"github.com/smukkama/safewalk/internal/protocol"
	"go.uber.org/zap"
)

// emergencyState tracks an active panic. gen invalidates timers armed by an
// earlier activation.
type emergencyState struct {
	active   bool
	gen      uint64
	until    time.Time
	interval time.Duration
	alarm    bool
	torch    bool
}

func (e *Engine) startEmergency(ctx context.Context, source string) {
	if len(e.deps.Contacts.List(ctx, e.deviceID)) == 0 {
		e.notice(ctx, noticeNoContacts)
		return
	}

	// A new activation replaces any running one.
	e.cancelEmergencyTimers()
	e.emergency.gen++

	set := e.deps.Settings.Load(ctx, e.deviceID)
	now := e.deps.Now()
	e.logger.Warn("Emergency activated",
		zap.String("source", source),
		zap.Bool("silent", set.SilentMode),
		zap.Bool("has_location", e.lastLocation != nil))

	e.sendEmergencyAlert(ctx)

	if set.SilentMode {
		e.silenceDevice(ctx)
	} else {
		e.command(ctx, protocol.PlayAlarmCommand())
		e.command(ctx, protocol.VibrateCommand())
		e.command(ctx, protocol.TorchCommand(true))
		e.emergency.alarm = true
		e.emergency.torch = true
		e.armEmergencyTimer(timerAlarmOff, now.Add(e.deps.Safety.TorchAutoOff))
		e.armEmergencyTimer(timerTorchOff, now.Add(e.deps.Safety.TorchAutoOff))
	}

	e.command(ctx, protocol.CapturePhotoCommand(protocol.CameraBack))
	e.armEmergencyTimer(timerFrontCamera, now.Add(e.deps.Safety.FrontCameraDelay))

	e.emergency.active = true
	e.emergency.interval = set.SMSRepeatInterval()
	e.emergency.until = now.Add(e.deps.Safety.EmergencyRepeatWindow)
	e.armRepeat(now)
}

func (e *Engine) sendEmergencyAlert(ctx context.Context) {
	msg, err := alert.EmergencyAlert(e.deps.Now(), e.lastLocation)
	e.dispatch(ctx, msg, err)
}

// armRepeat schedules the next repeat alert if it still falls inside the
// repeat window.
func (e *Engine) armRepeat(from time.Time) {
	next := from.Add(e.emergency.interval)
	if next.After(e.emergency.until) {
		e.emergency.active = false
		e.logger.Info("Emergency repeat window elapsed")
		return
	}
	e.armEmergencyTimer(timerRepeat, next)
}

func (e *Engine) stopEmergency(ctx context.Context) {
	wasActive := e.emergency.active
	e.cancelEmergencyTimers()
	e.emergency.gen++
	e.emergency.active = false

	e.silenceDevice(ctx)
	if wasActive {
		e.logger.Info("Emergency alerts stopped by user")
		e.notice(ctx, noticeAlertsStopped)
	}
}

// silenceDevice turns off an alarm or torch left on by an earlier activation.
func (e *Engine) silenceDevice(ctx context.Context) {
	if e.emergency.alarm {
		e.command(ctx, protocol.StopAlarmCommand())
		e.emergency.alarm = false
	}
	if e.emergency.torch {
		e.command(ctx, protocol.TorchCommand(false))
		e.emergency.torch = false
	}
}

func (e *Engine) onEmergencyTimer(ctx context.Context, which emergencyTimer, gen uint64) {
	if gen != e.emergency.gen {
		e.logger.Debug("Ignoring stale emergency timer", zap.Int("timer", int(which)))
		return
	}

	switch which {
	case timerRepeat:
		if !e.emergency.active {
			return
		}
		e.sendEmergencyAlert(ctx)
		e.armRepeat(e.deps.Now())
	case timerTorchOff:
		if e.emergency.torch {
			e.command(ctx, protocol.TorchCommand(false))
			e.emergency.torch = false
		}
	case timerAlarmOff:
		if e.emergency.alarm {
			e.command(ctx, protocol.StopAlarmCommand())
			e.emergency.alarm = false
		}
	case timerFrontCamera:
		e.command(ctx, protocol.CapturePhotoCommand(protocol.CameraFront))
	}
}

var emergencyTimerPurpose = map[emergencyTimer]string{
	timerRepeat:      "emergency-repeat",
	timerTorchOff:    "torch-off",
	timerAlarmOff:    "alarm-off",
	timerFrontCamera: "front-camera",
}

func (e *Engine) armEmergencyTimer(which emergencyTimer, at time.Time) {
	e.schedule(e.timerID(emergencyTimerPurpose[which]), at,
		emergencyFiredEvent{which: which, gen: e.emergency.gen})
}

func (e *Engine) cancelEmergencyTimers() {
	for _, purpose := range emergencyTimerPurpose {
		e.deps.Timers.Cancel(e.timerID(purpose))
	}
}
