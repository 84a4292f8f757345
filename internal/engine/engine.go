// Package engine runs the safety features of one device on a single
// goroutine. Transports and timers never touch component state directly;
// they post events that the engine applies in order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/smukkama/safewalk/internal/alert"
	"github.com/smukkama/safewalk/internal/checkin"
	"github.com/smukkama/safewalk/internal/geo"
	"github.com/smukkama/safewalk/internal/protocol"
	"github.com/smukkama/safewalk/internal/route"
	"github.com/smukkama/safewalk/internal/shake"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("engine is stopped")

const (
	noticeNoContacts    = "Please add emergency contacts first"
	noticeNoLocation    = "Location not available yet"
	noticeArrived       = "You have reached your destination"
	noticeAlertsStopped = "Emergency alerts stopped"
)

// Status is a point-in-time view of an engine.
type Status struct {
	DeviceID        string           `json:"device_id"`
	CheckIn         checkin.Snapshot `json:"checkin"`
	Tracking        bool             `json:"tracking"`
	Destination     *geo.Point       `json:"destination,omitempty"`
	LastLocation    *geo.Point       `json:"last_location,omitempty"`
	EmergencyActive bool             `json:"emergency_active"`
	ShakeCount      int              `json:"shake_count"`
}

// Engine owns the shake window, tracked route, check-in schedule and
// emergency state of one device.
type Engine struct {
	deviceID string
	deps     Deps
	logger   *zap.Logger

	events chan event
	done   chan struct{}

	// Timer firings land here instead of events so a full queue never
	// blocks a timer worker. Each armed timer fires at most once, so the
	// inbox is bounded by the number of armed timers.
	inboxMu sync.Mutex
	inbox   []event
	wake    chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	// Owned by the run goroutine.
	detector     *shake.Detector
	tracker      *route.Tracker
	checkin      *checkin.Scheduler
	lastLocation *geo.Point
	emergency    emergencyState
	decaySeq     uint64
	decays       map[string]struct{}
}

// New creates an engine. Call Start before posting events.
func New(deviceID string, deps Deps) *Engine {
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		deviceID: deviceID,
		deps:     deps,
		logger:   deps.Logger.With(zap.String("device_id", deviceID)),
		events:   make(chan event, deps.Safety.EngineQueueSize),
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		decays:   make(map[string]struct{}),
	}

	e.detector = shake.NewDetector(shake.Config{
		Threshold:      deps.Safety.ShakeThreshold,
		SampleGap:      deps.Safety.ShakeSampleGap,
		Window:         deps.Safety.ShakeWindow,
		CountThreshold: deps.Safety.ShakeCountThreshold,
	})
	e.tracker = route.NewTracker(deviceID, deps.KV, route.Config{
		DeviationMeters: deps.Safety.DeviationMeters,
		ArrivalMeters:   deps.Safety.ArrivalMeters,
		Cooldown:        deps.Safety.DeviationCooldown,
	}, deps.Now, e.logger)
	e.checkin = checkin.NewScheduler(deviceID, deps.Timers, deps.Safety.CheckInGrace, deps.Now,
		func(f checkin.Firing) { e.postFromTimer(checkInFiredEvent{firing: f}) })

	return e
}

func (e *Engine) DeviceID() string { return e.deviceID }

// Start restores persisted route state and launches the event loop.
func (e *Engine) Start() {
	e.tracker.Restore(e.ctx)
	e.wg.Add(1)
	go e.run()
}

// Stop cancels every timer the engine armed and waits for the loop to exit.
// Events still queued are discarded.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.cancel()
		e.wg.Wait()

		e.checkin.Stop()
		e.cancelEmergencyTimers()
		for id := range e.decays {
			e.deps.Timers.Cancel(id)
		}
		e.logger.Debug("Engine stopped")
	})
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case ev := <-e.events:
			// Timer firings that happened before ev was posted apply first.
			e.drainInbox()
			e.apply(ev)
		case <-e.wake:
			e.drainInbox()
		case <-e.done:
			return
		}
	}
}

func (e *Engine) apply(ev event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Engine event panicked", zap.Any("panic", r), zap.String("event", fmt.Sprintf("%T", ev)))
		}
	}()
	eventsTotal.WithLabelValues(eventName(ev)).Inc()
	ev.apply(e.ctx, e)
}

// post enqueues ev, giving up once the engine is stopped.
func (e *Engine) post(ev event) error {
	select {
	case <-e.done:
		e.logger.Warn("Dropping event for stopped engine", zap.String("event", eventName(ev)))
		return ErrStopped
	default:
	}
	select {
	case e.events <- ev:
		return nil
	case <-e.done:
		e.logger.Warn("Dropping event for stopped engine", zap.String("event", eventName(ev)))
		return ErrStopped
	}
}

// postFromTimer queues ev without blocking. It is the only way timer
// callbacks reach the engine.
func (e *Engine) postFromTimer(ev event) {
	select {
	case <-e.done:
		timerEventsDropped.Inc()
		e.logger.Debug("Dropping timer event for stopped engine", zap.String("event", eventName(ev)))
		return
	default:
	}

	e.inboxMu.Lock()
	e.inbox = append(e.inbox, ev)
	e.inboxMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) drainInbox() {
	e.inboxMu.Lock()
	pending := e.inbox
	e.inbox = nil
	e.inboxMu.Unlock()

	for _, ev := range pending {
		select {
		case <-e.done:
			return
		default:
		}
		e.apply(ev)
	}
}

func (e *Engine) call(ctx context.Context, ev event, reply <-chan error) error {
	if err := e.post(ev); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Accel feeds one accelerometer sample.
func (e *Engine) Accel(sample shake.Sample) error {
	return e.post(accelEvent{sample: sample})
}

// Location feeds one location fix.
func (e *Engine) Location(p geo.Point) error {
	return e.post(locationEvent{point: p})
}

// Trigger posts a named trigger.
func (e *Engine) Trigger(name string) error {
	if !protocol.IsKnownTrigger(name) {
		return fmt.Errorf("unknown trigger: %q", name)
	}
	return e.post(triggerEvent{name: name})
}

// StartTracking begins route tracking towards dest.
func (e *Engine) StartTracking(ctx context.Context, dest geo.Point) error {
	reply := make(chan error, 1)
	return e.call(ctx, trackEvent{start: true, dest: dest, reply: reply}, reply)
}

func (e *Engine) StopTracking(ctx context.Context) error {
	reply := make(chan error, 1)
	return e.call(ctx, trackEvent{reply: reply}, reply)
}

// ScheduleCheckIn arms the check-in cycle. Zero uses the saved interval; any
// other value is saved first.
func (e *Engine) ScheduleCheckIn(ctx context.Context, intervalMinutes int) error {
	reply := make(chan error, 1)
	return e.call(ctx, checkInEvent{intervalMinutes: intervalMinutes, reply: reply}, reply)
}

// IntervalChanged re-arms an existing check-in schedule after the interval
// setting was changed elsewhere.
func (e *Engine) IntervalChanged(ctx context.Context, intervalMinutes int) error {
	reply := make(chan error, 1)
	return e.call(ctx, intervalChangedEvent{intervalMinutes: intervalMinutes, reply: reply}, reply)
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := e.post(statusEvent{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-e.done:
		return Status{}, ErrStopped
	}
}

// schedule arms a timer whose firing is posted back as ev.
func (e *Engine) schedule(id string, at time.Time, ev event) {
	if err := e.deps.Timers.Schedule(id, at, func() { e.postFromTimer(ev) }); err != nil {
		e.logger.Warn("Failed to arm timer", zap.String("timer_id", id), zap.Error(err))
	}
}

func (e *Engine) timerID(purpose string) string {
	return e.deviceID + ":" + purpose
}

func (e *Engine) command(ctx context.Context, cmd *protocol.CommandMessage) {
	if e.deps.Actuator == nil {
		return
	}
	if err := e.deps.Actuator.SendCommand(ctx, e.deviceID, cmd); err != nil {
		e.logger.Warn("Failed to send device command", zap.String("action", cmd.Action), zap.Error(err))
	}
}

func (e *Engine) notice(ctx context.Context, body string) {
	e.command(ctx, protocol.NoticeCommand(body))
}

// dispatch sends msg to the current contact list.
func (e *Engine) dispatch(ctx context.Context, msg alert.Message, err error) (alert.Result, bool) {
	if err != nil {
		e.logger.Error("Failed to render alert", zap.Error(err))
		return alert.Result{}, false
	}
	list := e.deps.Contacts.List(ctx, e.deviceID)
	if len(list) == 0 {
		e.logger.Info("No emergency contacts, alert not sent", zap.String("kind", string(msg.Kind)))
		return alert.Result{}, false
	}
	return e.deps.Dispatcher.Dispatch(ctx, e.deviceID, list, msg), true
}

func (e *Engine) onAccel(ctx context.Context, s shake.Sample) {
	obs := e.detector.Observe(s)
	if !obs.Crossed {
		return
	}

	e.decaySeq++
	id := e.timerID("shake-decay-" + strconv.FormatUint(e.decaySeq, 10))
	e.decays[id] = struct{}{}
	e.schedule(id, e.deps.Now().Add(e.deps.Safety.ShakeWindow), shakeDecayEvent{id: id})

	if obs.Triggered {
		e.logger.Info("Shake gesture detected", zap.Float64("jerk", obs.Jerk))
		e.onTrigger(ctx, protocol.TriggerShake)
	}
}

func (e *Engine) onShakeDecay(id string) {
	delete(e.decays, id)
	e.detector.Decay()
}

func (e *Engine) onLocation(ctx context.Context, p geo.Point) {
	if !p.Valid() {
		e.logger.Warn("Ignoring invalid location", zap.Stringer("location", p))
		return
	}
	e.lastLocation = &p

	res, err := e.tracker.OnLocation(ctx, p)
	if err != nil {
		e.logger.Warn("Route tracking error", zap.Error(err))
	}
	switch res.Outcome {
	case route.OutcomeDeviation:
		e.logger.Info("Route deviation", zap.Float64("distance_m", res.Distance))
		msg, err := alert.RouteDeviation(e.deps.Now(), p, res.Distance)
		e.dispatch(ctx, msg, err)
	case route.OutcomeArrival:
		e.logger.Info("Destination reached", zap.Float64("distance_m", res.Distance))
		msg, err := alert.SafeArrival(e.deps.Now(), p)
		e.dispatch(ctx, msg, err)
		e.notice(ctx, noticeArrived)
	case route.OutcomeSuppressed:
		e.logger.Debug("Route deviation alert suppressed by cooldown", zap.Float64("distance_m", res.Distance))
	}
}

func (e *Engine) onTrigger(ctx context.Context, name string) {
	triggersTotal.WithLabelValues(name).Inc()

	switch name {
	case protocol.TriggerEmergency, protocol.TriggerShake:
		e.startEmergency(ctx, name)
	case protocol.TriggerStopEmergency:
		e.stopEmergency(ctx)
	case protocol.TriggerCheckInReminder:
		e.checkin.Expire(checkin.KindReminder)
		e.command(ctx, protocol.CheckInReminderCommand())
	case protocol.TriggerMissedCheckIn:
		e.checkin.Expire(checkin.KindMissed)
		e.sendMissedCheckIn(ctx)
	case protocol.TriggerConfirmSafe:
		e.confirmSafe(ctx)
	case protocol.TriggerShareLocation:
		e.shareLocation(ctx)
	case protocol.TriggerCallPolice:
		e.command(ctx, protocol.StartCallCommand(e.deps.Settings.Load(ctx, e.deviceID).PoliceNumber))
	case protocol.TriggerCallHelpline:
		e.command(ctx, protocol.StartCallCommand(e.deps.Settings.Load(ctx, e.deviceID).WomenHelpline))
	default:
		e.logger.Warn("Unknown trigger", zap.String("trigger", name))
	}
}

func (e *Engine) onCheckInFired(ctx context.Context, f checkin.Firing) {
	if !e.checkin.Handle(f) {
		e.logger.Debug("Ignoring stale check-in timer", zap.Uint64("gen", f.Gen))
		return
	}
	switch f.Kind {
	case checkin.KindReminder:
		e.command(ctx, protocol.CheckInReminderCommand())
	case checkin.KindMissed:
		e.sendMissedCheckIn(ctx)
	}
}

func (e *Engine) sendMissedCheckIn(ctx context.Context) {
	e.logger.Warn("Check-in missed")
	msg, err := alert.MissedCheckIn(e.deps.Now())
	e.dispatch(ctx, msg, err)
}

func (e *Engine) confirmSafe(ctx context.Context) {
	msg, err := alert.SafeCheckIn(e.deps.Now())
	e.dispatch(ctx, msg, err)

	interval := e.deps.Settings.Load(ctx, e.deviceID).CheckInInterval
	if err := e.checkin.Confirm(interval); err != nil {
		e.logger.Error("Failed to re-arm check-in", zap.Error(err))
	}
}

func (e *Engine) shareLocation(ctx context.Context) {
	if len(e.deps.Contacts.List(ctx, e.deviceID)) == 0 {
		e.notice(ctx, noticeNoContacts)
		return
	}
	if e.lastLocation == nil {
		e.notice(ctx, noticeNoLocation)
		return
	}
	msg, err := alert.LocationShare(e.deps.Now(), *e.lastLocation)
	if res, ok := e.dispatch(ctx, msg, err); ok {
		e.notice(ctx, fmt.Sprintf("Location sent to %d contacts", res.Sent))
	}
}

func (e *Engine) onTrack(ctx context.Context, start bool, dest geo.Point) error {
	if !start {
		return e.tracker.Stop(ctx)
	}
	if err := e.tracker.Start(ctx, dest); err != nil {
		return err
	}
	e.logger.Info("Route tracking started", zap.Stringer("destination", dest))
	return nil
}

func (e *Engine) onCheckIn(ctx context.Context, intervalMinutes int) error {
	if intervalMinutes == 0 {
		intervalMinutes = e.deps.Settings.Load(ctx, e.deviceID).CheckInInterval
	} else if err := e.deps.Settings.SetCheckInInterval(ctx, e.deviceID, intervalMinutes); err != nil {
		return err
	}
	if err := e.checkin.ScheduleNext(intervalMinutes); err != nil {
		return err
	}
	e.logger.Info("Check-in scheduled", zap.Int("interval_minutes", intervalMinutes))
	return nil
}

func (e *Engine) onIntervalChanged(intervalMinutes int) error {
	rearmed, err := e.checkin.IntervalChanged(intervalMinutes)
	if rearmed {
		e.logger.Info("Check-in re-armed with new interval", zap.Int("interval_minutes", intervalMinutes))
	}
	return err
}

func (e *Engine) status() Status {
	st := Status{
		DeviceID:        e.deviceID,
		CheckIn:         e.checkin.Snapshot(),
		Tracking:        e.tracker.Active(),
		EmergencyActive: e.emergency.active,
		ShakeCount:      e.detector.Count(),
	}
	if dest, ok := e.tracker.Destination(); ok {
		st.Destination = &dest
	}
	if e.lastLocation != nil {
		loc := *e.lastLocation
		st.LastLocation = &loc
	}
	return st
}
