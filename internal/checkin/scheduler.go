// Package checkin implements the periodic "I'm safe" check-in cycle of one
// device: a reminder timer followed by a missed-check-in deadline.
package checkin

import (
	"errors"
	"fmt"
	"time"
)

// State of the check-in cycle.
type State int

const (
	Idle State = iota
	Scheduled
	Reminded
	ConfirmedSafe
	Missed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Reminded:
		return "reminded"
	case ConfirmedSafe:
		return "confirmed_safe"
	case Missed:
		return "missed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Kind identifies which of the two timers fired.
type Kind int

const (
	KindReminder Kind = iota
	KindMissed
)

// Firing is delivered back to the scheduler when a timer expires. Gen ties it
// to the schedule that armed it.
type Firing struct {
	Kind Kind
	Gen  uint64
}

// Timers arms and cancels keyed callbacks. Scheduling an existing key
// replaces it.
type Timers interface {
	Schedule(id string, at time.Time, fn func()) error
	Cancel(id string) bool
}

var ErrInvalidInterval = errors.New("check-in interval must be at least 1 minute")

// Scheduler is not safe for concurrent use; the owning device engine calls it
// from a single goroutine.
type Scheduler struct {
	deviceID string
	timers   Timers
	grace    time.Duration
	now      func() time.Time
	fire     func(Firing)

	state           State
	exists          bool
	intervalMinutes int
	reminderAt      time.Time
	missedAt        time.Time
	gen             uint64
	reminderPending bool
	missedPending   bool
}

// NewScheduler creates an idle scheduler. fire is invoked from the timer
// goroutine and must only hand the Firing to the engine queue.
func NewScheduler(deviceID string, timers Timers, grace time.Duration, now func() time.Time, fire func(Firing)) *Scheduler {
	return &Scheduler{
		deviceID: deviceID,
		timers:   timers,
		grace:    grace,
		now:      now,
		fire:     fire,
	}
}

func (s *Scheduler) reminderID() string { return s.deviceID + ":checkin-reminder" }
func (s *Scheduler) missedID() string   { return s.deviceID + ":checkin-missed" }

// ScheduleNext cancels any armed timers and arms a reminder intervalMinutes
// from now, with the missed deadline one grace period later.
func (s *Scheduler) ScheduleNext(intervalMinutes int) error {
	if intervalMinutes < 1 {
		return ErrInvalidInterval
	}
	s.cancelTimers()

	s.gen++
	gen := s.gen
	now := s.now()
	s.intervalMinutes = intervalMinutes
	s.reminderAt = now.Add(time.Duration(intervalMinutes) * time.Minute)
	s.missedAt = s.reminderAt.Add(s.grace)

	if err := s.timers.Schedule(s.reminderID(), s.reminderAt, func() {
		s.fire(Firing{Kind: KindReminder, Gen: gen})
	}); err != nil {
		return fmt.Errorf("failed to arm check-in reminder: %w", err)
	}
	if err := s.timers.Schedule(s.missedID(), s.missedAt, func() {
		s.fire(Firing{Kind: KindMissed, Gen: gen})
	}); err != nil {
		s.timers.Cancel(s.reminderID())
		return fmt.Errorf("failed to arm missed check-in: %w", err)
	}

	s.exists = true
	s.reminderPending = true
	s.missedPending = true
	s.state = Scheduled
	return nil
}

// Handle applies a timer firing. It reports false for stale firings, which
// the caller must ignore.
func (s *Scheduler) Handle(f Firing) bool {
	if f.Gen != s.gen {
		return false
	}
	switch f.Kind {
	case KindReminder:
		if !s.reminderPending {
			return false
		}
		s.reminderPending = false
		s.state = Reminded
		return true
	case KindMissed:
		if !s.missedPending {
			return false
		}
		if s.reminderPending {
			s.timers.Cancel(s.reminderID())
		}
		s.reminderPending = false
		s.missedPending = false
		s.state = Missed
		return true
	default:
		return false
	}
}

// Expire applies kind for the current schedule immediately, as if its timer
// had fired. It reports false when nothing of that kind was pending.
func (s *Scheduler) Expire(kind Kind) bool {
	switch kind {
	case KindReminder:
		if s.reminderPending {
			s.timers.Cancel(s.reminderID())
		}
	case KindMissed:
		if s.missedPending {
			s.timers.Cancel(s.missedID())
		}
	}
	return s.Handle(Firing{Kind: kind, Gen: s.gen})
}

// Confirm records that the user is safe, cancels the pending deadline and
// re-arms with intervalMinutes.
func (s *Scheduler) Confirm(intervalMinutes int) error {
	s.state = ConfirmedSafe
	if err := s.ScheduleNext(intervalMinutes); err != nil {
		return err
	}
	s.state = ConfirmedSafe
	return nil
}

// IntervalChanged re-arms with the new interval when a schedule exists. It
// reports whether timers were re-armed.
func (s *Scheduler) IntervalChanged(intervalMinutes int) (bool, error) {
	if !s.exists {
		return false, nil
	}
	if err := s.ScheduleNext(intervalMinutes); err != nil {
		return false, err
	}
	return true, nil
}

// Stop cancels any armed timers and returns to Idle.
func (s *Scheduler) Stop() {
	s.cancelTimers()
	s.state = Idle
	s.exists = false
}

func (s *Scheduler) cancelTimers() {
	if s.reminderPending {
		s.timers.Cancel(s.reminderID())
	}
	if s.missedPending {
		s.timers.Cancel(s.missedID())
	}
	s.reminderPending = false
	s.missedPending = false
	// Firings already queued from the old timers become stale.
	s.gen++
}

// Snapshot describes the current schedule.
type Snapshot struct {
	State           string    `json:"state"`
	IntervalMinutes int       `json:"interval_minutes,omitempty"`
	NextReminderAt  time.Time `json:"next_reminder_at"`
	MissedAt        time.Time `json:"missed_deadline_at"`
}

func (s *Scheduler) State() State { return s.state }

func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{State: s.state.String()}
	if s.exists {
		snap.IntervalMinutes = s.intervalMinutes
		snap.NextReminderAt = s.reminderAt
		snap.MissedAt = s.missedAt
	}
	return snap
}
