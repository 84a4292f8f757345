package checkin

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type armed struct {
	at time.Time
	fn func()
}

type fakeTimers struct {
	tasks map[string]armed
	err   error
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{tasks: make(map[string]armed)}
}

func (f *fakeTimers) Schedule(id string, at time.Time, fn func()) error {
	if f.err != nil {
		return f.err
	}
	f.tasks[id] = armed{at: at, fn: fn}
	return nil
}

func (f *fakeTimers) Cancel(id string) bool {
	_, ok := f.tasks[id]
	delete(f.tasks, id)
	return ok
}

// expire runs and removes the task, as the timer manager would.
func (f *fakeTimers) expire(t *testing.T, id string) {
	t.Helper()
	task, ok := f.tasks[id]
	require.True(t, ok, "timer %s not armed", id)
	delete(f.tasks, id)
	task.fn()
}

type harness struct {
	timers  *fakeTimers
	sched   *Scheduler
	now     time.Time
	firings []Firing
}

func newHarness() *harness {
	h := &harness{
		timers: newFakeTimers(),
		now:    time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	h.sched = NewScheduler("dev-1", h.timers, 5*time.Minute,
		func() time.Time { return h.now },
		func(f Firing) { h.firings = append(h.firings, f) })
	return h
}

func (h *harness) lastFiring(t *testing.T) Firing {
	t.Helper()
	require.NotEmpty(t, h.firings)
	return h.firings[len(h.firings)-1]
}

func TestScheduleNext_ArmsReminderAndDeadline(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.ScheduleNext(60))

	assert.Equal(t, Scheduled, h.sched.State())
	assert.Equal(t, h.now.Add(60*time.Minute), h.timers.tasks["dev-1:checkin-reminder"].at)
	assert.Equal(t, h.now.Add(65*time.Minute), h.timers.tasks["dev-1:checkin-missed"].at)

	snap := h.sched.Snapshot()
	assert.Equal(t, 5*time.Minute, snap.MissedAt.Sub(snap.NextReminderAt))
}

func TestScheduleNext_RejectsBadInterval(t *testing.T) {
	h := newHarness()
	assert.ErrorIs(t, h.sched.ScheduleNext(0), ErrInvalidInterval)
	assert.Empty(t, h.timers.tasks)
	assert.Equal(t, Idle, h.sched.State())
}

func TestScheduleNext_TimerFailureRollsBack(t *testing.T) {
	h := newHarness()
	h.timers.err = errors.New("stopped")
	assert.Error(t, h.sched.ScheduleNext(30))
	assert.Empty(t, h.timers.tasks)
}

func TestReminderThenMissed(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.ScheduleNext(60))

	h.timers.expire(t, "dev-1:checkin-reminder")
	assert.True(t, h.sched.Handle(h.lastFiring(t)))
	assert.Equal(t, Reminded, h.sched.State())

	h.timers.expire(t, "dev-1:checkin-missed")
	assert.True(t, h.sched.Handle(h.lastFiring(t)))
	assert.Equal(t, Missed, h.sched.State())

	// Not re-armed after a miss.
	assert.Empty(t, h.timers.tasks)
}

func TestConfirm_CancelsDeadlineAndReschedules(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.ScheduleNext(60))
	h.timers.expire(t, "dev-1:checkin-reminder")
	require.True(t, h.sched.Handle(h.lastFiring(t)))

	h.now = h.now.Add(62 * time.Minute)
	require.NoError(t, h.sched.Confirm(60))

	assert.Equal(t, ConfirmedSafe, h.sched.State())
	assert.Equal(t, h.now.Add(60*time.Minute), h.timers.tasks["dev-1:checkin-reminder"].at)
	assert.Equal(t, h.now.Add(65*time.Minute), h.timers.tasks["dev-1:checkin-missed"].at)
}

func TestStaleFiringIgnored(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.ScheduleNext(60))

	// The missed timer was already dequeued when the user confirmed.
	h.timers.expire(t, "dev-1:checkin-missed")
	stale := h.lastFiring(t)
	require.NoError(t, h.sched.Confirm(60))

	assert.False(t, h.sched.Handle(stale))
	assert.Equal(t, ConfirmedSafe, h.sched.State())
}

func TestDuplicateFiringIgnored(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.ScheduleNext(10))
	h.timers.expire(t, "dev-1:checkin-reminder")
	f := h.lastFiring(t)

	assert.True(t, h.sched.Handle(f))
	assert.False(t, h.sched.Handle(f))
}

func TestIntervalChanged(t *testing.T) {
	h := newHarness()

	rearmed, err := h.sched.IntervalChanged(30)
	require.NoError(t, err)
	assert.False(t, rearmed, "no schedule exists yet")
	assert.Empty(t, h.timers.tasks)

	require.NoError(t, h.sched.ScheduleNext(60))
	rearmed, err = h.sched.IntervalChanged(30)
	require.NoError(t, err)
	assert.True(t, rearmed)
	assert.Equal(t, h.now.Add(30*time.Minute), h.timers.tasks["dev-1:checkin-reminder"].at)
	assert.Equal(t, 30, h.sched.Snapshot().IntervalMinutes)
}

func TestStop(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.ScheduleNext(60))
	h.sched.Stop()

	assert.Empty(t, h.timers.tasks)
	assert.Equal(t, Idle, h.sched.State())
	assert.Equal(t, "idle", h.sched.Snapshot().State)
}

func TestExpire_AppliesImmediately(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.ScheduleNext(60))

	assert.True(t, h.sched.Expire(KindReminder))
	assert.Equal(t, Reminded, h.sched.State())
	assert.NotContains(t, h.timers.tasks, "dev-1:checkin-reminder")

	assert.True(t, h.sched.Expire(KindMissed))
	assert.Equal(t, Missed, h.sched.State())
	assert.Empty(t, h.timers.tasks)

	assert.False(t, h.sched.Expire(KindMissed))
}

func TestExpire_MissedBeforeReminderCancelsBoth(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.ScheduleNext(60))

	assert.True(t, h.sched.Expire(KindMissed))
	assert.Empty(t, h.timers.tasks)
}
