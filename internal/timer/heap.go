// Package timer runs deferred callbacks keyed by ID on a shared min-heap.
// Scheduling an ID that is already pending replaces it.
package timer

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrManagerStopped = errors.New("timer manager is stopped")

// Task is a callback due at Deadline.
type Task struct {
	ID       string
	Deadline time.Time
	Callback func()
	index    int // position in the heap
}

// taskHeap is a min-heap of tasks ordered by Deadline
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].Deadline.Before(h[j].Deadline)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// Manager fires scheduled callbacks on a fixed pool of workers. Callbacks
// are expected to be short; device engines only enqueue an event from them.
type Manager struct {
	heap     taskHeap
	mu       sync.Mutex
	wakeup   chan struct{}
	tasks    map[string]*Task
	due      chan *Task
	workers  int
	workerWg sync.WaitGroup
	stopped  bool
	stopCh   chan struct{}
	logger   *zap.Logger
}

// NewManager creates a timer manager with the given number of workers.
func NewManager(workers int, logger *zap.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	tm := &Manager{
		heap:    make(taskHeap, 0),
		wakeup:  make(chan struct{}, 1),
		tasks:   make(map[string]*Task),
		due:     make(chan *Task, workers*16),
		workers: workers,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
	heap.Init(&tm.heap)
	return tm
}

// Start launches the scheduler loop and the worker pool.
func (tm *Manager) Start() {
	for i := 0; i < tm.workers; i++ {
		tm.workerWg.Add(1)
		go tm.worker()
	}
	go tm.run()
}

// Stop discards pending tasks and waits for running callbacks to return.
func (tm *Manager) Stop() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.stopped = true
	pending := len(tm.tasks)
	tm.heap = tm.heap[:0]
	tm.tasks = make(map[string]*Task)
	close(tm.stopCh)
	tm.mu.Unlock()

	tm.workerWg.Wait()
	tm.logger.Info("Timer manager stopped", zap.Int("discarded", pending))
}

// Schedule registers callback to run at deadline, replacing any pending task
// with the same ID.
func (tm *Manager) Schedule(id string, deadline time.Time, callback func()) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.stopped {
		return ErrManagerStopped
	}

	if existing, ok := tm.tasks[id]; ok {
		heap.Remove(&tm.heap, existing.index)
		delete(tm.tasks, id)
	}

	task := &Task{
		ID:       id,
		Deadline: deadline,
		Callback: callback,
	}
	heap.Push(&tm.heap, task)
	tm.tasks[id] = task

	if tm.heap[0] == task {
		select {
		case tm.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a pending task. It reports whether one was removed.
func (tm *Manager) Cancel(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&tm.heap, task.index)
	delete(tm.tasks, id)
	return true
}

// Pending reports whether id is scheduled and not yet fired.
func (tm *Manager) Pending(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.tasks[id]
	return ok
}

// Deadline returns when id is due to fire.
func (tm *Manager) Deadline(id string) (time.Time, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	task, ok := tm.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return task.Deadline, true
}

func (tm *Manager) run() {
	for {
		tm.mu.Lock()
		if tm.stopped {
			tm.mu.Unlock()
			return
		}

		var waitDuration time.Duration
		if tm.heap.Len() == 0 {
			waitDuration = 24 * time.Hour
		} else {
			next := tm.heap[0]
			waitDuration = time.Until(next.Deadline)
			if waitDuration <= 0 {
				task := heap.Pop(&tm.heap).(*Task)
				delete(tm.tasks, task.ID)
				tm.mu.Unlock()

				select {
				case tm.due <- task:
				case <-tm.stopCh:
					return
				}
				continue
			}
		}
		tm.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-tm.wakeup:
			timer.Stop()
		case <-tm.stopCh:
			timer.Stop()
			return
		}
	}
}

func (tm *Manager) worker() {
	defer tm.workerWg.Done()
	for {
		select {
		case task := <-tm.due:
			tm.execute(task)
		case <-tm.stopCh:
			return
		}
	}
}

func (tm *Manager) execute(task *Task) {
	defer func() {
		if r := recover(); r != nil {
			tm.logger.Error("Timer callback panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()
	task.Callback()
}

// Stats returns statistics about the timer manager
func (tm *Manager) Stats() Stats {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return Stats{
		ScheduledTasks: len(tm.tasks),
		Workers:        tm.workers,
	}
}

// Stats contains statistics about the timer manager
type Stats struct {
	ScheduledTasks int
	Workers        int
}
