// scheduler.go: Min-heap collection scheduler with jittered intervals
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"
)

// CollectionTask is one scheduled collection: which plugin to collect
// from, when it next fires, and at what interval. Tasks are created on
// registration, rescheduled after every fire regardless of outcome, and
// removed on unregistration.
type CollectionTask struct {
	PluginID string
	NextFire time.Time
	Interval time.Duration

	index int // heap index, maintained by taskHeap
}

// taskHeap is a min-heap of tasks keyed by NextFire.
type taskHeap []*CollectionTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].NextFire.Before(h[j].NextFire) }
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x any) { t := x.(*CollectionTask); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Dispatcher accepts due collection tasks from the scheduler. Submit must
// not block; the executor queues the task onto its worker pool and calls
// the completion callback when the collection returns.
type Dispatcher interface {
	Submit(pluginID string, done func())
}

// RunnableFunc reports whether a plugin is currently dispatchable
// according to the supervisor's lifecycle state.
type RunnableFunc func(pluginID string) bool

// Scheduler maintains per-plugin collection intervals and dispatches due
// tasks to the executor pool.
//
// The tick loop runs on a single dedicated goroutine. On each tick it
// pops every task whose fire time has elapsed and, for each one:
//
//   - skips dispatch when the previous collection for that plugin has not
//     returned yet (at most one outstanding collection per plugin)
//   - skips dispatch when the supervisor reports the plugin not runnable
//   - skips dispatch when the plugin's circuit breaker is open with an
//     unexpired cool-down
//   - otherwise submits the task to the executor pool
//
// After dispatch or skip, the task is rescheduled at now + interval +
// jitter, where jitter is uniform random within ±JitterFraction of the
// interval. A throttle multiplier (protective escalation under sink
// pressure) stretches every rescheduled interval.
type Scheduler struct {
	config     SchedulerConfig
	logger     Logger
	metrics    MetricsCollector
	dispatcher Dispatcher
	runnable   RunnableFunc
	breakers   *BreakerSet

	mu       sync.Mutex
	tasks    taskHeap
	byID     map[string]*CollectionTask
	inFlight map[string]bool
	throttle float64
	rng      *rand.Rand

	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewScheduler creates a stopped scheduler. The dispatcher, runnable
// predicate, and breaker table are the scheduler's only collaborators;
// it owns no plugin state itself.
func NewScheduler(config SchedulerConfig, dispatcher Dispatcher, runnable RunnableFunc, breakers *BreakerSet, logger Logger, metrics MetricsCollector) *Scheduler {
	return &Scheduler{
		config:     config,
		logger:     NewLogger(logger),
		metrics:    metrics,
		dispatcher: dispatcher,
		runnable:   runnable,
		breakers:   breakers,
		byID:       make(map[string]*CollectionTask),
		inFlight:   make(map[string]bool),
		throttle:   1.0,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register adds a collection task for a plugin. The first fire is
// jittered within one full interval so a batch of plugins started
// together does not collect in lockstep. Re-registering an existing
// plugin replaces its interval. Tasks with a non-positive interval are
// refused; the jitter math requires a positive period.
func (s *Scheduler) Register(pluginID string, interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn("Ignoring collection task with non-positive interval",
			"plugin", pluginID, "interval", interval)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.byID[pluginID]; ok {
		task.Interval = interval
		return
	}

	task := &CollectionTask{
		PluginID: pluginID,
		Interval: interval,
		NextFire: time.Now().Add(time.Duration(s.rng.Int63n(int64(interval) + 1))),
	}
	heap.Push(&s.tasks, task)
	s.byID[pluginID] = task
	s.logger.Debug("Collection task registered", "plugin", pluginID, "interval", interval)
}

// Unregister removes a plugin's collection task.
func (s *Scheduler) Unregister(pluginID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.byID[pluginID]
	if !ok {
		return
	}
	if task.index >= 0 {
		heap.Remove(&s.tasks, task.index)
	}
	delete(s.byID, pluginID)
	delete(s.inFlight, pluginID)
	s.logger.Debug("Collection task unregistered", "plugin", pluginID)
}

// SetThrottle sets the global interval multiplier applied on reschedule.
// Values below 1 are clamped to 1. Used as protective escalation while
// the sink is persistently failing.
func (s *Scheduler) SetThrottle(multiplier float64) {
	if multiplier < 1 {
		multiplier = 1
	}
	s.mu.Lock()
	s.throttle = multiplier
	s.mu.Unlock()
}

// Start launches the tick loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	go s.run()
}

// Stop halts the tick loop and waits for it to exit. In-flight
// collections are not interrupted; they complete under the executor's
// own deadlines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.doneChan
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) run() {
	defer close(s.doneChan)
	defer withStackRecover(s.logger)()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(time.Now())
		case <-s.stopChan:
			return
		}
	}
}

// Tick dispatches every task due at now and reschedules it. Exposed for
// deterministic testing; the running scheduler calls it from its own
// timer goroutine.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.tasks.Len() > 0 && !s.tasks[0].NextFire.After(now) {
		task := heap.Pop(&s.tasks).(*CollectionTask)

		if s.shouldDispatchLocked(task) {
			s.inFlight[task.PluginID] = true
			id := task.PluginID
			s.dispatcher.Submit(id, func() { s.markDone(id) })
		}

		task.NextFire = now.Add(s.jitteredIntervalLocked(task.Interval))
		heap.Push(&s.tasks, task)
	}
}

// shouldDispatchLocked applies the skip rules. Caller must hold s.mu.
func (s *Scheduler) shouldDispatchLocked(task *CollectionTask) bool {
	if s.inFlight[task.PluginID] {
		// Previous collection still outstanding; never stack invocations
		// of a slow plugin.
		return false
	}
	if s.runnable != nil && !s.runnable(task.PluginID) {
		return false
	}
	if s.breakers != nil && !s.breakers.Get(task.PluginID).DispatchAllowed() {
		return false
	}
	return true
}

// jitteredIntervalLocked computes interval*throttle ± jitter. Caller must
// hold s.mu (the rng is not safe for concurrent use).
func (s *Scheduler) jitteredIntervalLocked(interval time.Duration) time.Duration {
	d := time.Duration(float64(interval) * s.throttle)
	if s.config.JitterFraction <= 0 {
		return d
	}
	span := float64(d) * s.config.JitterFraction
	offset := (s.rng.Float64()*2 - 1) * span
	return d + time.Duration(offset)
}

// markDone clears the in-flight flag once a collection returns.
func (s *Scheduler) markDone(pluginID string) {
	s.mu.Lock()
	delete(s.inFlight, pluginID)
	s.mu.Unlock()
}

// PendingTasks returns the number of registered collection tasks.
func (s *Scheduler) PendingTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Len()
}

// InFlight reports whether a plugin currently has an outstanding collection.
func (s *Scheduler) InFlight(pluginID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[pluginID]
}

// NextFireTime returns the next scheduled fire time for a plugin and
// whether the plugin is registered.
func (s *Scheduler) NextFireTime(pluginID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.byID[pluginID]
	if !ok {
		return time.Time{}, false
	}
	return task.NextFire, true
}
