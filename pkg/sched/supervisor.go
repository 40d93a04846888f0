package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goplc-io/goplc/pkg/log"
)

// TaskFunc is one cycle body. The context is canceled once the
// supervisor reaches STOPPED; output tasks performing their final
// transfer still see a live context.
type TaskFunc func(ctx context.Context) error

// ErrForceStop is returned by Stop when tasks did not finish within the
// stop timeout and the force-stop handler returned.
var ErrForceStop = errors.New("tasks did not stop within timeout")

type task struct {
	name     string
	kind     Kind
	interval time.Duration
	fn       TaskFunc

	firstDone bool
}

// Supervisor owns all task goroutines and the controller status.
type Supervisor struct {
	logger      log.Logger
	stopTimeout time.Duration
	forceStop   func(msg string)
	onStopping  func()

	mu      sync.Mutex
	status  Status
	changed chan struct{}
	tasks   []*task
	counts  [4]int
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// firstSync is released once every input task ran its initial
	// transfer, gating the transition SYNCING -> PREPARING.
	firstSync sync.WaitGroup

	samples       chan jitterSample
	statsQuit     chan struct{}
	statsMu       sync.Mutex
	stats         map[string]*taskStats
	collectorDone chan struct{}
}

// New creates a supervisor. stopTimeout bounds Stop; when it elapses the
// force-stop handler runs (default: panic).
func New(logger log.Logger, stopTimeout time.Duration) *Supervisor {
	if logger == nil {
		logger = &log.NoopLogger{}
	}
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &Supervisor{
		logger:      logger,
		stopTimeout: stopTimeout,
		forceStop: func(msg string) {
			panic(msg)
		},
		changed:       make(chan struct{}),
		stats:         make(map[string]*taskStats),
		statsQuit:     make(chan struct{}),
		collectorDone: make(chan struct{}),
	}
}

// OnForceStop replaces the handler invoked when Stop exceeds the stop
// timeout. The runtime installs a handler that logs and exits non-zero.
func (s *Supervisor) OnForceStop(fn func(msg string)) {
	s.forceStop = fn
}

// OnStopping installs a hook that runs during Stop, after the status
// turned STOPPING and before STOP_SYNCING releases the final output
// transfers.
func (s *Supervisor) OnStopping(fn func()) {
	s.onStopping = fn
}

// Add registers a task before Start and returns its full name, built
// from the kind prefix, a per-kind index and the given name ("I0-meter").
func (s *Supervisor) Add(name string, kind Kind, interval time.Duration, fn TaskFunc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return "", errors.New("sched: cannot add tasks after start")
	}
	if interval <= 0 {
		return "", fmt.Errorf("sched: task %s: interval must be positive", name)
	}

	full := fmt.Sprintf("%c%d-%s", kind.Prefix(), s.counts[kind], name)
	s.counts[kind]++
	s.tasks = append(s.tasks, &task{name: full, kind: kind, interval: interval, fn: fn})
	s.stats[full] = &taskStats{kind: kind, interval: interval}
	return full, nil
}

// Status returns the current lifecycle status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// changeCh returns the channel closed on the next status transition.
func (s *Supervisor) changeCh() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Supervisor) setStatus(st Status, reason string) {
	s.mu.Lock()
	old := s.status
	s.status = st
	ch := s.changed
	s.changed = make(chan struct{})
	s.mu.Unlock()
	close(ch)

	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		Source:    log.SourceScheduler,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityController,
			OldState: old.String(),
			NewState: st.String(),
			Reason:   reason,
		},
	})
}

// Start brings the supervisor to ACTIVE: spawn all tasks, release
// inputs, wait for their initial transfers, release programs, release
// outputs. It blocks until steady state is reached.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("sched: already started")
	}
	s.started = true
	tasks := s.tasks
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.samples = make(chan jitterSample, 1024)
	go s.collect()

	s.setStatus(StatusStarting, "")

	for _, t := range tasks {
		if t.kind == KindInput {
			s.firstSync.Add(1)
		}
	}
	for _, t := range tasks {
		s.wg.Add(1)
		go s.run(t)
	}

	s.setStatus(StatusSyncing, "")
	s.firstSync.Wait()
	s.setStatus(StatusPreparing, "")
	s.setStatus(StatusActive, "")
	return nil
}

// Stop drives the shutdown sequence and blocks until all tasks exited
// or the stop timeout expired.
func (s *Supervisor) Stop(reason string) error {
	s.setStatus(StatusStopping, reason)
	if s.onStopping != nil {
		s.onStopping()
	}
	s.setStatus(StatusStopSyncing, "")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		s.forceStop(fmt.Sprintf("tasks still running after %v stop timeout", s.stopTimeout))
		err = ErrForceStop
	}

	s.cancel()
	close(s.statsQuit)
	<-s.collectorDone
	s.setStatus(StatusStopped, "")
	return err
}

// waitGate blocks until the status reaches min or turns negative.
func (s *Supervisor) waitGate(min Status) Status {
	for {
		s.mu.Lock()
		st := s.status
		ch := s.changed
		s.mu.Unlock()
		if st < 0 || st >= min {
			return st
		}
		<-ch
	}
}

func (s *Supervisor) run(t *task) {
	defer s.wg.Done()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.logger.Log(log.Event{
			Timestamp: time.Now(),
			Task:      t.name,
			Source:    log.SourceScheduler,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Message: fmt.Sprint(r),
				Context: "task aborted",
			},
		})
		s.logger.Log(log.Event{
			Timestamp: time.Now(),
			Task:      t.name,
			Source:    log.SourceScheduler,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityTask,
				NewState: "FAILED",
			},
		})
		s.inputDone(t)
	}()

	if st := s.waitGate(t.kind.gate()); st < 0 {
		s.inputDone(t)
		return
	}

	// Immediate first cycle on gate opening. For inputs this is the
	// initial transfer the PREPARING transition waits for.
	s.cycle(t, 0)
	s.inputDone(t)

	next := time.Now().Add(t.interval)

	for {
		// Sleep to the absolute deadline, waking early on status
		// transitions so shutdown is prompt.
		for {
			d := time.Until(next)
			if d <= 0 {
				break
			}
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-s.changeCh():
				timer.Stop()
				if s.exitEarly(t) {
					return
				}
				continue
			}
			break
		}

		jitter := time.Since(next)
		if s.exitEarly(t) {
			return
		}

		overrun, _ := s.cycle(t, jitter)
		if overrun {
			// No catch-up bursts: rebase the schedule.
			next = time.Now().Add(t.interval)
		} else {
			next = next.Add(t.interval)
		}
	}
}

// exitEarly checks the shutdown conditions for the task kind; for
// output tasks it also performs the final transfer.
func (s *Supervisor) exitEarly(t *task) bool {
	st := s.Status()
	if t.kind == KindOutput {
		if st <= StatusStopSyncing {
			s.cycle(t, 0)
			return true
		}
		return false
	}
	return st < 0
}

func (s *Supervisor) inputDone(t *task) {
	if t.kind == KindInput && !t.firstDone {
		t.firstDone = true
		s.firstSync.Done()
	}
}

// cycle runs the task body once, logs the cycle and records stats.
func (s *Supervisor) cycle(t *task, jitter time.Duration) (overrun, errored bool) {
	start := time.Now()
	err := t.fn(s.ctx)
	elapsed := time.Since(start)
	overrun = elapsed > t.interval

	s.logger.Log(log.Event{
		Timestamp: start,
		Task:      t.name,
		Source:    log.SourceScheduler,
		Category:  log.CategoryCycle,
		Cycle: &log.CycleEvent{
			Period:  t.interval,
			Elapsed: elapsed,
			Overrun: overrun,
		},
	})
	if err != nil {
		errored = true
		s.logger.Log(log.Event{
			Timestamp: time.Now(),
			Task:      t.name,
			Source:    log.SourceScheduler,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Message: err.Error(),
				Context: "cycle",
			},
		})
	}

	s.record(jitterSample{task: t.name, jitter: jitter, overrun: overrun, errored: errored})
	return overrun, errored
}
