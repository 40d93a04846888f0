package sched

import (
	"sort"
	"time"
)

// maxJitter caps a single jitter sample. Grossly late wakeups saturate
// instead of skewing the maximum into uselessness.
const maxJitter = 65535 * time.Microsecond

// jitterSample is the per-cycle measurement sent from task loops to the
// stats collector.
type jitterSample struct {
	task    string
	jitter  time.Duration
	overrun bool
	errored bool
}

type taskStats struct {
	kind     Kind
	interval time.Duration
	cycles   uint64
	overruns uint64
	errors   uint64
	min      time.Duration
	max      time.Duration
	last     time.Duration
	sum      time.Duration
}

// TaskStats is a snapshot of one task's cycle statistics.
type TaskStats struct {
	Name     string
	Kind     Kind
	Interval time.Duration

	Cycles   uint64
	Overruns uint64
	Errors   uint64

	JitterMin  time.Duration
	JitterMax  time.Duration
	JitterLast time.Duration
	JitterAvg  time.Duration
}

// collect aggregates samples until told to quit. It runs on its own
// goroutine so task loops never contend on the stats lock.
func (s *Supervisor) collect() {
	defer close(s.collectorDone)
	for {
		var sample jitterSample
		select {
		case sample = <-s.samples:
		case <-s.statsQuit:
			return
		}
		s.statsMu.Lock()
		st, ok := s.stats[sample.task]
		if ok {
			j := sample.jitter
			if j < 0 {
				j = 0
			}
			if j > maxJitter {
				j = maxJitter
			}
			if st.cycles == 0 || j < st.min {
				st.min = j
			}
			if j > st.max {
				st.max = j
			}
			st.last = j
			st.sum += j
			st.cycles++
			if sample.overrun {
				st.overruns++
			}
			if sample.errored {
				st.errors++
			}
		}
		s.statsMu.Unlock()
	}
}

// Stats returns a snapshot of all task statistics, sorted by task name.
func (s *Supervisor) Stats() []TaskStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	out := make([]TaskStats, 0, len(s.stats))
	for name, st := range s.stats {
		snap := TaskStats{
			Name:       name,
			Kind:       st.kind,
			Interval:   st.interval,
			Cycles:     st.cycles,
			Overruns:   st.overruns,
			Errors:     st.errors,
			JitterMin:  st.min,
			JitterMax:  st.max,
			JitterLast: st.last,
		}
		if st.cycles > 0 {
			snap.JitterAvg = st.sum / time.Duration(st.cycles)
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResetStats zeroes all counters while keeping the task entries.
func (s *Supervisor) ResetStats() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	for name, st := range s.stats {
		s.stats[name] = &taskStats{kind: st.kind, interval: st.interval}
	}
}

func (s *Supervisor) record(sample jitterSample) {
	select {
	case s.samples <- sample:
	default:
		// Stats are best effort; drop when the collector lags.
	}
}
