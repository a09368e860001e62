// Package clock abstracts wall time and delayed jobs so lifecycle code can run
// against virtual time in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock tells time and schedules delayed jobs.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the handle of a scheduled job.
type Timer interface {
	// Stop cancels the job. It reports false when the job already ran or was stopped.
	Stop() bool
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Manual is a virtual clock advanced explicitly by tests.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	seq  int
	jobs []*manualTimer
}

type manualTimer struct {
	m       *Manual
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now.Add(d), seq: m.seq, fn: fn}
	m.jobs = append(m.jobs, t)
	return t
}

// Pending returns the number of jobs that have neither fired nor been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if !j.stopped && !j.fired {
			n++
		}
	}
	return n
}

// Advance moves time forward by d and runs every job that became due, in
// due-time order, on the calling goroutine.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		due := m.nextDue(target)
		if due == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		due.fired = true
		if due.at.After(m.now) {
			m.now = due.at
		}
		m.mu.Unlock()
		due.fn()
	}
}

func (m *Manual) nextDue(target time.Time) *manualTimer {
	var ready []*manualTimer
	for _, j := range m.jobs {
		if !j.stopped && !j.fired && !j.at.After(target) {
			ready = append(ready, j)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	sort.Slice(ready, func(a, b int) bool {
		if ready[a].at.Equal(ready[b].at) {
			return ready[a].seq < ready[b].seq
		}
		return ready[a].at.Before(ready[b].at)
	})
	return ready[0]
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
