// Package matchtest provides test doubles for match sessions.
package matchtest

import (
	"sort"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/match"
)

// FakeTime is a manually advanced match.TimeSource. Timers fire synchronously
// inside Advance, outside FakeTime's own lock.
type FakeTime struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	ft      *FakeTime
	at      time.Time
	seq     int
	f       func()
	stopped bool
}

func NewFakeTime(start time.Time) *FakeTime {
	return &FakeTime{now: start}
}

func (ft *FakeTime) Now() time.Time {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.now
}

func (ft *FakeTime) AfterFunc(d time.Duration, f func()) match.Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.seq++
	t := &fakeTimer{ft: ft, at: ft.now.Add(d), seq: ft.seq, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

// Pending counts timers that have neither fired nor been stopped.
func (ft *FakeTime) Pending() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, t := range ft.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves time forward by d, firing due timers in deadline order.
func (ft *FakeTime) Advance(d time.Duration) {
	ft.mu.Lock()
	target := ft.now.Add(d)
	ft.mu.Unlock()
	for {
		t := ft.nextDue(target)
		if t == nil {
			break
		}
		t.f()
	}
	ft.mu.Lock()
	ft.now = target
	ft.mu.Unlock()
}

func (ft *FakeTime) nextDue(target time.Time) *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var due []*fakeTimer
	for _, t := range ft.timers {
		if !t.stopped && !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	t := due[0]
	t.stopped = true
	if t.at.After(ft.now) {
		ft.now = t.at
	}
	return t
}

func (t *fakeTimer) Stop() bool {
	t.ft.mu.Lock()
	defer t.ft.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}
