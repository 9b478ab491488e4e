// Package event provides the single-goroutine event loop the resolver
// runs on. All resolver state (scopes, transactions, the cache) is owned
// by the loop goroutine; other goroutines hand work in via Post. This
// buys the same freedom from data races a single-threaded reactor has,
// without locks on the hot paths.
//
// For tests the loop runs in manual mode: time only moves when the test
// advances it, so timer-driven behavior (retries, timeouts, cache expiry)
// is fully deterministic.
package event

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback. Timers are one-shot and
// disposable: rearming means cancelling and scheduling a new one.
type Timer struct {
	when    time.Time
	fn      func()
	heapIdx int
	fired   bool
}

// Cancel stops the timer. It is safe to call on the loop goroutine at any
// time, including from inside the timer's own callback or after firing.
func (t *Timer) Cancel() {
	if t == nil || t.fired || t.heapIdx < 0 {
		return
	}
	t.fired = true
}

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIdx = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIdx = -1
	*h = old[:n-1]
	return t
}

// Loop is the event loop. Post is safe from any goroutine; everything
// else must be called from the loop goroutine (or, in manual mode, the
// test goroutine driving it).
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	timers timerHeap

	manual bool
	now    time.Time
}

// New creates a loop running on real time; drive it with Run.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// NewManual creates a loop whose clock starts at start and only moves
// via Advance/AdvanceTo. Run must not be used on a manual loop.
func NewManual(start time.Time) *Loop {
	return &Loop{wake: make(chan struct{}, 1), manual: true, now: start}
}

// Now returns the loop's current time.
func (l *Loop) Now() time.Time {
	if l.manual {
		return l.now
	}
	return time.Now()
}

// Post queues fn to run on the loop goroutine. Safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// At schedules fn at the given time. Must be called on the loop.
func (l *Loop) At(when time.Time, fn func()) *Timer {
	t := &Timer{when: when, fn: fn}
	heap.Push(&l.timers, t)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return t
}

// After schedules fn after the given delay. Must be called on the loop.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	return l.At(l.Now().Add(d), fn)
}

// drainQueue runs all posted callbacks.
func (l *Loop) drainQueue() bool {
	l.mu.Lock()
	q := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, fn := range q {
		fn()
	}
	return len(q) > 0
}

// fireDue pops and runs timers due at or before now.
func (l *Loop) fireDue(now time.Time) bool {
	ran := false
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := heap.Pop(&l.timers).(*Timer)
		if t.fired {
			continue
		}
		t.fired = true
		t.fn()
		ran = true
	}
	return ran
}

// Run drives the loop on real time until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		for l.drainQueue() || l.fireDue(time.Now()) {
		}

		wait := time.Hour
		if len(l.timers) > 0 {
			wait = max(time.Until(l.timers[0].when), 0)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-timer.C:
		}
	}
}

// RunUntilIdle runs posted callbacks and due timers until none remain.
// Manual mode only.
func (l *Loop) RunUntilIdle() {
	for l.drainQueue() || l.fireDue(l.now) {
	}
}

// AdvanceTo moves the manual clock to t, firing timers in order and
// letting each fired timer's follow-up work (posts, new timers) run
// before time moves further.
func (l *Loop) AdvanceTo(t time.Time) {
	for {
		l.RunUntilIdle()
		if len(l.timers) == 0 || l.timers[0].when.After(t) {
			break
		}
		l.now = l.timers[0].when
		l.fireDue(l.now)
	}
	if t.After(l.now) {
		l.now = t
	}
	l.RunUntilIdle()
}

// Advance moves the manual clock forward by d.
func (l *Loop) Advance(d time.Duration) {
	l.AdvanceTo(l.now.Add(d))
}
