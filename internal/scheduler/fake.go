package scheduler

import (
	"sync"
	"time"
)

// FakeLoop is a deterministic Scheduler for tests. Nothing runs until the
// test drives it: RunPending drains posted work, Frame runs one display
// refresh and Advance moves the fake wall clock, firing due intervals.
type FakeLoop struct {
	q *queue

	mu     sync.Mutex
	now    time.Time
	posts  []func()
	notify chan struct{}
}

// NewFakeLoop creates a fake loop whose wall clock starts at start.
func NewFakeLoop(start time.Time) *FakeLoop {
	return &FakeLoop{
		q:      newQueue(),
		now:    start,
		notify: make(chan struct{}, 1),
	}
}

var _ Scheduler = (*FakeLoop)(nil)

func (f *FakeLoop) Post(fn func()) {
	f.mu.Lock()
	f.posts = append(f.posts, fn)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *FakeLoop) RequestFrame(fn func()) ID { return f.q.requestFrame(fn) }

func (f *FakeLoop) SetInterval(d time.Duration, fn func()) ID {
	return f.q.setInterval(f.Now(), d, fn)
}

func (f *FakeLoop) Cancel(id ID) { f.q.cancel(id) }

// Now returns the fake wall-clock time.
func (f *FakeLoop) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// RunPending runs posted work, including work posted while draining, and
// returns how many callbacks ran.
func (f *FakeLoop) RunPending() int {
	ran := 0
	for {
		f.mu.Lock()
		batch := f.posts
		f.posts = nil
		f.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			if fn != nil {
				fn()
			}
			ran++
		}
	}
}

// Frame drains posted work and then runs one display refresh. It returns the
// number of frame callbacks that ran.
func (f *FakeLoop) Frame() int {
	f.RunPending()
	return f.q.runFrame(call)
}

// Frames runs n display refreshes.
func (f *FakeLoop) Frames(n int) {
	for i := 0; i < n; i++ {
		f.Frame()
	}
}

// Advance moves the fake wall clock forward by d and fires every interval
// that falls due. It returns the number of interval callbacks that ran.
func (f *FakeLoop) Advance(d time.Duration) int {
	f.RunPending()
	f.mu.Lock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	now := f.now
	f.mu.Unlock()
	ran := f.q.runDue(now, call)
	f.RunPending()
	return ran
}

// RunUntil drains posted work until cond holds or timeout passes in real
// time. It is meant for waiting on goroutines that post results back, such
// as layer fetches.
func (f *FakeLoop) RunUntil(cond func() bool, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		f.RunPending()
		if cond() {
			return true
		}
		select {
		case <-f.notify:
		case <-deadline.C:
			f.RunPending()
			return cond()
		}
	}
}

// PendingFrames reports outstanding frame callbacks.
func (f *FakeLoop) PendingFrames() int { return f.q.pendingFrames() }

// PendingIntervals reports live intervals.
func (f *FakeLoop) PendingIntervals() int { return f.q.pendingIntervals() }

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
