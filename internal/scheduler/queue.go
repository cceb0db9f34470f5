package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ID identifies a frame callback or interval. The zero ID is never issued,
// so cancelling it is a no-op like any other unknown ID.
type ID string

// Scheduler is the scheduling surface components use from the loop
// goroutine. Callbacks always run on the loop goroutine.
type Scheduler interface {
	// Post queues fn to run on the loop. Safe from any goroutine.
	Post(fn func())
	// RequestFrame runs fn once, on the next display refresh. Callers that
	// want to run every frame request again from inside fn.
	RequestFrame(fn func()) ID
	// SetInterval runs fn every d of wall-clock time until cancelled.
	SetInterval(d time.Duration, fn func()) ID
	// Cancel drops a pending frame callback or interval. Unknown, already
	// run and already cancelled IDs are ignored.
	Cancel(id ID)
	// Now returns the scheduler's wall-clock time.
	Now() time.Time
}

type task struct {
	id        ID
	fn        func()
	when      time.Time
	every     time.Duration
	cancelled bool
}

// queue holds pending frame callbacks and intervals. Both Loop and FakeLoop
// drive one; callbacks run outside the lock so they can reschedule.
type queue struct {
	mu      sync.Mutex
	counter uint64
	frames  []*task
	timers  []*task // ordered by when, earliest first
	index   map[ID]*task
}

func newQueue() *queue {
	return &queue{index: make(map[ID]*task)}
}

func (q *queue) nextIDLocked(prefix string) ID {
	q.counter++
	return ID(fmt.Sprintf("%s-%d", prefix, q.counter))
}

func (q *queue) requestFrame(fn func()) ID {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := &task{id: q.nextIDLocked("frame"), fn: fn}
	q.frames = append(q.frames, t)
	q.index[t.id] = t
	return t.id
}

func (q *queue) setInterval(now time.Time, d time.Duration, fn func()) ID {
	if d <= 0 {
		return ""
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	t := &task{id: q.nextIDLocked("interval"), fn: fn, when: now.Add(d), every: d}
	q.insertTimerLocked(t)
	q.index[t.id] = t
	return t.id
}

func (q *queue) insertTimerLocked(t *task) {
	idx := sort.Search(len(q.timers), func(i int) bool {
		return q.timers[i].when.After(t.when)
	})
	q.timers = append(q.timers, nil)
	copy(q.timers[idx+1:], q.timers[idx:])
	q.timers[idx] = t
}

func (q *queue) cancel(id ID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.index[id]
	if !ok {
		return
	}
	t.cancelled = true
	delete(q.index, id)
	// Removal from frames/timers is lazy.
}

// runFrame runs the callbacks requested before this refresh. Callbacks
// requested while it runs wait for the next one.
func (q *queue) runFrame(run func(func())) int {
	q.mu.Lock()
	batch := q.frames
	q.frames = nil
	q.mu.Unlock()

	ran := 0
	for _, t := range batch {
		q.mu.Lock()
		if t.cancelled {
			q.mu.Unlock()
			continue
		}
		delete(q.index, t.id)
		q.mu.Unlock()

		run(t.fn)
		ran++
	}
	return ran
}

// runDue fires every interval due at or before now, catching up missed
// periods one at a time.
func (q *queue) runDue(now time.Time, run func(func())) int {
	ran := 0
	for {
		q.mu.Lock()
		for len(q.timers) > 0 && q.timers[0].cancelled {
			q.timers = q.timers[1:]
		}
		if len(q.timers) == 0 || q.timers[0].when.After(now) {
			q.mu.Unlock()
			return ran
		}
		t := q.timers[0]
		q.timers = q.timers[1:]
		t.when = t.when.Add(t.every)
		q.insertTimerLocked(t)
		q.mu.Unlock()

		run(t.fn)
		ran++
	}
}

func (q *queue) pendingFrames() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.frames {
		if !t.cancelled {
			n++
		}
	}
	return n
}

func (q *queue) pendingIntervals() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}
