package render

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Published is a frame together with its JSON encoding.
type Published struct {
	Frame   *Frame
	Payload []byte
}

// FrameStore is an in-memory, thread-safe holder for the latest frame.
// Subscribers are notified outside the lock.
type FrameStore struct {
	mu sync.RWMutex

	latest *Published
	nextID uint64
	subs   map[uint64]func(*Published)
}

// NewFrameStore constructs an empty store.
func NewFrameStore() *FrameStore {
	return &FrameStore{subs: make(map[uint64]func(*Published))}
}

// Publish encodes f, makes it the latest frame and notifies subscribers.
func (s *FrameStore) Publish(f *Frame) error {
	if f == nil {
		return fmt.Errorf("publish: nil frame")
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}
	p := &Published{Frame: f, Payload: payload}

	s.mu.Lock()
	s.latest = p
	subs := make([]func(*Published), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
	return nil
}

// Latest returns the most recent frame, or nil before the first publish.
func (s *FrameStore) Latest() *Published {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Subscribe registers fn for every future frame. It returns an unsubscribe
// function that is safe to call more than once.
func (s *FrameStore) Subscribe(fn func(*Published)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (s *FrameStore) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
