package layers

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/globe-engine/internal/datasource"
	"github.com/signalsfoundry/globe-engine/internal/scheduler"
)

var epoch = time.Date(2024, time.April, 9, 12, 0, 0, 0, time.UTC)

// memSource serves files from memory. A name listed in gates blocks until
// the gate channel is closed or the context is cancelled.
type memSource struct {
	mu    sync.Mutex
	files map[string]string
	gates map[string]chan struct{}
	opens map[string]int
}

func newMemSource(files map[string]string) *memSource {
	return &memSource{files: files, gates: make(map[string]chan struct{}), opens: make(map[string]int)}
}

func (m *memSource) gate(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.gates[name] = ch
	return ch
}

func (m *memSource) set(name, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = body
}

func (m *memSource) openCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[name]
}

func (m *memSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.opens[name]++
	gate := m.gates[name]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	body, ok := m.files[name]
	m.mu.Unlock()
	if !ok {
		return nil, datasource.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type loadEvent struct {
	layer, outcome string
}

type fakeRecorder struct {
	mu           sync.Mutex
	loads        []loadEvent
	entities     map[string]int
	rowsDropped  map[string]int
	catalog      map[string]int
	propFailures int
	beeps        int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		entities:    make(map[string]int),
		rowsDropped: make(map[string]int),
		catalog:     make(map[string]int),
	}
}

func (r *fakeRecorder) ObserveLayerLoad(layer, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, loadEvent{layer, outcome})
}

func (r *fakeRecorder) SetLayerEntities(layer string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[layer] = n
}

func (r *fakeRecorder) AddRowsDropped(layer string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rowsDropped[layer] += n
}

func (r *fakeRecorder) AddCatalogDropped(reason string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog[reason] += n
}

func (r *fakeRecorder) AddPropagationFailures(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.propFailures += n
}

func (r *fakeRecorder) AddBeeps(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beeps += n
}

func (r *fakeRecorder) lastLoad() loadEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.loads) == 0 {
		return loadEvent{}
	}
	return r.loads[len(r.loads)-1]
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// settle drives the fake loop until the store leaves LOADING.
func settle[T any](t *testing.T, loop *scheduler.FakeLoop, s *Store[T]) {
	t.Helper()
	if !loop.RunUntil(func() bool { return s.State() != Loading }, 2*time.Second) {
		t.Fatalf("layer %s still loading", s.Name())
	}
}
