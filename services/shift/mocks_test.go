package shift

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"shiftline-backend/services/catalog"
	"shiftline-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// memStore is an in-memory FastStore. failOp, when set, is consulted before
// every operation so tests can inject failures per op kind.
type memStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	lists  map[string][]string
	failOp func(op, key string) error
}

func newMemStore() *memStore {
	return &memStore{
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
	}
}

func (s *memStore) fail(op, key string) error {
	if s.failOp != nil {
		return s.failOp(op, key)
	}
	return nil
}

func (s *memStore) GetFields(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("get", key); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) SetField(ctx context.Context, key, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("set", key); err != nil {
		return err
	}

	if s.hashes[key] == nil {
		s.hashes[key] = make(map[string]string)
	}
	s.hashes[key][field] = fmt.Sprint(value)
	return nil
}

func (s *memStore) SetFields(ctx context.Context, key string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("set", key); err != nil {
		return err
	}

	if s.hashes[key] == nil {
		s.hashes[key] = make(map[string]string)
	}
	for k, v := range fields {
		s.hashes[key][k] = fmt.Sprint(v)
	}
	return nil
}

func (s *memStore) IncrField(ctx context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("incr", key); err != nil {
		return 0, err
	}

	if s.hashes[key] == nil {
		s.hashes[key] = make(map[string]string)
	}
	next := parseInt64(s.hashes[key][field]) + delta
	s.hashes[key][field] = fmt.Sprint(next)
	return next, nil
}

func (s *memStore) PushList(ctx context.Context, key string, values ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("push", key); err != nil {
		return err
	}

	for _, v := range values {
		s.lists[key] = append(s.lists[key], fmt.Sprint(v))
	}
	return nil
}

func (s *memStore) RangeList(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("range", key); err != nil {
		return nil, err
	}

	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	return append([]string(nil), list[start:stop+1]...), nil
}

func (s *memStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("del", ""); err != nil {
		return err
	}

	for _, key := range keys {
		delete(s.hashes, key)
		delete(s.lists, key)
	}
	return nil
}

func (s *memStore) hash(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashes[key]
}

func (s *memStore) list(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists[key]
}

// recordBus records every published event in order.
type recordBus struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordBus) Publish(ctx context.Context, shiftID int64, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordBus) Subscribe(ctx context.Context, shiftID int64) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)
	return ch, func() {}, nil
}

func (b *recordBus) recorded() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

func (b *recordBus) names() []string {
	names := make([]string, 0)
	for _, ev := range b.recorded() {
		names = append(names, ev.Event)
	}
	return names
}

// fakeClock advances its reading on every Sleep instead of blocking. onSleep
// receives the 1-based sleep count, letting tests act at a chosen tick.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  int
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps++
	n := c.sleeps
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "test", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) enqueued() []*asynq.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*asynq.Task(nil), f.tasks...)
}

// world wires the shift domain over an in-memory database and fakes for the
// fast store, event bus, clock and job queue.
type world struct {
	repo      *Repository
	store     *memStore
	bus       *recordBus
	clk       *fakeClock
	enq       *fakeEnqueuer
	finalizer *Finalizer
	runner    *Runner
	manager   *Manager
}

func newWorld(t *testing.T) *world {
	t.Helper()

	db := testutil.NewTestDB(t,
		&catalog.Product{},
		&catalog.Packing{},
		&catalog.ProductPacking{},
		&catalog.DefaultSettings{},
		&Shift{},
		&ShiftTask{},
		&PackingLog{},
	)

	w := &world{
		repo:  NewRepository(RepositoryParams{DB: db}),
		store: newMemStore(),
		bus:   &recordBus{},
		clk:   newFakeClock(),
		enq:   &fakeEnqueuer{},
	}
	w.finalizer = NewFinalizer(FinalizerParams{
		Repo:  w.repo,
		Store: w.store,
		Bus:   w.bus,
		Clock: w.clk,
	})
	w.runner = &Runner{
		repo:      w.repo,
		store:     w.store,
		bus:       w.bus,
		finalizer: w.finalizer,
		clock:     w.clk,
		tick:      time.Second,
		retries:   2,
	}
	w.manager = NewManager(ManagerParams{
		Repo:      w.repo,
		Store:     w.store,
		Finalizer: w.finalizer,
		Enqueuer:  w.enq,
		Clock:     w.clk,
	})
	return w
}

func iptr(v int) *int { return &v }

func i64ptr(v int64) *int64 { return &v }
