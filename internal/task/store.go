package task

import (
	"errors"
	"sync"
	"time"

	"github.com/example/id-verify/internal/verdict"
)

var (
	// ErrNotFound is returned for unknown or expired task identifiers.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicateID is returned when a task id is already registered.
	ErrDuplicateID = errors.New("task id already exists")
)

// abandonedFactor scales the TTL used to sweep tasks that never reached a
// terminal status (e.g. the process lost their run loop).
const abandonedFactor = 4

// Store is the in-memory task registry. It is the only structure shared
// between the submit path, the stage goroutines, the poll path, and the TTL
// janitor; every method is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Task
	ttl   time.Duration
}

// NewStore creates a store whose terminal tasks expire ttl after completion.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		items: make(map[string]*Task),
		ttl:   ttl,
	}
}

// Create registers a new task.
func (s *Store) Create(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[t.ID]; ok {
		return ErrDuplicateID
	}
	s.items[t.ID] = t
	return nil
}

// Get returns a snapshot of the task. The snapshot is detached from the live
// entry, so pollers never observe a half-applied update.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok {
		return Task{}, false
	}
	return t.snapshot(), true
}

// Len reports the number of live tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// SetStatus applies a forward-only status transition. A transition that would
// move backwards, or re-enter a terminal state, is a no-op rather than an
// error: multiple stage goroutines may race to finalize the same task.
func (s *Store) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	s.applyStatusLocked(t, status)
	return nil
}

// PutStageResult records one stage outcome. The first write for a stage key
// wins; later writes are no-ops so a recorded outcome is never lost.
func (s *Store) PutStageResult(id string, key verdict.StageKey, res verdict.StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if _, exists := t.StageResults[key]; exists {
		return nil
	}
	t.StageResults[key] = res
	return nil
}

// SetFinalResult publishes the aggregated verdict and flips the task to the
// given terminal status in one critical section, so a poller can never see a
// terminal status without its verdict.
func (s *Store) SetFinalResult(id string, res *verdict.Result, status Status) error {
	if !status.Terminal() {
		return errors.New("final result requires a terminal status")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return nil
	}
	t.FinalResult = res
	t.CompletedAt = time.Now().UTC()
	s.applyStatusLocked(t, status)
	return nil
}

// Evict removes terminal tasks older than the TTL and non-terminal tasks
// older than the abandoned horizon. It returns the number of evicted tasks.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, t := range s.items {
		var expired bool
		if t.Status.Terminal() {
			expired = now.Sub(t.CompletedAt) > s.ttl
		} else {
			expired = now.Sub(t.CreatedAt) > s.ttl*abandonedFactor
		}
		if expired {
			delete(s.items, id)
			evicted++
		}
	}
	return evicted
}

// StartJanitor runs Evict on the given period until the returned stop
// function is called.
func (s *Store) StartJanitor(period time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				s.Evict(now)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

func (s *Store) applyStatusLocked(t *Task, status Status) {
	if statusRank[status] <= statusRank[t.Status] {
		return
	}
	t.Status = status
}
