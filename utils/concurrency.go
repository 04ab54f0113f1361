package utils

import (
	"sync"
	"time"
)

// WorkerPool runs jobs on at most maxWorkers goroutines. Job starts are
// spaced at least minInterval apart; zero disables spacing.
type WorkerPool struct {
	semaphore   chan struct{}
	wg          sync.WaitGroup
	minInterval time.Duration

	mu        sync.Mutex
	nextStart time.Time
}

// NewWorkerPool creates a WorkerPool with the given concurrency and start spacing.
func NewWorkerPool(maxWorkers int, minInterval time.Duration) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		semaphore:   make(chan struct{}, maxWorkers),
		minInterval: minInterval,
	}
}

// Submit enqueues a job, blocking while all workers are busy.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		wp.pace()
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// pace reserves the next start slot and sleeps until it arrives.
func (wp *WorkerPool) pace() {
	if wp.minInterval <= 0 {
		return
	}
	wp.mu.Lock()
	start := time.Now()
	if wp.nextStart.After(start) {
		start = wp.nextStart
	}
	wp.nextStart = start.Add(wp.minInterval)
	wp.mu.Unlock()

	time.Sleep(time.Until(start))
}

// KeySet is a thread-safe insertion-ordered set of listing keys.
type KeySet struct {
	mu    sync.RWMutex
	seen  map[string]struct{}
	order []string
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{seen: make(map[string]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *KeySet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, key)
	return true
}

// Contains returns true if the key has already been added.
func (s *KeySet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[key]
	return exists
}

// Size returns the number of unique keys tracked.
func (s *KeySet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Keys returns the keys in first-insertion order.
func (s *KeySet) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
