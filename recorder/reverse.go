package recorder

import "sync"

// ReverseStore collects the teardown functions of every watcher of a
// recording. Running it is the only way to stop watchers.
type ReverseStore struct {
	mu  sync.Mutex
	fns []func()
}

// NewReverseStore creates an empty store.
func NewReverseStore() *ReverseStore { return &ReverseStore{} }

// Add registers a teardown function.
func (s *ReverseStore) Add(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

// Run calls every registered function once, in registration order, and
// empties the store.
func (s *ReverseStore) Run() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of pending teardown functions.
func (s *ReverseStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}
