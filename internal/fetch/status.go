package fetch

import (
	"sync"
)

// Status tracks the in-flight flag and last error of every fetch
// operation, per argument key.
type Status struct {
	mu       sync.RWMutex
	fetching map[string]map[string]bool
	errors   map[string]map[string]error
}

// NewStatus returns an empty Status
func NewStatus() *Status {
	return &Status{
		fetching: make(map[string]map[string]bool),
		errors:   make(map[string]map[string]error),
	}
}

func (s *Status) start(op, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetching[op] == nil {
		s.fetching[op] = make(map[string]bool)
	}
	s.fetching[op][key] = true
}

// finish clears the in-flight flag and records err (nil clears it)
func (s *Status) finish(op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fetching[op], key)
	if err == nil {
		delete(s.errors[op], key)
		return
	}
	if s.errors[op] == nil {
		s.errors[op] = make(map[string]error)
	}
	s.errors[op][key] = err
}

// IsFetching reports whether op is in flight for these arguments
func (s *Status) IsFetching(op string, args any) bool {
	key, err := Key(args)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetching[op][key]
}

// IsFetchingAny reports whether op is in flight for any arguments
func (s *Status) IsFetchingAny(op string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fetching[op]) > 0
}

// ErrorFor returns the last error op produced for these arguments
func (s *Status) ErrorFor(op string, args any) error {
	key, err := Key(args)
	if err != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errors[op][key]
}

// Errors returns every recorded error for op, keyed by argument key
func (s *Status) Errors(op string) map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]error, len(s.errors[op]))
	for k, v := range s.errors[op] {
		out[k] = v
	}
	return out
}

// ClearError forgets the error op recorded for these arguments
func (s *Status) ClearError(op string, args any) {
	key, err := Key(args)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errors[op], key)
}
