package intake

import (
	"fmt"
	"sync"

	"github.com/psds-microservice/support-bot/internal/errs"
)

// Sessions tracks which users have an intake in progress. Process-local by nature:
// a restart abandons every running session anyway.
type Sessions struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewSessions() *Sessions {
	return &Sessions{active: make(map[string]struct{})}
}

// Acquire marks userID busy. The returned release must run on every exit path;
// calling it more than once is harmless.
func (s *Sessions) Acquire(userID string) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[userID]; ok {
		return nil, fmt.Errorf("intake for %s: %w", userID, errs.ErrSessionActive)
	}
	s.active[userID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.active, userID)
			s.mu.Unlock()
		})
	}, nil
}

func (s *Sessions) Active(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[userID]
	return ok
}
