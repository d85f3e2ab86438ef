// Package store persists the little a student device must remember across
// restarts: the code the teacher assigned and the last answer sent.
package store

import (
	"context"
	"sync"

	"github.com/mcdev12/classcast/go/internal/protocol"
)

// Keys used by every backend.
const (
	KeyAssignedCode = "assigned_code"
	KeyLastResponse = "last_response"
)

// Store is the durable home of the assigned code. Load reports absence with
// ok == false rather than an error.
type Store interface {
	Load(ctx context.Context) (code string, ok bool, err error)
	Save(ctx context.Context, code string) error
}

// AnswerStore is implemented by stores that also keep the last answer for display.
type AnswerStore interface {
	SaveLastResponse(ctx context.Context, answer protocol.Answer) error
	LoadLastResponse(ctx context.Context) (protocol.Answer, bool, error)
}

// MemoryStore keeps everything in process memory. Useful for tests and for
// devices that should forget their code on restart.
type MemoryStore struct {
	mu     sync.Mutex
	code   string
	answer protocol.Answer
	saves  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWithCode returns a store that already holds code.
func NewMemoryStoreWithCode(code string) *MemoryStore {
	return &MemoryStore{code: code}
}

func (s *MemoryStore) Load(context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code, s.code != "", nil
}

func (s *MemoryStore) Save(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
	s.saves++
	return nil
}

func (s *MemoryStore) SaveLastResponse(_ context.Context, answer protocol.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = answer
	return nil
}

func (s *MemoryStore) LoadLastResponse(context.Context) (protocol.Answer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer, s.answer != "", nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
