// Package store keeps per-model conversation history and staged insertions.
// All state lives in process memory and is lost on restart.
package store

import (
	"sync"

	"github.com/fluxaster/FluxChat/internal/models"
)

// Store maps model identifiers to their conversation state. Entries are
// created lazily on first use. Each entry carries its own mutex so that
// mutations for one model never interleave, while different models do not
// contend with each other.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu         sync.Mutex
	history    []models.Message
	insertions []models.Insertion
}

func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) entryFor(model string) *entry {
	s.mu.RLock()
	e, ok := s.entries[model]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[model]; !ok {
		e = &entry{}
		s.entries[model] = e
	}
	return e
}

// History returns a copy of the recorded turns for the model.
func (s *Store) History(model string) []models.Message {
	e := s.entryFor(model)
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMessages(e.history)
}

// Insertions returns a copy of the pending insertions for the model.
func (s *Store) Insertions(model string) []models.Insertion {
	e := s.entryFor(model)
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneInsertions(e.insertions)
}

// BeginTurn snapshots the state a chat turn builds its context from and
// consumes the once-lifetime insertions in the same step. Callers must invoke
// it only once they are committed to sending the merged context upstream:
// the consumed entries are gone even if the upstream call later fails.
func (s *Store) BeginTurn(model string) ([]models.Message, []models.Insertion) {
	e := s.entryFor(model)
	e.mu.Lock()
	defer e.mu.Unlock()

	history := cloneMessages(e.history)
	staged := cloneInsertions(e.insertions)

	remaining := e.insertions[:0]
	for _, ins := range e.insertions {
		if ins.Lifetime == models.LifetimePermanent {
			remaining = append(remaining, ins)
		}
	}
	e.insertions = remaining

	return history, staged
}

// AppendTurn records one completed exchange. The user message and the
// assistant response are appended together so a turn is never half-recorded.
func (s *Store) AppendTurn(model string, user, assistant models.Message) {
	e := s.entryFor(model)
	e.mu.Lock()
	e.history = append(e.history, user, assistant)
	e.mu.Unlock()
}

// StageInsertions appends the given insertions to the model's pending list,
// preserving the order they were staged in.
func (s *Store) StageInsertions(model string, insertions []models.Insertion) int {
	e := s.entryFor(model)
	e.mu.Lock()
	e.insertions = append(e.insertions, insertions...)
	n := len(e.insertions)
	e.mu.Unlock()
	return n
}

// Clear erases both the history and the pending insertions for the model.
// Clearing a model that has no state is a no-op.
func (s *Store) Clear(model string) {
	s.mu.RLock()
	e, ok := s.entries[model]
	s.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.history = nil
	e.insertions = nil
	e.mu.Unlock()
}

func cloneMessages(in []models.Message) []models.Message {
	out := make([]models.Message, len(in))
	copy(out, in)
	return out
}

func cloneInsertions(in []models.Insertion) []models.Insertion {
	out := make([]models.Insertion, len(in))
	copy(out, in)
	return out
}
