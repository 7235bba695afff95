package memorystore

import (
	"context"
	"slices"
	"sync"

	"github.com/ggoodman/mcp-transport-go/sessions"
)

// Store is an in-memory implementation of sessions.Store.
type Store struct {
	mu      sync.RWMutex
	records map[string]sessions.Record
}

var _ sessions.Store = (*Store)(nil)

func New() *Store {
	return &Store{records: make(map[string]sessions.Record)}
}

func (s *Store) Put(_ context.Context, rec sessions.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Token] = rec
	return nil
}

func (s *Store) Get(_ context.Context, token string) (sessions.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[token]
	if !ok {
		return sessions.Record{}, sessions.ErrRecordNotFound
	}
	return rec, nil
}

func (s *Store) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, token)
	return nil
}

func (s *Store) List(_ context.Context) ([]sessions.Record, error) {
	s.mu.RLock()
	recs := make([]sessions.Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()
	slices.SortFunc(recs, func(a, b sessions.Record) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return recs, nil
}
