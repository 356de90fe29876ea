// Package memdocstore is an in-memory docstore.Store used in tests and
// single-node deployments without a real document backend.
package memdocstore

import (
	"context"
	"strings"
	"sync"

	"github.com/kabsikabs/agentcore/internal/docstore"
	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
)

// Store is an in-memory docstore.Store.
type Store struct {
	mu       sync.Mutex
	profiles map[string]docstore.Profile
	docs     map[string][]docstore.SearchResult // keyed by mandate path
}

// New returns an empty store.
func New() *Store {
	return &Store{
		profiles: make(map[string]docstore.Profile),
		docs:     make(map[string][]docstore.SearchResult),
	}
}

func (s *Store) LoadProfile(_ context.Context, mandatePath string) (docstore.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[mandatePath]
	if !ok {
		return docstore.Profile{}, agentcoreerrors.ErrSessionNotFound
	}
	return p, nil
}

func (s *Store) SaveProfile(_ context.Context, mandatePath string, profile docstore.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[mandatePath] = profile
	return nil
}

// SeedDocs registers documents for Search to return, for test fixtures.
func (s *Store) SeedDocs(mandatePath string, docs ...docstore.SearchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[mandatePath] = append(s.docs[mandatePath], docs...)
}

func (s *Store) Search(_ context.Context, mandatePath, query string, limit int) ([]docstore.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	query = strings.ToLower(query)
	var hits []docstore.SearchResult
	for _, d := range s.docs[mandatePath] {
		if query == "" || strings.Contains(strings.ToLower(d.Title), query) || strings.Contains(strings.ToLower(d.Snippet), query) {
			hits = append(hits, d)
			if limit > 0 && len(hits) >= limit {
				break
			}
		}
	}
	return hits, nil
}

var _ docstore.Store = (*Store)(nil)
