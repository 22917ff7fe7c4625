// Package catalog exposes read-only API metadata to the orchestration
// services. The authoritative registry lives outside this codebase; the
// catalog is queried by identifier and never mutated here.
package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/openapim/devportal/internal/app/domain/api"
)

// ErrAPINotFound signals an identifier the catalog does not know.
var ErrAPINotFound = errors.New("api not found")

// Tag is a label attached to published APIs, with the number of APIs
// carrying it.
type Tag struct {
	Name        string
	Count       int
	Description string
}

// Catalog answers metadata queries for published APIs.
type Catalog interface {
	GetAPI(ctx context.Context, id api.Identifier) (api.API, error)
	ListTags(ctx context.Context) ([]Tag, error)
}

// Static is an in-memory catalog, loaded once and safe for concurrent
// reads. It backs tests and single-node deployments where the registry
// contents are provisioned up front.
type Static struct {
	mu   sync.RWMutex
	apis map[api.Identifier]api.API
	tags map[api.Identifier][]string
}

// NewStatic creates an empty catalog.
func NewStatic() *Static {
	return &Static{
		apis: make(map[api.Identifier]api.API),
		tags: make(map[api.Identifier][]string),
	}
}

// Add registers an API with its tags, replacing any previous entry.
func (s *Static) Add(a api.API, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apis[a.ID] = a
	s.tags[a.ID] = append([]string(nil), tags...)
}

func (s *Static) GetAPI(_ context.Context, id api.Identifier) (api.API, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.apis[id]
	if !ok {
		return api.API{}, ErrAPINotFound
	}
	return a, nil
}

func (s *Static) ListTags(_ context.Context) ([]Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, tags := range s.tags {
		for _, tag := range tags {
			counts[tag]++
		}
	}

	result := make([]Tag, 0, len(counts))
	for name, count := range counts {
		result = append(result, Tag{Name: name, Count: count})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
