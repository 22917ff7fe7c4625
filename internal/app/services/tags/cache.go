// Package tags serves tag metadata from the catalog through an explicit
// TTL cache with a guarded refresh path.
package tags

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/openapim/devportal/internal/app/catalog"
	"github.com/openapim/devportal/internal/app/domain/api"
	"github.com/openapim/devportal/pkg/logger"
)

// Clock abstracts time for staleness checks.
type Clock func() time.Time

// Service caches the catalog's tag listing. A zero TTL disables caching
// and every call refreshes.
type Service struct {
	catalog catalog.Catalog
	ttl     time.Duration
	now     Clock
	log     *logger.Logger

	mu          sync.Mutex
	tags        []catalog.Tag
	lastUpdated time.Time

	// artifacts holds per-API metadata with its own expiry, mirroring the
	// small artifact-manager cache next to the tag cache.
	artifacts *gocache.Cache
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithClock injects the time source; tests use it to control staleness.
func WithClock(now Clock) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the default logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New creates a tag service with the given TTL.
func New(cat catalog.Catalog, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		catalog:   cat,
		ttl:       ttl,
		artifacts: gocache.New(5*time.Minute, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.NewDefault("tags")
	}
	return s
}

// Tags returns the tag listing, serving the cached copy while it is
// fresh. The refresh path is mutex-guarded so concurrent callers observe
// one consistent snapshot.
func (s *Service) Tags(ctx context.Context) ([]catalog.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl > 0 && s.tags != nil && s.now().Sub(s.lastUpdated) < s.ttl {
		return append([]catalog.Tag(nil), s.tags...), nil
	}

	tags, err := s.catalog.ListTags(ctx)
	if err != nil {
		// Serve the stale copy rather than failing a read-side call.
		if s.tags != nil {
			s.log.WithError(err).Warn("tag refresh failed, serving stale tags")
			return append([]catalog.Tag(nil), s.tags...), nil
		}
		return nil, fmt.Errorf("list tags: %w", err)
	}

	s.tags = tags
	s.lastUpdated = s.now()
	return append([]catalog.Tag(nil), s.tags...), nil
}

// InvalidateIfStale drops the cached tags once the TTL has elapsed.
func (s *Service) InvalidateIfStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl > 0 && s.now().Sub(s.lastUpdated) >= s.ttl {
		s.tags = nil
	}
}

// GetAPI returns API metadata, cached per identifier.
func (s *Service) GetAPI(ctx context.Context, id api.Identifier) (api.API, error) {
	key := id.String()
	if cached, ok := s.artifacts.Get(key); ok {
		return cached.(api.API), nil
	}

	def, err := s.catalog.GetAPI(ctx, id)
	if err != nil {
		return api.API{}, err
	}
	s.artifacts.Set(key, def, gocache.DefaultExpiration)
	return def, nil
}
