package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openapim/devportal/internal/app/domain/api"
	"github.com/openapim/devportal/internal/app/domain/application"
	"github.com/openapim/devportal/internal/app/domain/subscription"
)

// Memory is a thread-safe in-memory ledger implementing the storage
// interfaces in this package. It is intended for tests and prototyping and
// deliberately keeps the implementation simple.
type Memory struct {
	mu            sync.RWMutex
	nextID        int64
	subscriptions map[string]subscription.Subscription
	applications  map[string]application.Application
	registrations map[string]application.Registration
	keys          map[string][]application.Key
	permissions   map[string]TierPermission
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID:        1,
		subscriptions: make(map[string]subscription.Subscription),
		applications:  make(map[string]application.Application),
		registrations: make(map[string]application.Registration),
		keys:          make(map[string][]application.Key),
		permissions:   make(map[string]TierPermission),
	}
}

func (m *Memory) nextIDLocked() string {
	id := m.nextID
	m.nextID++
	return fmt.Sprintf("%d", id)
}

func regKey(applicationID string, kt application.KeyType) string {
	return applicationID + "|" + string(kt)
}

// SubscriptionStore implementation -------------------------------------------

func (m *Memory) AddSubscription(_ context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.ID == "" {
		sub.ID = m.nextIDLocked()
	} else if _, exists := m.subscriptions[sub.ID]; exists {
		return subscription.Subscription{}, fmt.Errorf("subscription %s already exists", sub.ID)
	}

	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	m.subscriptions[sub.ID] = sub
	return sub, nil
}

func (m *Memory) RemoveSubscriptionByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscriptions[id]; !ok {
		return fmt.Errorf("subscription %s: %w", id, subscription.ErrNotFound)
	}
	delete(m.subscriptions, id)
	return nil
}

func (m *Memory) RemoveSubscription(_ context.Context, apiID api.Identifier, applicationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sub := range m.subscriptions {
		if sub.API == apiID && sub.ApplicationID == applicationID {
			delete(m.subscriptions, id)
		}
	}
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, id string) (subscription.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subscriptions[id]
	if !ok {
		return subscription.Subscription{}, fmt.Errorf("subscription %s: %w", id, subscription.ErrNotFound)
	}
	return sub, nil
}

func (m *Memory) GetSubscriptionStatus(ctx context.Context, id string) (string, error) {
	sub, err := m.GetSubscription(ctx, id)
	if err != nil {
		return "", err
	}
	return sub.Status, nil
}

func (m *Memory) UpdateSubscriptionStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[id]
	if !ok {
		return fmt.Errorf("subscription %s: %w", id, subscription.ErrNotFound)
	}
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	m.subscriptions[id] = sub
	return nil
}

func (m *Memory) UpdateSubscriptionTier(_ context.Context, apiID api.Identifier, applicationID, tier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := false
	for id, sub := range m.subscriptions {
		if sub.API == apiID && sub.ApplicationID == applicationID {
			sub.Tier = tier
			sub.UpdatedAt = time.Now().UTC()
			m.subscriptions[id] = sub
			updated = true
		}
	}
	if !updated {
		return fmt.Errorf("subscription for %s app %s: %w", apiID, applicationID, subscription.ErrNotFound)
	}
	return nil
}

func (m *Memory) ListSubscriptions(_ context.Context, subscriber string) ([]subscription.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []subscription.Subscription
	for _, sub := range m.subscriptions {
		if sub.Subscriber == subscriber {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *Memory) IsSubscribed(_ context.Context, apiID api.Identifier, subscriber string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscriptions {
		if sub.API == apiID && sub.Subscriber == subscriber {
			return true, nil
		}
	}
	return false, nil
}

// ApplicationStore implementation --------------------------------------------

func (m *Memory) CreateApplication(_ context.Context, app application.Application) (application.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if app.ID == "" {
		app.ID = m.nextIDLocked()
	} else if _, exists := m.applications[app.ID]; exists {
		return application.Application{}, fmt.Errorf("application %s already exists", app.ID)
	}

	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now

	m.applications[app.ID] = app
	return app, nil
}

func (m *Memory) DeleteApplication(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applications[id]; !ok {
		return fmt.Errorf("application %s: %w", id, application.ErrNotFound)
	}
	delete(m.applications, id)
	delete(m.keys, id)
	return nil
}

func (m *Memory) GetApplication(_ context.Context, id string) (application.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.applications[id]
	if !ok {
		return application.Application{}, fmt.Errorf("application %s: %w", id, application.ErrNotFound)
	}
	return app, nil
}

func (m *Memory) GetApplicationByName(_ context.Context, name, owner string) (application.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, app := range m.applications {
		if app.Name == name && app.Owner == owner {
			return app, nil
		}
	}
	return application.Application{}, fmt.Errorf("application %s/%s: %w", owner, name, application.ErrNotFound)
}

func (m *Memory) ListApplications(_ context.Context, owner string) ([]application.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []application.Application
	for _, app := range m.applications {
		if app.Owner == owner {
			result = append(result, app)
		}
	}
	return result, nil
}

func (m *Memory) UpdateApplication(_ context.Context, app application.Application) (application.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.applications[app.ID]
	if !ok {
		return application.Application{}, fmt.Errorf("application %s: %w", app.ID, application.ErrNotFound)
	}
	app.CreatedAt = original.CreatedAt
	app.UpdatedAt = time.Now().UTC()
	m.applications[app.ID] = app
	return app, nil
}

func (m *Memory) UpdateApplicationStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.applications[id]
	if !ok {
		return fmt.Errorf("application %s: %w", id, application.ErrNotFound)
	}
	app.Status = status
	app.UpdatedAt = time.Now().UTC()
	m.applications[id] = app
	return nil
}

// RegistrationStore implementation -------------------------------------------

func (m *Memory) CreateRegistration(_ context.Context, reg application.Registration) (application.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	reg.CreatedAt = now
	reg.UpdatedAt = now
	reg.AllowedDomains = append([]string(nil), reg.AllowedDomains...)

	m.registrations[regKey(reg.ApplicationID, reg.Type)] = reg
	return reg, nil
}

func (m *Memory) DeleteRegistration(_ context.Context, applicationID string, kt application.KeyType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.registrations, regKey(applicationID, kt))
	return nil
}

func (m *Memory) GetRegistration(_ context.Context, applicationID string, kt application.KeyType) (application.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reg, ok := m.registrations[regKey(applicationID, kt)]
	if !ok {
		return application.Registration{}, fmt.Errorf("registration %s/%s: %w", applicationID, kt, application.ErrNotFound)
	}
	return reg, nil
}

func (m *Memory) GetRegistrationApprovalState(ctx context.Context, applicationID string, kt application.KeyType) (string, error) {
	reg, err := m.GetRegistration(ctx, applicationID, kt)
	if err != nil {
		return "", err
	}
	return reg.Status, nil
}

func (m *Memory) UpdateRegistrationStatus(_ context.Context, applicationID string, kt application.KeyType, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := regKey(applicationID, kt)
	reg, ok := m.registrations[key]
	if !ok {
		return fmt.Errorf("registration %s/%s: %w", applicationID, kt, application.ErrNotFound)
	}
	reg.Status = status
	reg.UpdatedAt = time.Now().UTC()
	m.registrations[key] = reg
	return nil
}

func (m *Memory) CreateKey(_ context.Context, key application.Key) (application.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key.CreatedAt = time.Now().UTC()
	m.keys[key.ApplicationID] = append(m.keys[key.ApplicationID], key)
	return key, nil
}

func (m *Memory) GetApplicationKeys(_ context.Context, applicationID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tokens []string
	for _, key := range m.keys[applicationID] {
		if key.AccessToken != "" {
			tokens = append(tokens, key.AccessToken)
		}
	}
	return tokens, nil
}

func (m *Memory) TokenExists(_ context.Context, token string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, keys := range m.keys {
		for _, key := range keys {
			if key.AccessToken == token {
				return true, nil
			}
		}
	}
	return false, nil
}

// TierPermissionStore implementation -----------------------------------------

// SetTierPermission installs or replaces a tier restriction.
func (m *Memory) SetTierPermission(perm TierPermission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[perm.Tier+"|"+perm.TenantID] = perm
}

func (m *Memory) GetTierPermission(_ context.Context, tier, tenantID string) (*TierPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perm, ok := m.permissions[tier+"|"+tenantID]
	if !ok {
		return nil, nil
	}
	out := perm
	out.Roles = append([]string(nil), perm.Roles...)
	return &out, nil
}

var (
	_ SubscriptionStore   = (*Memory)(nil)
	_ ApplicationStore    = (*Memory)(nil)
	_ RegistrationStore   = (*Memory)(nil)
	_ TierPermissionStore = (*Memory)(nil)
)
