// Package subscriptions implements the subscription orchestration
// workflow: provisional ledger writes gated by an approval workflow, with
// compensating deletes on submission failure and best-effort gateway cache
// invalidation.
package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openapim/devportal/internal/app/catalog"
	"github.com/openapim/devportal/internal/app/domain/api"
	"github.com/openapim/devportal/internal/app/domain/identity"
	"github.com/openapim/devportal/internal/app/domain/subscription"
	"github.com/openapim/devportal/internal/app/domain/workflow"
	"github.com/openapim/devportal/internal/app/storage"
	"github.com/openapim/devportal/internal/clients/gateway"
	"github.com/openapim/devportal/pkg/logger"
)

// Service coordinates subscription creation and removal.
type Service struct {
	catalog       catalog.Catalog
	store         storage.SubscriptionStore
	applications  storage.ApplicationStore
	registrations storage.RegistrationStore
	permissions   storage.TierPermissionStore
	engine        workflow.Engine
	gateways      []gateway.AdminClient
	keyCache      bool
	log           *logger.Logger
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithGateways installs the gateway admin clients used for cache
// invalidation and enables key-cache eviction.
func WithGateways(clients ...gateway.AdminClient) Option {
	return func(s *Service) {
		s.gateways = clients
		s.keyCache = len(clients) > 0
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New creates a configured subscription service.
func New(cat catalog.Catalog, store storage.SubscriptionStore, applications storage.ApplicationStore, registrations storage.RegistrationStore, permissions storage.TierPermissionStore, engine workflow.Engine, opts ...Option) *Service {
	s := &Service{
		catalog:       cat,
		store:         store,
		applications:  applications,
		registrations: registrations,
		permissions:   permissions,
		engine:        engine,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewDefault("subscriptions")
	}
	return s
}

// Subscribe creates an ON_HOLD subscription row, submits the creation
// workflow and returns the subscription's current status. A failed
// workflow submission rolls the row back before the error surfaces; the
// ledger never keeps an orphaned ON_HOLD subscription with no workflow.
func (s *Service) Subscribe(ctx context.Context, rc identity.RequestContext, apiID api.Identifier, tier, applicationID string) (string, error) {
	def, err := s.validate(ctx, rc, apiID, tier)
	if err != nil {
		return "", err
	}

	app, err := s.applications.GetApplication(ctx, applicationID)
	if err != nil {
		return "", fmt.Errorf("resolve application %s: %w", applicationID, err)
	}

	sub := subscription.Subscription{
		API:           apiID,
		Context:       def.Context,
		Tier:          tier,
		ApplicationID: applicationID,
		Subscriber:    rc.Username,
		TenantID:      rc.TenantID,
		Status:        subscription.StatusOnHold,
	}
	sub, err = s.store.AddSubscription(ctx, sub)
	if err != nil {
		return "", fmt.Errorf("add subscription: %w", err)
	}

	if err := s.submitCreationWorkflow(ctx, rc, def, sub, app.Name); err != nil {
		// Roll back the provisional row. If the engine's failure mode was
		// ambiguous the remote workflow may still have started; that race
		// is accepted here.
		if rbErr := s.store.RemoveSubscriptionByID(ctx, sub.ID); rbErr != nil {
			s.log.WithError(rbErr).
				WithField("subscription_id", sub.ID).
				Error("failed to roll back subscription after workflow error")
		}
		s.log.WithError(err).Error("could not execute subscription workflow")
		return "", fmt.Errorf("could not execute subscription creation workflow: %w", err)
	}

	if s.keyCache {
		s.invalidateKeys(ctx, applicationID, def)
	}

	s.log.WithField("api", apiID.String()).
		WithField("application_id", applicationID).
		WithField("subscriber", rc.Username).
		Debugf("subscription %s created", sub.ID)

	return s.store.GetSubscriptionStatus(ctx, sub.ID)
}

func (s *Service) submitCreationWorkflow(ctx context.Context, rc identity.RequestContext, def api.API, sub subscription.Subscription, appName string) error {
	exec, err := s.engine.Executor(workflow.SubscriptionCreation)
	if err != nil {
		return err
	}

	req := workflow.Request{
		Kind:            workflow.SubscriptionCreation,
		Reference:       exec.NewReference(),
		SubjectID:       sub.ID,
		Status:          workflow.StatusCreated,
		CallbackURL:     exec.CallbackURL(),
		TenantID:        rc.TenantID,
		Subscriber:      rc.Username,
		CreatedAt:       time.Now().UTC(),
		APIName:         def.ID.Name,
		APIContext:      def.Context,
		APIVersion:      def.ID.Version,
		APIProvider:     def.ID.Provider,
		Tier:            sub.Tier,
		ApplicationName: appName,
	}
	return exec.Execute(ctx, req)
}

// validate resolves the API and applies the tier and tenant gates before
// any mutation.
func (s *Service) validate(ctx context.Context, rc identity.RequestContext, apiID api.Identifier, tier string) (api.API, error) {
	def, err := s.catalog.GetAPI(ctx, apiID)
	if err != nil {
		return api.API{}, fmt.Errorf("resolve API %s: %w", apiID, err)
	}

	if !def.AllowsTier(tier) {
		return api.API{}, fmt.Errorf(
			"tier %s is not allowed for API %s-%s, only %s tiers are allowed: %w",
			tier, apiID.Name, apiID.Version, strings.Join(def.AvailableTiers, ","), subscription.ErrInvalidTier)
	}

	denied, err := s.isTierDenied(ctx, rc, tier)
	if err != nil {
		return api.API{}, err
	}
	if denied {
		return api.API{}, fmt.Errorf("tier %s is not allowed for user %s: %w", tier, rc.Username, subscription.ErrInvalidTier)
	}

	if !def.AllowsTenant(rc.TenantID) {
		return api.API{}, fmt.Errorf("subscription is not allowed for tenant %s: %w", rc.TenantID, subscription.ErrNotAllowed)
	}
	return def, nil
}

// isTierDenied evaluates the tier restriction against the caller's roles.
func (s *Service) isTierDenied(ctx context.Context, rc identity.RequestContext, tier string) (bool, error) {
	if s.permissions == nil {
		return false, nil
	}
	perm, err := s.permissions.GetTierPermission(ctx, tier, rc.TenantID)
	if err != nil {
		return false, fmt.Errorf("resolve tier permission: %w", err)
	}
	if perm == nil {
		return false, nil
	}

	matched := 0
	for _, role := range rc.Roles {
		for _, allowed := range perm.Roles {
			if role == allowed {
				matched++
			}
		}
	}
	if perm.PermissionType == storage.TierPermissionAllow {
		return matched == 0, nil
	}
	return matched > 0, nil
}

// Unsubscribe removes the subscription row for (api, application). Absent
// rows are a no-op at this layer. No workflow gates removal.
func (s *Service) Unsubscribe(ctx context.Context, rc identity.RequestContext, apiID api.Identifier, applicationID string) error {
	if err := s.store.RemoveSubscription(ctx, apiID, applicationID); err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}

	if s.keyCache {
		def, err := s.catalog.GetAPI(ctx, apiID)
		if err != nil {
			s.log.WithError(err).Warn("skipping cache invalidation, API metadata unavailable")
		} else {
			s.invalidateKeys(ctx, applicationID, def)
		}
	}

	s.log.WithField("api", apiID.String()).
		WithField("application_id", applicationID).
		Debugf("subscription removed by %s", rc.Username)
	return nil
}

// UpdateSubscription changes the tier on an existing subscription. No
// workflow gates the change.
func (s *Service) UpdateSubscription(ctx context.Context, rc identity.RequestContext, apiID api.Identifier, applicationID, tier string) error {
	if _, err := s.validate(ctx, rc, apiID, tier); err != nil {
		return err
	}
	return s.store.UpdateSubscriptionTier(ctx, apiID, applicationID, tier)
}

// IsSubscribed reports whether the user holds any subscription to the API.
func (s *Service) IsSubscribed(ctx context.Context, apiID api.Identifier, username string) (bool, error) {
	return s.store.IsSubscribed(ctx, apiID, username)
}

// ListSubscriptions lists a subscriber's subscriptions.
func (s *Service) ListSubscriptions(ctx context.Context, username string) ([]subscription.Subscription, error) {
	return s.store.ListSubscriptions(ctx, username)
}

// invalidateKeys evicts cached authorization decisions for every key of
// the application crossed with every URI template of the API. It is a
// best-effort side channel: per-environment failures are logged and the
// remaining environments are still attempted.
func (s *Service) invalidateKeys(ctx context.Context, applicationID string, def api.API) {
	if len(s.gateways) == 0 {
		return
	}

	tokens, err := s.registrations.GetApplicationKeys(ctx, applicationID)
	if err != nil {
		s.log.WithError(err).Warn("could not list application keys for cache invalidation")
		return
	}
	if len(tokens) == 0 {
		return
	}

	mappings := BuildKeyMappings(tokens, def)
	for _, gw := range s.gateways {
		if err := gw.InvalidateKeys(ctx, mappings); err != nil {
			s.log.WithError(err).
				WithField("environment", gw.Environment()).
				Warn("error while invalidating API keys at the gateway")
		}
	}
}

// BuildKeyMappings expands tokens and URI templates into the gateway's
// cache keys: key:context/version+template:verb:authtype, one mapping per
// combination.
func BuildKeyMappings(tokens []string, def api.API) []gateway.KeyMapping {
	mappings := make([]gateway.KeyMapping, 0, len(tokens)*len(def.URITemplates))
	for _, token := range tokens {
		for _, tmpl := range def.URITemplates {
			cacheKey := token + ":" + def.Context + "/" + def.ID.Version +
				tmpl.Template + ":" + tmpl.Verb + ":" + tmpl.AuthType
			mappings = append(mappings, gateway.KeyMapping{
				CacheKey: cacheKey,
				Context:  def.Context,
				Version:  def.ID.Version,
			})
		}
	}
	return mappings
}
