// Package applications implements application lifecycle orchestration:
// creation gated by an approval workflow with a compensating delete on
// submission failure, plus update and removal.
package applications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openapim/devportal/internal/app/catalog"
	"github.com/openapim/devportal/internal/app/domain/application"
	"github.com/openapim/devportal/internal/app/domain/identity"
	"github.com/openapim/devportal/internal/app/domain/subscription"
	"github.com/openapim/devportal/internal/app/domain/workflow"
	"github.com/openapim/devportal/internal/app/services/subscriptions"
	"github.com/openapim/devportal/internal/app/storage"
	"github.com/openapim/devportal/internal/clients/gateway"
	"github.com/openapim/devportal/pkg/logger"
)

// Service coordinates application creation, update and removal.
type Service struct {
	store         storage.ApplicationStore
	subscriptions storage.SubscriptionStore
	registrations storage.RegistrationStore
	catalog       catalog.Catalog
	engine        workflow.Engine
	gateways      []gateway.AdminClient
	log           *logger.Logger
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithGateways installs the gateway admin clients used for cache
// invalidation on application removal.
func WithGateways(clients ...gateway.AdminClient) Option {
	return func(s *Service) { s.gateways = clients }
}

// WithLogger overrides the default logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New creates a configured application service.
func New(store storage.ApplicationStore, subs storage.SubscriptionStore, registrations storage.RegistrationStore, cat catalog.Catalog, engine workflow.Engine, opts ...Option) *Service {
	s := &Service{
		store:         store,
		subscriptions: subs,
		registrations: registrations,
		catalog:       cat,
		engine:        engine,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewDefault("applications")
	}
	return s
}

// Create adds an application in CREATED state and submits the creation
// workflow. A duplicate name owned by the caller fails before any
// mutation; a failed workflow submission deletes the provisional row.
// Returns the ledger's current status for the application.
func (s *Service) Create(ctx context.Context, rc identity.RequestContext, name, tier, callbackURL, description string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("application name is required")
	}

	existing, err := s.store.ListApplications(ctx, rc.Username)
	if err != nil {
		return "", fmt.Errorf("list applications: %w", err)
	}
	for _, app := range existing {
		if app.Name == name {
			return "", fmt.Errorf("a duplicate application already exists by the name %s: %w", name, application.ErrDuplicate)
		}
	}

	app := application.Application{
		Name:        name,
		Owner:       rc.Username,
		Tier:        tier,
		CallbackURL: callbackURL,
		Description: description,
		Status:      application.StatusCreated,
	}
	app, err = s.store.CreateApplication(ctx, app)
	if err != nil {
		return "", fmt.Errorf("create application: %w", err)
	}

	if err := s.submitCreationWorkflow(ctx, rc, app); err != nil {
		if rbErr := s.store.DeleteApplication(ctx, app.ID); rbErr != nil {
			s.log.WithError(rbErr).
				WithField("application_id", app.ID).
				Error("failed to roll back application after workflow error")
		}
		s.log.WithError(err).Error("unable to execute application creation workflow")
		return "", fmt.Errorf("unable to execute application creation workflow: %w", err)
	}

	refreshed, err := s.store.GetApplicationByName(ctx, name, rc.Username)
	if err != nil {
		return "", fmt.Errorf("read application status: %w", err)
	}
	return refreshed.Status, nil
}

func (s *Service) submitCreationWorkflow(ctx context.Context, rc identity.RequestContext, app application.Application) error {
	exec, err := s.engine.Executor(workflow.ApplicationCreation)
	if err != nil {
		return err
	}

	req := workflow.Request{
		Kind:            workflow.ApplicationCreation,
		Reference:       exec.NewReference(),
		SubjectID:       app.ID,
		Status:          workflow.StatusCreated,
		CallbackURL:     exec.CallbackURL(),
		TenantID:        rc.TenantID,
		Subscriber:      rc.Username,
		CreatedAt:       time.Now().UTC(),
		Tier:            app.Tier,
		ApplicationName: app.Name,
	}
	return exec.Execute(ctx, req)
}

// Update modifies an application's mutable fields. Applications still in
// CREATED state cannot be updated.
func (s *Service) Update(ctx context.Context, rc identity.RequestContext, app application.Application) (application.Application, error) {
	current, err := s.store.GetApplication(ctx, app.ID)
	if err != nil {
		return application.Application{}, err
	}
	if current.Status == application.StatusCreated {
		return application.Application{}, fmt.Errorf("cannot update application %s while it is inactive: %w", app.ID, application.ErrInactive)
	}

	current.Name = app.Name
	current.Tier = app.Tier
	current.CallbackURL = app.CallbackURL
	current.Description = app.Description
	return s.store.UpdateApplication(ctx, current)
}

// Remove deletes an application, then best-effort evicts gateway cache
// entries for every key of the application crossed with every API its
// owner's remaining subscriptions through this application referenced.
func (s *Service) Remove(ctx context.Context, rc identity.RequestContext, applicationID string) error {
	app, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return err
	}

	// Capture key and subscription state before the delete; it is gone
	// afterwards.
	var tokens []string
	var removed []subscription.Subscription
	if len(s.gateways) > 0 {
		if tokens, err = s.registrations.GetApplicationKeys(ctx, applicationID); err != nil {
			s.log.WithError(err).Warn("could not list application keys before removal")
		}
		all, err := s.subscriptions.ListSubscriptions(ctx, app.Owner)
		if err != nil {
			s.log.WithError(err).Warn("could not list subscriptions before removal")
		}
		for _, sub := range all {
			if sub.ApplicationID == applicationID {
				removed = append(removed, sub)
			}
		}
	}

	if err := s.store.DeleteApplication(ctx, applicationID); err != nil {
		return fmt.Errorf("delete application: %w", err)
	}

	if len(tokens) > 0 && len(removed) > 0 {
		s.invalidateRemovedKeys(ctx, removed, tokens)
	}

	s.log.WithField("application_id", applicationID).
		WithField("owner", app.Owner).
		Info("application removed")
	return nil
}

// invalidateRemovedKeys evicts cache entries for the subscriptions that
// referenced the removed application. The application is already deleted;
// failures here are logged only.
func (s *Service) invalidateRemovedKeys(ctx context.Context, removed []subscription.Subscription, tokens []string) {
	var mappings []gateway.KeyMapping
	for _, sub := range removed {
		def, err := s.catalog.GetAPI(ctx, sub.API)
		if err != nil {
			s.log.WithError(err).WithField("api", sub.API.String()).
				Warn("skipping cache invalidation for unresolvable API")
			continue
		}
		mappings = append(mappings, subscriptions.BuildKeyMappings(tokens, def)...)
	}
	if len(mappings) == 0 {
		return
	}

	for _, gw := range s.gateways {
		if err := gw.InvalidateKeys(ctx, mappings); err != nil {
			s.log.WithError(err).
				WithField("environment", gw.Environment()).
				Warn("error while invalidating API keys at the gateway")
		}
	}
}

// Get fetches an application by id.
func (s *Service) Get(ctx context.Context, id string) (application.Application, error) {
	return s.store.GetApplication(ctx, id)
}

// GetByName fetches an application by (name, owner).
func (s *Service) GetByName(ctx context.Context, name, owner string) (application.Application, error) {
	return s.store.GetApplicationByName(ctx, name, owner)
}

// List lists the caller's applications.
func (s *Service) List(ctx context.Context, rc identity.RequestContext) ([]application.Application, error) {
	return s.store.ListApplications(ctx, rc.Username)
}
