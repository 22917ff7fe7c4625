// Package keys implements the two-phase OAuth key provisioning flow:
// registration request gated by an approval workflow, completion once the
// registration is approved, and token regeneration.
package keys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openapim/devportal/internal/app/domain/application"
	"github.com/openapim/devportal/internal/app/domain/identity"
	"github.com/openapim/devportal/internal/app/domain/workflow"
	"github.com/openapim/devportal/internal/app/storage"
	"github.com/openapim/devportal/pkg/logger"
)

// KeyManager mints and regenerates access keys. The HTTP client in
// internal/clients/keymanager implements it.
type KeyManager interface {
	GetApplicationAccessKey(ctx context.Context, username, applicationName string, keyType application.KeyType, callbackURL string, allowedDomains []string, validitySecs int64, tokenScope string) (application.KeyMaterial, error)
	RegenerateApplicationAccessKey(ctx context.Context, scopes, oldToken string, allowedDomains []string, consumerKey, consumerSecret string, validitySecs int64) (string, error)
}

// ScopeAuthorizer filters requested scopes down to those the user may
// hold.
type ScopeAuthorizer interface {
	AuthorizedScopes(ctx context.Context, rc identity.RequestContext, requested []string) ([]string, error)
}

// AllowAll authorizes every requested scope. Used when no external scope
// authority is wired.
type AllowAll struct{}

func (AllowAll) AuthorizedScopes(_ context.Context, _ identity.RequestContext, requested []string) ([]string, error) {
	return requested, nil
}

// Defaults carries the configured token-issuance fallbacks. A negative
// DefaultValiditySecs means freshly issued tokens never expire.
type Defaults struct {
	DefaultValiditySecs int64
	DefaultScope        string
}

// Result is the outcome of a registration request or completion. Pending
// registrations carry only the state.
type Result struct {
	State           string
	AccessToken     string
	ConsumerKey     string
	ConsumerSecret  string
	ValiditySecs    int64
	TokenScope      string
	AllowedDomains  []string
	RegenerateAvail bool
}

// Service orchestrates key registration and issuance.
type Service struct {
	applications  storage.ApplicationStore
	registrations storage.RegistrationStore
	engine        workflow.Engine
	keyManager    KeyManager
	scopes        ScopeAuthorizer
	defaults      Defaults
	log           *logger.Logger
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithScopeAuthorizer overrides the default allow-all authorizer.
func WithScopeAuthorizer(auth ScopeAuthorizer) Option {
	return func(s *Service) { s.scopes = auth }
}

// WithLogger overrides the default logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New creates a configured key service.
func New(applications storage.ApplicationStore, registrations storage.RegistrationStore, engine workflow.Engine, keyManager KeyManager, defaults Defaults, opts ...Option) *Service {
	s := &Service{
		applications:  applications,
		registrations: registrations,
		engine:        engine,
		keyManager:    keyManager,
		defaults:      defaults,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scopes == nil {
		s.scopes = AllowAll{}
	}
	if s.log == nil {
		s.log = logger.NewDefault("keys")
	}
	return s
}

// ResolveValidity maps a requested validity to the effective one: an
// unspecified value falls back to the configured default, and a negative
// default denotes never-expiring tokens, carried internally as the
// never-expires sentinel.
func (s *Service) ResolveValidity(requested string) (int64, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		if s.defaults.DefaultValiditySecs < 0 {
			return application.NeverExpires, nil
		}
		return s.defaults.DefaultValiditySecs, nil
	}

	var secs int64
	if _, err := fmt.Sscanf(requested, "%d", &secs); err != nil {
		return 0, fmt.Errorf("invalid validity period %q: %w", requested, err)
	}
	if secs < 0 {
		return application.NeverExpires, nil
	}
	return secs, nil
}

// resolveScope filters the space-separated requested scopes through the
// authorizer. An empty authorized set falls back to the configured default
// scope; no token is ever issued scope-less.
func (s *Service) resolveScope(ctx context.Context, rc identity.RequestContext, scopes string) (string, error) {
	var requested []string
	for _, scope := range strings.Fields(scopes) {
		if scope != s.defaults.DefaultScope {
			requested = append(requested, scope)
		}
	}

	var authorized []string
	if len(requested) > 0 {
		var err error
		authorized, err = s.scopes.AuthorizedScopes(ctx, rc, requested)
		if err != nil {
			return "", fmt.Errorf("authorize scopes: %w", err)
		}
	}
	if len(authorized) == 0 {
		return s.defaults.DefaultScope, nil
	}
	return strings.Join(authorized, " "), nil
}

// RequestRegistration submits the key-registration workflow for an
// approved application. The returned result reflects the ledger's
// registration state after submission: a synchronous engine resolves it to
// APPROVED in place, an asynchronous one leaves it CREATED and the caller
// polls CompleteRegistration.
func (s *Service) RequestRegistration(ctx context.Context, rc identity.RequestContext, applicationName string, keyType application.KeyType, callbackURL string, allowedDomains []string, validity, scopes string) (Result, error) {
	app, err := s.applications.GetApplicationByName(ctx, applicationName, rc.Username)
	if err != nil {
		return Result{}, err
	}
	if app.Status != application.StatusApproved {
		return Result{}, fmt.Errorf("application %s should be approved before registering: %w", applicationName, application.ErrNotApproved)
	}

	validitySecs, err := s.ResolveValidity(validity)
	if err != nil {
		return Result{}, err
	}
	tokenScope, err := s.resolveScope(ctx, rc, scopes)
	if err != nil {
		return Result{}, err
	}

	kind := workflow.RegistrationKind(keyType)
	exec, err := s.engine.Executor(kind)
	if err != nil {
		return Result{}, err
	}

	reg := application.Registration{
		ApplicationID:  app.ID,
		Type:           keyType,
		Status:         application.RegistrationCreated,
		CallbackURL:    callbackURL,
		AllowedDomains: allowedDomains,
		ValiditySecs:   validitySecs,
		TokenScope:     tokenScope,
	}
	if _, err := s.registrations.CreateRegistration(ctx, reg); err != nil {
		return Result{}, fmt.Errorf("create registration: %w", err)
	}

	req := workflow.Request{
		Kind:            kind,
		Reference:       exec.NewReference(),
		SubjectID:       app.ID,
		Status:          workflow.StatusCreated,
		CallbackURL:     exec.CallbackURL(),
		TenantID:        rc.TenantID,
		Subscriber:      rc.Username,
		CreatedAt:       time.Now().UTC(),
		ApplicationName: app.Name,
		KeyType:         keyType,
		AllowedDomains:  allowedDomains,
		ValiditySecs:    validitySecs,
		TokenScope:      tokenScope,
	}
	if err := exec.Execute(ctx, req); err != nil {
		// Roll back the provisional row so a registration whose workflow
		// never started cannot sit pending forever.
		if rbErr := s.registrations.DeleteRegistration(ctx, app.ID, keyType); rbErr != nil {
			s.log.WithError(rbErr).
				WithField("application_id", app.ID).
				WithField("key_type", keyType).
				Error("failed to roll back registration after workflow error")
		}
		s.log.WithError(err).Error("could not execute registration workflow")
		return Result{}, fmt.Errorf("could not execute registration workflow: %w", err)
	}

	state, err := s.registrations.GetRegistrationApprovalState(ctx, app.ID, keyType)
	if err != nil {
		return Result{}, fmt.Errorf("read registration state: %w", err)
	}

	result := Result{
		State:           state,
		AllowedDomains:  allowedDomains,
		RegenerateAvail: s.defaults.DefaultValiditySecs >= 0,
	}
	if state != application.RegistrationApproved {
		return result, nil
	}
	return s.issueKey(ctx, rc, app, keyType, tokenScope, result)
}

// CompleteRegistration re-reads the registration state and, only when the
// workflow has approved it, retrieves key material from the key manager
// using the workflow-recorded callback, domains and validity. A pending
// registration yields an empty result with no error; the caller polls
// again later. A key type that was never requested behaves the same way.
func (s *Service) CompleteRegistration(ctx context.Context, rc identity.RequestContext, applicationName string, keyType application.KeyType, tokenScope string) (Result, error) {
	app, err := s.applications.GetApplicationByName(ctx, applicationName, rc.Username)
	if err != nil {
		return Result{}, err
	}

	state, err := s.registrations.GetRegistrationApprovalState(ctx, app.ID, keyType)
	if errors.Is(err, application.ErrNotFound) {
		return Result{RegenerateAvail: s.defaults.DefaultValiditySecs >= 0}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("read registration state: %w", err)
	}

	result := Result{
		State:           state,
		RegenerateAvail: s.defaults.DefaultValiditySecs >= 0,
	}
	if state != application.RegistrationApproved {
		return result, nil
	}
	if tokenScope == "" {
		reg, err := s.registrations.GetRegistration(ctx, app.ID, keyType)
		if err != nil {
			return Result{}, fmt.Errorf("read registration: %w", err)
		}
		tokenScope = reg.TokenScope
	}
	return s.issueKey(ctx, rc, app, keyType, tokenScope, result)
}

// issueKey calls the key manager with the workflow-recorded registration
// parameters and records the issued key.
func (s *Service) issueKey(ctx context.Context, rc identity.RequestContext, app application.Application, keyType application.KeyType, tokenScope string, result Result) (Result, error) {
	reg, err := s.registrations.GetRegistration(ctx, app.ID, keyType)
	if err != nil {
		return Result{}, fmt.Errorf("read registration: %w", err)
	}

	material, err := s.keyManager.GetApplicationAccessKey(ctx, rc.Username, app.Name, keyType,
		reg.CallbackURL, reg.AllowedDomains, reg.ValiditySecs, tokenScope)
	if err != nil {
		return Result{}, fmt.Errorf("key management client: %w", err)
	}

	key := application.Key{
		ApplicationID:  app.ID,
		Type:           keyType,
		ConsumerKey:    material.ConsumerKey,
		ConsumerSecret: material.ConsumerSecret,
		AccessToken:    material.AccessToken,
		ValiditySecs:   material.ValiditySecs,
		TokenScope:     material.TokenScope,
	}
	if _, err := s.registrations.CreateKey(ctx, key); err != nil {
		s.log.WithError(err).Warn("issued key could not be recorded")
	}

	result.AccessToken = material.AccessToken
	result.ConsumerKey = material.ConsumerKey
	result.ConsumerSecret = material.ConsumerSecret
	result.ValiditySecs = application.PublicValidity(material.ValiditySecs)
	result.TokenScope = material.TokenScope
	result.AllowedDomains = reg.AllowedDomains

	s.log.WithField("application_id", app.ID).
		WithField("key_type", keyType).
		Info("application access key issued")
	return result, nil
}

// Regenerate replaces an existing access token. The old token must exist
// in the ledger; the public validity of never-expiring tokens renders as
// -1 and regeneration is unavailable when the configured default validity
// is negative.
func (s *Service) Regenerate(ctx context.Context, rc identity.RequestContext, applicationName, requestedScopes, oldToken string, allowedDomains []string, consumerKey, consumerSecret, validity string) (Result, error) {
	if rc.Username == "" || applicationName == "" || requestedScopes == "" || oldToken == "" ||
		consumerKey == "" || consumerSecret == "" {
		return Result{}, fmt.Errorf("invalid types of input parameters")
	}

	exists, err := s.registrations.TokenExists(ctx, oldToken)
	if err != nil {
		return Result{}, fmt.Errorf("check token: %w", err)
	}
	if !exists {
		return Result{}, fmt.Errorf("cannot regenerate a new access token, no access token available as %s", oldToken)
	}

	validitySecs, err := s.ResolveValidity(validity)
	if err != nil {
		return Result{}, err
	}

	token, err := s.keyManager.RegenerateApplicationAccessKey(ctx, requestedScopes, oldToken,
		allowedDomains, consumerKey, consumerSecret, validitySecs)
	if err != nil {
		return Result{}, fmt.Errorf("key management client: %w", err)
	}

	return Result{
		AccessToken:     token,
		ConsumerKey:     consumerKey,
		ConsumerSecret:  consumerSecret,
		ValiditySecs:    application.PublicValidity(validitySecs),
		TokenScope:      requestedScopes,
		AllowedDomains:  allowedDomains,
		RegenerateAvail: s.defaults.DefaultValiditySecs >= 0,
	}, nil
}
