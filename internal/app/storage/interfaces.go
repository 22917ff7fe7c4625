package storage

import (
	"context"

	"github.com/openapim/devportal/internal/app/domain/api"
	"github.com/openapim/devportal/internal/app/domain/application"
	"github.com/openapim/devportal/internal/app/domain/subscription"
)

// Tier permission types. Allow denies the tier to everyone outside the
// role list; Deny denies it to everyone inside.
const (
	TierPermissionAllow = "allow"
	TierPermissionDeny  = "deny"
)

// TierPermission restricts a tier to or from a set of roles within one
// tenant. A missing permission means the tier is unrestricted.
type TierPermission struct {
	Tier           string
	TenantID       string
	PermissionType string
	Roles          []string
}

// SubscriptionStore persists subscription rows. The ledger is the single
// source of truth for subscription state; only single-row transactionality
// is assumed.
type SubscriptionStore interface {
	AddSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error)
	// RemoveSubscriptionByID deletes the row written for a failed workflow
	// submission (the compensating action).
	RemoveSubscriptionByID(ctx context.Context, id string) error
	// RemoveSubscription deletes by (api, application); absent rows are a
	// no-op, not an error.
	RemoveSubscription(ctx context.Context, apiID api.Identifier, applicationID string) error
	GetSubscription(ctx context.Context, id string) (subscription.Subscription, error)
	GetSubscriptionStatus(ctx context.Context, id string) (string, error)
	UpdateSubscriptionStatus(ctx context.Context, id, status string) error
	UpdateSubscriptionTier(ctx context.Context, apiID api.Identifier, applicationID, tier string) error
	ListSubscriptions(ctx context.Context, subscriber string) ([]subscription.Subscription, error)
	IsSubscribed(ctx context.Context, apiID api.Identifier, subscriber string) (bool, error)
}

// ApplicationStore persists applications.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app application.Application) (application.Application, error)
	DeleteApplication(ctx context.Context, id string) error
	GetApplication(ctx context.Context, id string) (application.Application, error)
	GetApplicationByName(ctx context.Context, name, owner string) (application.Application, error)
	ListApplications(ctx context.Context, owner string) ([]application.Application, error)
	UpdateApplication(ctx context.Context, app application.Application) (application.Application, error)
	UpdateApplicationStatus(ctx context.Context, id, status string) error
}

// RegistrationStore persists key-registration workflow state and issued
// keys.
type RegistrationStore interface {
	CreateRegistration(ctx context.Context, reg application.Registration) (application.Registration, error)
	// DeleteRegistration removes the row written for a failed workflow
	// submission (the compensating action); absent rows are a no-op.
	DeleteRegistration(ctx context.Context, applicationID string, kt application.KeyType) error
	GetRegistration(ctx context.Context, applicationID string, kt application.KeyType) (application.Registration, error)
	GetRegistrationApprovalState(ctx context.Context, applicationID string, kt application.KeyType) (string, error)
	UpdateRegistrationStatus(ctx context.Context, applicationID string, kt application.KeyType, status string) error

	CreateKey(ctx context.Context, key application.Key) (application.Key, error)
	// GetApplicationKeys lists the access tokens issued to an application;
	// gateway cache keys are derived from them.
	GetApplicationKeys(ctx context.Context, applicationID string) ([]string, error)
	TokenExists(ctx context.Context, token string) (bool, error)
}

// TierPermissionStore resolves tier restrictions.
type TierPermissionStore interface {
	// GetTierPermission returns nil when the tier carries no restriction.
	GetTierPermission(ctx context.Context, tier, tenantID string) (*TierPermission, error)
}
