// Package postgres implements the ledger storage interfaces backed by
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/openapim/devportal/internal/app/domain/api"
	"github.com/openapim/devportal/internal/app/domain/application"
	"github.com/openapim/devportal/internal/app/domain/subscription"
	"github.com/openapim/devportal/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.SubscriptionStore = (*Store)(nil)
var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.RegistrationStore = (*Store)(nil)
var _ storage.TierPermissionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- SubscriptionStore ------------------------------------------------------

func (s *Store) AddSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dp_subscriptions (id, api_provider, api_name, api_version, api_context, tier, application_id, subscriber, tenant_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, sub.ID, sub.API.Provider, sub.API.Name, sub.API.Version, sub.Context, sub.Tier,
		sub.ApplicationID, sub.Subscriber, sub.TenantID, sub.Status, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return subscription.Subscription{}, err
	}
	return sub, nil
}

func (s *Store) RemoveSubscriptionByID(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM dp_subscriptions WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) RemoveSubscription(ctx context.Context, apiID api.Identifier, applicationID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM dp_subscriptions
		WHERE api_provider = $1 AND api_name = $2 AND api_version = $3 AND application_id = $4
	`, apiID.Provider, apiID.Name, apiID.Version, applicationID)
	return err
}

const subscriptionColumns = `id, api_provider, api_name, api_version, api_context, tier, application_id, subscriber, tenant_id, status, created_at, updated_at`

func scanSubscription(row interface {
	Scan(dest ...interface{}) error
}) (subscription.Subscription, error) {
	var sub subscription.Subscription
	err := row.Scan(&sub.ID, &sub.API.Provider, &sub.API.Name, &sub.API.Version, &sub.Context,
		&sub.Tier, &sub.ApplicationID, &sub.Subscriber, &sub.TenantID, &sub.Status,
		&sub.CreatedAt, &sub.UpdatedAt)
	return sub, err
}

func (s *Store) GetSubscription(ctx context.Context, id string) (subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM dp_subscriptions
		WHERE id = $1
	`, id)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	if err != nil {
		return subscription.Subscription{}, err
	}
	return sub, nil
}

func (s *Store) GetSubscriptionStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM dp_subscriptions WHERE id = $1
	`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", subscription.ErrNotFound
	}
	return status, err
}

func (s *Store) UpdateSubscriptionStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE dp_subscriptions SET status = $2, updated_at = $3 WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSubscriptionTier(ctx context.Context, apiID api.Identifier, applicationID, tier string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE dp_subscriptions SET tier = $5, updated_at = $6
		WHERE api_provider = $1 AND api_name = $2 AND api_version = $3 AND application_id = $4
	`, apiID.Provider, apiID.Name, apiID.Version, applicationID, tier, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, subscriber string) ([]subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM dp_subscriptions
		WHERE subscriber = $1
		ORDER BY created_at
	`, subscriber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (s *Store) IsSubscribed(ctx context.Context, apiID api.Identifier, subscriber string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM dp_subscriptions
		WHERE api_provider = $1 AND api_name = $2 AND api_version = $3 AND subscriber = $4
	`, apiID.Provider, apiID.Name, apiID.Version, subscriber).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- ApplicationStore -------------------------------------------------------

func (s *Store) CreateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dp_applications (id, name, owner, tier, callback_url, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, app.ID, app.Name, app.Owner, app.Tier, app.CallbackURL, app.Description, app.Status,
		app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return application.Application{}, err
	}
	return app, nil
}

func (s *Store) DeleteApplication(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM dp_applications WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return application.ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM dp_application_keys WHERE application_id = $1
	`, id)
	return err
}

const applicationColumns = `id, name, owner, tier, callback_url, description, status, created_at, updated_at`

func scanApplication(row interface {
	Scan(dest ...interface{}) error
}) (application.Application, error) {
	var app application.Application
	err := row.Scan(&app.ID, &app.Name, &app.Owner, &app.Tier, &app.CallbackURL,
		&app.Description, &app.Status, &app.CreatedAt, &app.UpdatedAt)
	return app, err
}

func (s *Store) GetApplication(ctx context.Context, id string) (application.Application, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+applicationColumns+`
		FROM dp_applications
		WHERE id = $1
	`, id)

	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return application.Application{}, application.ErrNotFound
	}
	if err != nil {
		return application.Application{}, err
	}
	return app, nil
}

func (s *Store) GetApplicationByName(ctx context.Context, name, owner string) (application.Application, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+applicationColumns+`
		FROM dp_applications
		WHERE name = $1 AND owner = $2
	`, name, owner)

	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return application.Application{}, application.ErrNotFound
	}
	if err != nil {
		return application.Application{}, err
	}
	return app, nil
}

func (s *Store) ListApplications(ctx context.Context, owner string) ([]application.Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+applicationColumns+`
		FROM dp_applications
		WHERE owner = $1
		ORDER BY created_at
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []application.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	return result, rows.Err()
}

func (s *Store) UpdateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	existing, err := s.GetApplication(ctx, app.ID)
	if err != nil {
		return application.Application{}, err
	}

	app.Owner = existing.Owner
	app.CreatedAt = existing.CreatedAt
	app.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE dp_applications
		SET name = $2, tier = $3, callback_url = $4, description = $5, status = $6, updated_at = $7
		WHERE id = $1
	`, app.ID, app.Name, app.Tier, app.CallbackURL, app.Description, app.Status, app.UpdatedAt)
	if err != nil {
		return application.Application{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return application.Application{}, application.ErrNotFound
	}
	return app, nil
}

func (s *Store) UpdateApplicationStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE dp_applications SET status = $2, updated_at = $3 WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return application.ErrNotFound
	}
	return nil
}

// --- RegistrationStore ------------------------------------------------------

func (s *Store) CreateRegistration(ctx context.Context, reg application.Registration) (application.Registration, error) {
	now := time.Now().UTC()
	reg.CreatedAt = now
	reg.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dp_registrations (application_id, key_type, status, callback_url, allowed_domains, validity_secs, token_scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (application_id, key_type) DO UPDATE
		SET status = EXCLUDED.status, callback_url = EXCLUDED.callback_url,
			allowed_domains = EXCLUDED.allowed_domains, validity_secs = EXCLUDED.validity_secs,
			token_scope = EXCLUDED.token_scope, updated_at = EXCLUDED.updated_at
	`, reg.ApplicationID, string(reg.Type), reg.Status, reg.CallbackURL,
		pq.Array(reg.AllowedDomains), reg.ValiditySecs, reg.TokenScope, reg.CreatedAt, reg.UpdatedAt)
	if err != nil {
		return application.Registration{}, err
	}
	return reg, nil
}

func (s *Store) DeleteRegistration(ctx context.Context, applicationID string, kt application.KeyType) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM dp_registrations WHERE application_id = $1 AND key_type = $2
	`, applicationID, string(kt))
	return err
}

func (s *Store) GetRegistration(ctx context.Context, applicationID string, kt application.KeyType) (application.Registration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT application_id, key_type, status, callback_url, allowed_domains, validity_secs, token_scope, created_at, updated_at
		FROM dp_registrations
		WHERE application_id = $1 AND key_type = $2
	`, applicationID, string(kt))

	var (
		reg     application.Registration
		keyType string
		domains pq.StringArray
	)
	err := row.Scan(&reg.ApplicationID, &keyType, &reg.Status, &reg.CallbackURL, &domains,
		&reg.ValiditySecs, &reg.TokenScope, &reg.CreatedAt, &reg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return application.Registration{}, fmt.Errorf("registration %s/%s: %w", applicationID, kt, application.ErrNotFound)
	}
	if err != nil {
		return application.Registration{}, err
	}
	reg.Type = application.KeyType(keyType)
	reg.AllowedDomains = []string(domains)
	return reg, nil
}

func (s *Store) GetRegistrationApprovalState(ctx context.Context, applicationID string, kt application.KeyType) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM dp_registrations WHERE application_id = $1 AND key_type = $2
	`, applicationID, string(kt)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("registration %s/%s: %w", applicationID, kt, application.ErrNotFound)
	}
	return status, err
}

func (s *Store) UpdateRegistrationStatus(ctx context.Context, applicationID string, kt application.KeyType, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE dp_registrations SET status = $3, updated_at = $4
		WHERE application_id = $1 AND key_type = $2
	`, applicationID, string(kt), status, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("registration %s/%s: %w", applicationID, kt, application.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateKey(ctx context.Context, key application.Key) (application.Key, error) {
	key.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dp_application_keys (application_id, key_type, consumer_key, consumer_secret, access_token, validity_secs, token_scope, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, key.ApplicationID, string(key.Type), key.ConsumerKey, key.ConsumerSecret,
		key.AccessToken, key.ValiditySecs, key.TokenScope, key.CreatedAt)
	if err != nil {
		return application.Key{}, err
	}
	return key, nil
}

func (s *Store) GetApplicationKeys(ctx context.Context, applicationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT access_token FROM dp_application_keys WHERE application_id = $1
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens, rows.Err()
}

func (s *Store) TokenExists(ctx context.Context, token string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM dp_application_keys WHERE access_token = $1
	`, token).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- TierPermissionStore ----------------------------------------------------

func (s *Store) GetTierPermission(ctx context.Context, tier, tenantID string) (*storage.TierPermission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tier, tenant_id, permission_type, roles
		FROM dp_tier_permissions
		WHERE tier = $1 AND tenant_id = $2
	`, tier, tenantID)

	var (
		perm  storage.TierPermission
		roles pq.StringArray
	)
	err := row.Scan(&perm.Tier, &perm.TenantID, &perm.PermissionType, &roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	perm.Roles = []string(roles)
	return &perm, nil
}
