package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/openapim/devportal/internal/app/domain/api"
	"github.com/openapim/devportal/internal/app/domain/application"
	"github.com/openapim/devportal/internal/app/domain/subscription"
)

func TestSubscriptionLifecycle(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	apiID := api.Identifier{Provider: "alice", Name: "weather", Version: "1.0.0"}

	sub, err := mem.AddSubscription(ctx, subscription.Subscription{
		API: apiID, Tier: "Gold", ApplicationID: "app-1", Subscriber: "bob",
		Status: subscription.StatusOnHold,
	})
	if err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if sub.ID == "" {
		t.Fatal("AddSubscription assigned no id")
	}

	if err := mem.UpdateSubscriptionStatus(ctx, sub.ID, subscription.StatusApproved); err != nil {
		t.Fatalf("UpdateSubscriptionStatus: %v", err)
	}
	status, err := mem.GetSubscriptionStatus(ctx, sub.ID)
	if err != nil || status != subscription.StatusApproved {
		t.Fatalf("status = %q, err = %v", status, err)
	}

	ok, _ := mem.IsSubscribed(ctx, apiID, "bob")
	if !ok {
		t.Fatal("IsSubscribed = false, want true")
	}

	if err := mem.UpdateSubscriptionTier(ctx, apiID, "app-1", "Silver"); err != nil {
		t.Fatalf("UpdateSubscriptionTier: %v", err)
	}
	refreshed, _ := mem.GetSubscription(ctx, sub.ID)
	if refreshed.Tier != "Silver" {
		t.Fatalf("tier = %q, want Silver", refreshed.Tier)
	}

	// Removal by (api, application) is idempotent.
	for i := 0; i < 2; i++ {
		if err := mem.RemoveSubscription(ctx, apiID, "app-1"); err != nil {
			t.Fatalf("RemoveSubscription #%d: %v", i+1, err)
		}
	}
	if _, err := mem.GetSubscription(ctx, sub.ID); !errors.Is(err, subscription.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// Removal by id of a missing row reports not found; the compensation
	// path logs this rather than masking the workflow error.
	if err := mem.RemoveSubscriptionByID(ctx, sub.ID); !errors.Is(err, subscription.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestApplicationLifecycle(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	app, err := mem.CreateApplication(ctx, application.Application{
		Name: "my-app", Owner: "bob", Status: application.StatusCreated,
	})
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}

	byName, err := mem.GetApplicationByName(ctx, "my-app", "bob")
	if err != nil || byName.ID != app.ID {
		t.Fatalf("GetApplicationByName = %+v, err = %v", byName, err)
	}

	if err := mem.UpdateApplicationStatus(ctx, app.ID, application.StatusApproved); err != nil {
		t.Fatalf("UpdateApplicationStatus: %v", err)
	}

	app.Name = "renamed"
	if _, err := mem.UpdateApplication(ctx, app); err != nil {
		t.Fatalf("UpdateApplication: %v", err)
	}
	if _, err := mem.GetApplicationByName(ctx, "my-app", "bob"); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("old name still resolves: %v", err)
	}

	if _, err := mem.CreateKey(ctx, application.Key{
		ApplicationID: app.ID, Type: application.KeyTypeProduction, AccessToken: "tok-1",
	}); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	// Deleting the application drops its keys with it.
	if err := mem.DeleteApplication(ctx, app.ID); err != nil {
		t.Fatalf("DeleteApplication: %v", err)
	}
	tokens, _ := mem.GetApplicationKeys(ctx, app.ID)
	if len(tokens) != 0 {
		t.Fatalf("tokens = %v after deletion, want none", tokens)
	}
	exists, _ := mem.TokenExists(ctx, "tok-1")
	if exists {
		t.Fatal("token survived application deletion")
	}
}

func TestRegistrationRoundTrip(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	reg := application.Registration{
		ApplicationID:  "app-1",
		Type:           application.KeyTypeProduction,
		Status:         application.RegistrationCreated,
		CallbackURL:    "https://cb",
		AllowedDomains: []string{"example.com"},
		ValiditySecs:   application.NeverExpires,
		TokenScope:     "default",
	}
	if _, err := mem.CreateRegistration(ctx, reg); err != nil {
		t.Fatalf("CreateRegistration: %v", err)
	}

	got, err := mem.GetRegistration(ctx, "app-1", application.KeyTypeProduction)
	if err != nil {
		t.Fatalf("GetRegistration: %v", err)
	}
	// The never-expires sentinel survives the round trip intact.
	if got.ValiditySecs != application.NeverExpires {
		t.Fatalf("validity = %d, want the never-expires sentinel", got.ValiditySecs)
	}
	if len(got.AllowedDomains) != 1 || got.AllowedDomains[0] != "example.com" {
		t.Fatalf("allowed domains = %v", got.AllowedDomains)
	}

	// Re-registering the same (application, key type) replaces the row.
	reg.TokenScope = "custom"
	if _, err := mem.CreateRegistration(ctx, reg); err != nil {
		t.Fatalf("CreateRegistration (replace): %v", err)
	}
	got, _ = mem.GetRegistration(ctx, "app-1", application.KeyTypeProduction)
	if got.TokenScope != "custom" {
		t.Fatalf("token scope = %q, want custom", got.TokenScope)
	}

	if err := mem.UpdateRegistrationStatus(ctx, "app-1", application.KeyTypeProduction, application.RegistrationApproved); err != nil {
		t.Fatalf("UpdateRegistrationStatus: %v", err)
	}
	state, _ := mem.GetRegistrationApprovalState(ctx, "app-1", application.KeyTypeProduction)
	if state != application.RegistrationApproved {
		t.Fatalf("state = %q, want APPROVED", state)
	}

	if err := mem.DeleteRegistration(ctx, "app-1", application.KeyTypeProduction); err != nil {
		t.Fatalf("DeleteRegistration: %v", err)
	}
	if _, err := mem.GetRegistration(ctx, "app-1", application.KeyTypeProduction); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
	// Deleting an absent row is a no-op.
	if err := mem.DeleteRegistration(ctx, "app-1", application.KeyTypeProduction); err != nil {
		t.Fatalf("DeleteRegistration (absent): %v", err)
	}
}

func TestTierPermissions(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	// Unrestricted tiers resolve to nil, not an error.
	perm, err := mem.GetTierPermission(ctx, "Gold", "carbon.super")
	if err != nil || perm != nil {
		t.Fatalf("perm = %+v, err = %v, want nil/nil", perm, err)
	}

	mem.SetTierPermission(TierPermission{
		Tier: "Gold", TenantID: "carbon.super",
		PermissionType: TierPermissionDeny, Roles: []string{"intern"},
	})
	perm, err = mem.GetTierPermission(ctx, "Gold", "carbon.super")
	if err != nil || perm == nil {
		t.Fatalf("perm = %+v, err = %v", perm, err)
	}
	if perm.PermissionType != TierPermissionDeny || len(perm.Roles) != 1 {
		t.Fatalf("perm = %+v", perm)
	}

	// Restrictions are per tenant.
	perm, _ = mem.GetTierPermission(ctx, "Gold", "acme.com")
	if perm != nil {
		t.Fatalf("perm = %+v for other tenant, want nil", perm)
	}
}
