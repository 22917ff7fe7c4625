package subscriptions

import (
	"context"
	"errors"
	"testing"

	"github.com/openapim/devportal/internal/app/catalog"
	"github.com/openapim/devportal/internal/app/domain/api"
	"github.com/openapim/devportal/internal/app/domain/application"
	"github.com/openapim/devportal/internal/app/domain/identity"
	"github.com/openapim/devportal/internal/app/domain/subscription"
	"github.com/openapim/devportal/internal/app/domain/workflow"
	"github.com/openapim/devportal/internal/app/services/approvals"
	"github.com/openapim/devportal/internal/app/storage"
	"github.com/openapim/devportal/internal/clients/gateway"
	workflowclient "github.com/openapim/devportal/internal/clients/workflow"
)

type fakeExecutor struct {
	execute func(ctx context.Context, req workflow.Request) error
}

func (f *fakeExecutor) NewReference() string { return "ref-1" }
func (f *fakeExecutor) CallbackURL() string  { return "" }
func (f *fakeExecutor) Execute(ctx context.Context, req workflow.Request) error {
	if f.execute == nil {
		return nil
	}
	return f.execute(ctx, req)
}

type fakeGateway struct {
	name  string
	err   error
	calls [][]gateway.KeyMapping
}

func (g *fakeGateway) Environment() string { return g.name }
func (g *fakeGateway) InvalidateKeys(_ context.Context, mappings []gateway.KeyMapping) error {
	g.calls = append(g.calls, mappings)
	return g.err
}

func weatherAPI() api.API {
	return api.API{
		ID:             api.Identifier{Provider: "alice", Name: "weather", Version: "1.0.0"},
		Context:        "/weather",
		AvailableTiers: []string{"Gold", "Silver"},
		URITemplates: []api.URITemplate{
			{Template: "/forecast", Verb: "GET", AuthType: "Application"},
		},
		SubscriptionAvailability: api.AvailabilityCurrentTenant,
	}
}

// fixture wires a subscription service against the in-memory ledger with a
// synchronous auto-approving engine.
type fixture struct {
	mem     *storage.Memory
	cat     *catalog.Static
	service *Service
	appID   string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	mem := storage.NewMemory()
	cat := catalog.NewStatic()
	cat.Add(weatherAPI())

	app, err := mem.CreateApplication(context.Background(), application.Application{
		Name:   "my-app",
		Owner:  "bob",
		Status: application.StatusApproved,
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}

	engine := workflowclient.NewRegistry(
		workflowclient.NewAutoApprove(approvals.New(mem, mem, mem, nil), ""),
	)

	return &fixture{
		mem:     mem,
		cat:     cat,
		service: New(cat, mem, mem, mem, mem, engine, opts...),
		appID:   app.ID,
	}
}

func TestSubscribeAutoApprove(t *testing.T) {
	f := newFixture(t)
	rc := identity.NewRequestContext("bob", "", []string{"subscriber"})

	status, err := f.service.Subscribe(context.Background(), rc, weatherAPI().ID, "Gold", f.appID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if status != subscription.StatusApproved {
		t.Fatalf("status = %q, want %q", status, subscription.StatusApproved)
	}

	subscribed, err := f.service.IsSubscribed(context.Background(), weatherAPI().ID, "bob")
	if err != nil {
		t.Fatalf("IsSubscribed: %v", err)
	}
	if !subscribed {
		t.Fatal("expected bob to be subscribed")
	}
}

func TestSubscribeRejectsUnknownTier(t *testing.T) {
	f := newFixture(t)
	rc := identity.NewRequestContext("bob", "", nil)

	_, err := f.service.Subscribe(context.Background(), rc, weatherAPI().ID, "Platinum", f.appID)
	if !errors.Is(err, subscription.ErrInvalidTier) {
		t.Fatalf("err = %v, want ErrInvalidTier", err)
	}

	subs, _ := f.mem.ListSubscriptions(context.Background(), "bob")
	if len(subs) != 0 {
		t.Fatalf("ledger has %d rows after rejected subscribe, want 0", len(subs))
	}
}

func TestSubscribeTierPermission(t *testing.T) {
	tests := []struct {
		name     string
		permType string
		roles    []string
		caller   []string
		denied   bool
	}{
		{"deny with matching role", storage.TierPermissionDeny, []string{"intern"}, []string{"intern"}, true},
		{"deny without matching role", storage.TierPermissionDeny, []string{"intern"}, []string{"subscriber"}, false},
		{"allow with matching role", storage.TierPermissionAllow, []string{"subscriber"}, []string{"subscriber"}, false},
		{"allow without matching role", storage.TierPermissionAllow, []string{"partner"}, []string{"subscriber"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.mem.SetTierPermission(storage.TierPermission{
				Tier:           "Gold",
				TenantID:       identity.SuperTenant,
				PermissionType: tc.permType,
				Roles:          tc.roles,
			})
			rc := identity.NewRequestContext("bob", "", tc.caller)

			_, err := f.service.Subscribe(context.Background(), rc, weatherAPI().ID, "Gold", f.appID)
			if tc.denied {
				if !errors.Is(err, subscription.ErrInvalidTier) {
					t.Fatalf("err = %v, want ErrInvalidTier", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}
		})
	}
}

func TestSubscribeCrossTenant(t *testing.T) {
	tests := []struct {
		name         string
		availability string
		tenants      string
		allowed      bool
	}{
		{"current tenant only", api.AvailabilityCurrentTenant, "", false},
		{"all tenants", api.AvailabilityAllTenants, "", true},
		{"specific tenant listed", api.AvailabilitySpecificTenants, "acme.com, other.org", true},
		{"specific tenant not listed", api.AvailabilitySpecificTenants, "other.org", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			def := weatherAPI()
			def.SubscriptionAvailability = tc.availability
			def.AvailableTenants = tc.tenants
			f.cat.Add(def)

			app, err := f.mem.CreateApplication(context.Background(), application.Application{
				Name: "tenant-app", Owner: "eve@acme.com", Status: application.StatusApproved,
			})
			if err != nil {
				t.Fatalf("create application: %v", err)
			}

			rc := identity.NewRequestContext("eve@acme.com", "", nil)
			_, err = f.service.Subscribe(context.Background(), rc, def.ID, "Gold", app.ID)
			if tc.allowed && err != nil {
				t.Fatalf("Subscribe: %v", err)
			}
			if !tc.allowed && !errors.Is(err, subscription.ErrNotAllowed) {
				t.Fatalf("err = %v, want ErrNotAllowed", err)
			}
		})
	}
}

func TestSubscribeWorkflowFailureRollsBack(t *testing.T) {
	mem := storage.NewMemory()
	cat := catalog.NewStatic()
	cat.Add(weatherAPI())
	app, err := mem.CreateApplication(context.Background(), application.Application{
		Name: "my-app", Owner: "bob", Status: application.StatusApproved,
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}

	engine := workflowclient.NewRegistry(&fakeExecutor{
		execute: func(context.Context, workflow.Request) error {
			return errors.New("engine unreachable")
		},
	})
	svc := New(cat, mem, mem, mem, mem, engine)
	rc := identity.NewRequestContext("bob", "", nil)

	_, err = svc.Subscribe(context.Background(), rc, weatherAPI().ID, "Gold", app.ID)
	if err == nil {
		t.Fatal("expected workflow submission error")
	}

	subs, _ := mem.ListSubscriptions(context.Background(), "bob")
	if len(subs) != 0 {
		t.Fatalf("ledger has %d rows after failed submission, want 0", len(subs))
	}
}

func TestSubscribeInvalidatesGatewayCaches(t *testing.T) {
	broken := &fakeGateway{name: "production", err: errors.New("gateway down")}
	healthy := &fakeGateway{name: "sandbox"}

	f := newFixture(t, WithGateways(broken, healthy))
	if _, err := f.mem.CreateKey(context.Background(), application.Key{
		ApplicationID: f.appID,
		Type:          application.KeyTypeProduction,
		AccessToken:   "tok-1",
	}); err != nil {
		t.Fatalf("create key: %v", err)
	}

	rc := identity.NewRequestContext("bob", "", nil)
	if _, err := f.service.Subscribe(context.Background(), rc, weatherAPI().ID, "Gold", f.appID); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// One environment failing must not stop the others.
	if len(broken.calls) != 1 || len(healthy.calls) != 1 {
		t.Fatalf("gateway calls = %d/%d, want 1/1", len(broken.calls), len(healthy.calls))
	}

	want := "tok-1:/weather/1.0.0/forecast:GET:Application"
	got := healthy.calls[0]
	if len(got) != 1 || got[0].CacheKey != want {
		t.Fatalf("cache key = %+v, want %q", got, want)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	rc := identity.NewRequestContext("bob", "", nil)

	if _, err := f.service.Subscribe(context.Background(), rc, weatherAPI().ID, "Gold", f.appID); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := f.service.Unsubscribe(context.Background(), rc, weatherAPI().ID, f.appID); err != nil {
			t.Fatalf("Unsubscribe #%d: %v", i+1, err)
		}
	}

	subscribed, _ := f.service.IsSubscribed(context.Background(), weatherAPI().ID, "bob")
	if subscribed {
		t.Fatal("subscription still present after unsubscribe")
	}
}

func TestUpdateSubscriptionChangesTier(t *testing.T) {
	f := newFixture(t)
	rc := identity.NewRequestContext("bob", "", nil)

	if _, err := f.service.Subscribe(context.Background(), rc, weatherAPI().ID, "Gold", f.appID); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := f.service.UpdateSubscription(context.Background(), rc, weatherAPI().ID, f.appID, "Silver"); err != nil {
		t.Fatalf("UpdateSubscription: %v", err)
	}
	subs, _ := f.service.ListSubscriptions(context.Background(), "bob")
	if len(subs) != 1 || subs[0].Tier != "Silver" {
		t.Fatalf("subscriptions = %+v, want one Silver row", subs)
	}

	// The same tier gates apply on update.
	err := f.service.UpdateSubscription(context.Background(), rc, weatherAPI().ID, f.appID, "Platinum")
	if !errors.Is(err, subscription.ErrInvalidTier) {
		t.Fatalf("err = %v, want ErrInvalidTier", err)
	}
}

func TestBuildKeyMappings(t *testing.T) {
	def := weatherAPI()
	def.URITemplates = append(def.URITemplates, api.URITemplate{
		Template: "/current", Verb: "POST", AuthType: "Any",
	})

	mappings := BuildKeyMappings([]string{"a", "b"}, def)
	if len(mappings) != 4 {
		t.Fatalf("len = %d, want 4 (2 tokens x 2 templates)", len(mappings))
	}
	if mappings[0].CacheKey != "a:/weather/1.0.0/forecast:GET:Application" {
		t.Fatalf("first cache key = %q", mappings[0].CacheKey)
	}
	if mappings[3].CacheKey != "b:/weather/1.0.0/current:POST:Any" {
		t.Fatalf("last cache key = %q", mappings[3].CacheKey)
	}
	for _, m := range mappings {
		if m.Context != "/weather" || m.Version != "1.0.0" {
			t.Fatalf("mapping %+v missing context or version", m)
		}
	}
}
