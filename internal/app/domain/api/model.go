package api

import "strings"

// Subscription availability values advertised by an API.
const (
	AvailabilityCurrentTenant   = "current_tenant"
	AvailabilityAllTenants      = "all_tenants"
	AvailabilitySpecificTenants = "specific_tenants"
)

// Identifier uniquely names a published API version.
type Identifier struct {
	Provider string
	Name     string
	Version  string
}

func (id Identifier) String() string {
	return id.Provider + "/" + id.Name + "/" + id.Version
}

// URITemplate is one resource exposed by an API. The gateway caches
// authorization decisions per (token, template, verb, auth type), so the
// template set drives cache invalidation.
type URITemplate struct {
	Template string
	Verb     string
	AuthType string
}

// API is the read-only metadata record served by the catalog.
type API struct {
	ID                       Identifier
	Context                  string
	AvailableTiers           []string
	URITemplates             []URITemplate
	SubscriptionAvailability string
	// AvailableTenants is a comma-separated tenant list, meaningful only
	// when SubscriptionAvailability is specific_tenants.
	AvailableTenants string
}

// ProviderTenant returns the tenant partition the API provider belongs to.
func (a API) ProviderTenant() string {
	if idx := strings.LastIndex(a.ID.Provider, "@"); idx >= 0 && idx < len(a.ID.Provider)-1 {
		return a.ID.Provider[idx+1:]
	}
	return "carbon.super"
}

// AllowsTier reports whether the tier is in the API's allowed-tier set.
func (a API) AllowsTier(tier string) bool {
	for _, t := range a.AvailableTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// AllowsTenant evaluates the cross-tenant subscription rule for a
// requester from the given tenant.
func (a API) AllowsTenant(tenant string) bool {
	if tenant == a.ProviderTenant() {
		return true
	}
	switch a.SubscriptionAvailability {
	case AvailabilityAllTenants:
		return true
	case AvailabilitySpecificTenants:
		for _, allowed := range strings.Split(a.AvailableTenants, ",") {
			if allowed = strings.TrimSpace(allowed); allowed != "" && allowed == tenant {
				return true
			}
		}
	}
	return false
}
