package identity

import "strings"

// SuperTenant is the default partition used when a username carries no
// tenant suffix.
const SuperTenant = "carbon.super"

// RequestContext carries the authenticated caller identity through every
// orchestration call. It is always passed explicitly; there is no ambient
// or goroutine-local tenant state.
type RequestContext struct {
	TenantID string
	Username string
	Roles    []string
}

// TenantDomain extracts the tenant partition from a qualified username of
// the form user@tenant. Unqualified names belong to the super tenant.
func TenantDomain(username string) string {
	if idx := strings.LastIndex(username, "@"); idx >= 0 && idx < len(username)-1 {
		return username[idx+1:]
	}
	return SuperTenant
}

// NewRequestContext builds a context for the given username, deriving the
// tenant from the name when none is supplied.
func NewRequestContext(username, tenantID string, roles []string) RequestContext {
	if tenantID == "" {
		tenantID = TenantDomain(username)
	}
	return RequestContext{TenantID: tenantID, Username: username, Roles: roles}
}
