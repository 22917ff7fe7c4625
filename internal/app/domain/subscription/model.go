package subscription

import (
	"errors"
	"time"

	"github.com/openapim/devportal/internal/app/domain/api"
)

// Status values a subscription moves through. Rows are created ON_HOLD and
// transitioned by the approval workflow.
const (
	StatusOnHold   = "ON_HOLD"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
	StatusBlocked  = "BLOCKED"
)

var (
	// ErrInvalidTier signals a tier outside the API's allowed set or one
	// denied to the caller's roles.
	ErrInvalidTier = errors.New("tier not allowed")
	// ErrNotAllowed signals a cross-tenant subscription the API does not
	// permit.
	ErrNotAllowed = errors.New("subscription not allowed for tenant")
	// ErrNotFound signals a missing subscription row.
	ErrNotFound = errors.New("subscription not found")
)

// Subscription ties a consumer application to an API at a tier.
type Subscription struct {
	ID            string
	API           api.Identifier
	Context       string
	Tier          string
	ApplicationID string
	Subscriber    string
	TenantID      string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
