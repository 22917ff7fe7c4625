package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/openapim/devportal/internal/app/domain/application"
)

// Kind identifies the approval process an operation is gated by. Kinds are
// a closed set dispatched through the engine registry, never raw strings.
type Kind int

const (
	SubscriptionCreation Kind = iota
	ApplicationCreation
	RegistrationProduction
	RegistrationSandbox
)

func (k Kind) String() string {
	switch k {
	case SubscriptionCreation:
		return "subscription-creation"
	case ApplicationCreation:
		return "application-creation"
	case RegistrationProduction:
		return "application-registration-production"
	case RegistrationSandbox:
		return "application-registration-sandbox"
	}
	return fmt.Sprintf("workflow-kind-%d", int(k))
}

// RegistrationKind maps a key type to its registration workflow kind.
func RegistrationKind(kt application.KeyType) Kind {
	if kt == application.KeyTypeSandbox {
		return RegistrationSandbox
	}
	return RegistrationProduction
}

// Status of a workflow request as observed by the orchestrator.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Request is the transient record submitted to the engine. The orchestrator
// persists nothing of it beyond SubjectID; the engine reports the outcome
// through the callback URL or a synchronous Execute return.
type Request struct {
	Kind        Kind
	Reference   string // external workflow reference, engine-generated UUID
	SubjectID   string // subscription or application id the workflow gates
	Status      Status
	CallbackURL string
	TenantID    string
	Subscriber  string
	CreatedAt   time.Time

	// Denormalized descriptive fields for audit and notification use by
	// the engine.
	APIName         string
	APIContext      string
	APIVersion      string
	APIProvider     string
	Tier            string
	ApplicationName string

	// Registration-only parameters.
	KeyType        application.KeyType
	AllowedDomains []string
	ValiditySecs   int64
	TokenScope     string
}

// Executor submits requests for one workflow kind.
type Executor interface {
	// NewReference generates the external workflow reference for a request.
	NewReference() string
	// CallbackURL is where the engine reports asynchronous outcomes.
	CallbackURL() string
	// Execute submits the request. A synchronous engine may resolve the
	// outcome in place by mutating ledger state through its completer
	// before returning.
	Execute(ctx context.Context, req Request) error
}

// Engine selects the executor for a workflow kind.
type Engine interface {
	Executor(kind Kind) (Executor, error)
}
