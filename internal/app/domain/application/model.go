package application

import (
	"errors"
	"math"
	"time"
)

// Application status values.
const (
	StatusCreated  = "CREATED"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// KeyType selects the environment a key is issued for.
type KeyType string

const (
	KeyTypeProduction KeyType = "PRODUCTION"
	KeyTypeSandbox    KeyType = "SANDBOX"
)

// NeverExpires is the internal sentinel for a validity period that never
// runs out. It must survive storage round-trips; the public representation
// renders it as -1 rather than a finite number.
const NeverExpires int64 = math.MaxInt64

var (
	// ErrDuplicate signals an application name already used by the owner.
	ErrDuplicate = errors.New("application name already exists")
	// ErrNotFound signals a missing application row.
	ErrNotFound = errors.New("application not found")
	// ErrNotApproved signals a key operation against an application that
	// has not passed the creation workflow yet.
	ErrNotApproved = errors.New("application not approved")
	// ErrInactive signals an update against an application still in
	// CREATED state.
	ErrInactive = errors.New("application is inactive")
)

// Application is a named credential container owned by a subscriber.
type Application struct {
	ID          string
	Name        string
	Owner       string
	Tier        string
	CallbackURL string
	Description string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key is a provisioned consumer key for one environment of an application.
type Key struct {
	ApplicationID  string
	Type           KeyType
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	ValiditySecs   int64
	TokenScope     string
	CreatedAt      time.Time
}

// Registration records the key-issuance workflow state for one
// (application, key type) pair, including the parameters the workflow
// captured at submission time.
type Registration struct {
	ApplicationID  string
	Type           KeyType
	Status         string
	CallbackURL    string
	AllowedDomains []string
	ValiditySecs   int64
	TokenScope     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Registration approval states.
const (
	RegistrationCreated  = "CREATED"
	RegistrationApproved = "APPROVED"
	RegistrationRejected = "REJECTED"
)

// KeyMaterial is the result of a key-management call.
type KeyMaterial struct {
	AccessToken    string
	ConsumerKey    string
	ConsumerSecret string
	ValiditySecs   int64
	TokenScope     string
}

// PublicValidity converts an internal validity into its public
// representation, mapping the never-expires sentinel to -1.
func PublicValidity(secs int64) int64 {
	if secs == NeverExpires {
		return -1
	}
	return secs
}

// ParseKeyType normalises a key type string.
func ParseKeyType(s string) (KeyType, error) {
	switch KeyType(s) {
	case KeyTypeProduction:
		return KeyTypeProduction, nil
	case KeyTypeSandbox:
		return KeyTypeSandbox, nil
	}
	return "", errors.New("unknown key type: " + s)
}
