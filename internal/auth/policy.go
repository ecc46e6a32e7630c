package auth

import (
	"time"

	"github.com/marketplace-kit/session-service/internal/domain"
)

// Policy fixes the two timeout budgets for a role. Idle is the maximum
// gap between activity; Absolute caps total session lifetime regardless
// of activity.
type Policy struct {
	Idle     time.Duration
	Absolute time.Duration
}

// DefaultPolicy applies to unknown or empty roles. Deliberately
// conservative: a mistyped role must not inherit an admin-grade or an
// overly generous window.
var DefaultPolicy = Policy{Idle: 24 * time.Hour, Absolute: 30 * 24 * time.Hour}

var rolePolicies = map[domain.Role]Policy{
	domain.RoleSuperAdmin:    {Idle: 15 * time.Minute, Absolute: 8 * time.Hour},
	domain.RoleAdmin:         {Idle: 30 * time.Minute, Absolute: 12 * time.Hour},
	domain.RoleSupplier:      {Idle: 24 * time.Hour, Absolute: 7 * 24 * time.Hour},
	domain.RoleSupplierRider: {Idle: 12 * time.Hour, Absolute: 3 * 24 * time.Hour},
	domain.RoleShopper:       {Idle: 7 * 24 * time.Hour, Absolute: 30 * 24 * time.Hour},
}

// PolicyFor resolves the timeout policy for a role. Lookup is
// case-insensitive and always succeeds; anything outside the known set
// gets DefaultPolicy.
func PolicyFor(role domain.Role) Policy {
	if p, ok := rolePolicies[domain.NormalizeRole(string(role))]; ok {
		return p
	}
	return DefaultPolicy
}
