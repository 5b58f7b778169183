// Package community contains the entity types of the neighborline platform
// that the session core operates on.
package community

import (
	"time"

	"go.llib.dev/frameless/pkg/enum"
)

type (
	// UserID identifies a platform user.
	UserID string
	// TenantID identifies a Tenant.
	TenantID string
)

// Tenant is the top level scope (a "neighborhood") under which all platform
// content is partitioned. Exactly one tenant is active per session.
type Tenant struct {
	ID        TenantID `ext:"id"`
	Name      string
	CreatedBy UserID
	CreatedAt time.Time
}

// MembershipStatus tells where a user stands with a given tenant.
// Only MembershipActive counts towards tenant resolution.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipPending MembershipStatus = "pending"
	MembershipLeft    MembershipStatus = "left"
)

var _ = enum.Register[MembershipStatus](
	MembershipActive,
	MembershipPending,
	MembershipLeft,
)

// Membership links a user to a tenant.
// Memberships are created and mutated by the remote store only,
// the session core never writes them.
type Membership struct {
	UserID   UserID
	TenantID TenantID
	Status   MembershipStatus `enum:"active;pending;left;"`
}
