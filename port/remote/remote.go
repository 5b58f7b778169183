// Package remote defines the remote-store collaborator port of the session
// core. The core only consumes this interface; concrete transports live
// outside the module and are expected to wrap their failures with the error
// values defined here.
package remote

import (
	"context"

	"go.llib.dev/frameless/pkg/errorkit"

	"github.com/neighborline/core/domain/community"
)

const (
	// ErrNetwork marks a transient transport failure.
	// Reads through the cache retry these a limited number of times
	// before the failure surfaces to the caller.
	ErrNetwork errorkit.Error = "remote store network failure"
	// ErrAuth marks an authentication/authorisation failure.
	// It is never retried; the read site owns user notification.
	ErrAuth errorkit.Error = "remote store authentication failure"
)

// Store is the async interface of the remote data store.
// Request timeouts are the transport's responsibility, not this layer's.
type Store interface {
	// CheckElevatedAccess reports whether the user holds cross-tenant access.
	CheckElevatedAccess(ctx context.Context, userID community.UserID) (bool, error)
	// ListTenantsCreatedBy returns the tenants the user created.
	ListTenantsCreatedBy(ctx context.Context, userID community.UserID) ([]community.Tenant, error)
	// ListActiveMemberships returns the tenants where the user holds an active membership.
	ListActiveMemberships(ctx context.Context, userID community.UserID) ([]community.Tenant, error)
	// ListAllTenants returns every tenant on the platform.
	// Only meaningful for users with elevated access.
	ListAllTenants(ctx context.Context, userID community.UserID) ([]community.Tenant, error)
}
