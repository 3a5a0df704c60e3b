// Package provisioner defines the credential-provisioning contract the order
// engine depends on, plus the X-UI panel implementation. The engine treats a
// credential purely as a claim ticket: the panel owns the real object.
package provisioner

import (
	"context"

	"github.com/mamyekta/novabot/internal/server/models"
)

// Client provisions, deletes and reports on remote access credentials.
//
// Implementations map their failures onto common.ErrProvisionerUnavailable
// (transport/session trouble, retryable) and common.ErrProvisionerRejected
// (the panel refused the request, not retryable as-is).
type Client interface {
	// CreateCredential creates a panel client per spec on every configured
	// inbound.
	CreateCredential(ctx context.Context, spec models.CredentialSpec) (*models.CredentialRef, error)

	// DeleteCredential removes the client with the given UUID. Deleting an
	// already-gone client is reported as success.
	DeleteCredential(ctx context.Context, uuid string) error

	// GetUsage returns the live usage row for one client email.
	GetUsage(ctx context.Context, email string) (*models.CredentialUsage, error)

	// QueryUsage bulk-reads usage rows whose email matches the SQL LIKE
	// pattern. Results may be stale by the panel's own polling interval.
	QueryUsage(ctx context.Context, emailPattern string) ([]models.CredentialUsage, error)

	// PurgeDepleted asks the panel to drop clients it has already disabled.
	PurgeDepleted(ctx context.Context) error

	// RefreshSession re-authenticates proactively, before session expiry.
	RefreshSession(ctx context.Context) error

	// SubLink renders the subscription link for a subscription identifier.
	SubLink(subID string) string
}
