package models

import "time"

// CredentialSpec describes the panel client to provision for an order.
type CredentialSpec struct {
	// ID is the client UUID. Renewals reuse the parent's UUID so deployed
	// client configs keep working; fresh orders generate a new one.
	ID string

	// Email identifies the client in the panel's traffic table.
	Email string

	// SubID is the subscription identifier the user's sub link points at.
	SubID string

	TrafficBytes int64
	ExpiryTime   time.Time
	LimitIP      int
}

// CredentialRef is the panel's record of a provisioned client.
type CredentialRef struct {
	ID        int64
	UUID      string
	Email     string
	SubID     string
	InboundID int
}

// CredentialUsage is one row of the panel's live traffic table. It may be
// stale by up to the polling interval.
type CredentialUsage struct {
	Email      string
	UpBytes    int64
	DownBytes  int64
	TotalBytes int64 // cap; 0 = unlimited
	Enabled    bool
	ExpiryTime time.Time
}

// RemainingBytes reports how much of the cap is left, never negative.
func (u CredentialUsage) RemainingBytes() int64 {
	rest := u.TotalBytes - u.UpBytes - u.DownBytes
	if rest < 0 {
		return 0
	}
	return rest
}
