package models

import (
	"strconv"
	"time"
)

// OrderState is the persisted lifecycle bucket of an order.
type OrderState string

const (
	OrderWaiting  OrderState = "waiting"
	OrderVerified OrderState = "verified"
	OrderExpired  OrderState = "expired"
)

// Order tracks a purchase or renewal intent. While waiting, its AmountRials
// is unique across all waiting orders so inbound payments can be matched by
// amount alone.
type Order struct {
	ID     int64
	UserID int64
	State  OrderState

	// Plan snapshot, copied at creation time. The catalog may change later;
	// the order keeps the terms it was sold under.
	Plan Plan

	// AmountRials is the exact payable amount: plan price in rials minus a
	// small random offset, minus any referral credit applied.
	AmountRials int64

	// ReferralApplied is the referral credit consumed toward this order.
	ReferralApplied int64

	// ParentOrderID marks a renewal of an existing verified order.
	ParentOrderID *int64

	// CredentialID is the UUID of the provisioned panel client, set when the
	// order is verified.
	CredentialID string

	CreatedAt       time.Time
	PaymentDeadline time.Time
	PaidAt          *time.Time
	ExpireAt        *time.Time

	// RenewalFailedAt is stamped when a renewal deleted the parent credential
	// but failed to create its replacement. Operator intervention required.
	RenewalFailedAt *time.Time

	// One-shot warning markers for the reconciliation sweeps.
	WarnedTraffic bool
	WarnedExpiry  bool

	// PendingMsgRefs are chat message ids to clean up when the order
	// resolves. Ephemeral; losing them is harmless.
	PendingMsgRefs []int
}

// SubID is the subscription identifier the panel knows this order by.
func (o *Order) SubID() string {
	return strconv.FormatInt(o.ID, 10)
}

// ClientEmail is the per-credential identity used on the panel, in the
// "<user>-<order>" form the traffic table is queried by.
func (o *Order) ClientEmail() string {
	return strconv.FormatInt(o.UserID, 10) + "-" + strconv.FormatInt(o.ID, 10)
}
