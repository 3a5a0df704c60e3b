// Package models holds the persistent entities of the bot: users, plans,
// orders, referral ledgers and the wire shapes exchanged with the panel.
package models

import "time"

// User is created on first contact and never deleted.
type User struct {
	ID           int64
	ChatID       int64
	DisplayName  string
	Handle       string
	HasUsedTrial bool
	ReferrerID   *int64
	CreatedAt    time.Time
}
