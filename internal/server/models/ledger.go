package models

import "time"

// LedgerRecordType distinguishes referral credit movements.
type LedgerRecordType string

const (
	LedgerDeposit  LedgerRecordType = "deposit"
	LedgerWithdraw LedgerRecordType = "withdraw"
)

// LedgerRecord is one referral credit movement, always tied to the order
// that caused it.
type LedgerRecord struct {
	ID             int64
	UserID         int64
	Type           LedgerRecordType
	AmountRials    int64
	RelatedOrderID int64
	CreatedAt      time.Time
}

// Ledger is a user's referral balance. Balance never goes negative: the sum
// of withdrawals never exceeds the sum of deposits.
type Ledger struct {
	UserID       int64
	BalanceRials int64
	Records      []LedgerRecord
}
