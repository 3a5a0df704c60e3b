package models

import "time"

// SignalSource identifies which adapter observed a payment.
type SignalSource string

const (
	SignalOperator   SignalSource = "operator"
	SignalBank       SignalSource = "bank_webhook"
	SignalCrypto     SignalSource = "crypto_ipn"
	SignalBlockchain SignalSource = "blockchain"
)

// PaymentSignal is a normalized observation of funds received, from any
// payment channel. The engine never sees raw channel payloads.
type PaymentSignal struct {
	AmountRials  int64
	ObservedAt   time.Time
	Source       SignalSource
	RawReference string
}
