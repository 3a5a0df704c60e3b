// Package payments normalizes raw payment channels (operator commands, bank
// webhooks, crypto processors) into typed PaymentSignal values. The engine
// never parses raw text; everything string-shaped stays in here.
package payments

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mamyekta/novabot/internal/server/models"
)

// operatorConfirmRe matches the operator's manual confirmation command, e.g.
// "ok 1,234,560" or "ok 550000".
var operatorConfirmRe = regexp.MustCompile(`^ok\s+(\d{1,3}(?:,\d{3})*|\d+)$`)

// ParseOperatorConfirm extracts a payment signal from an operator free-text
// confirmation. Returns false when the text is not a confirmation command.
func ParseOperatorConfirm(text string, observedAt time.Time) (*models.PaymentSignal, bool) {
	m := operatorConfirmRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil, false
	}

	amount, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil || amount <= 0 {
		return nil, false
	}

	return &models.PaymentSignal{
		AmountRials:  amount,
		ObservedAt:   observedAt,
		Source:       models.SignalOperator,
		RawReference: text,
	}, true
}
