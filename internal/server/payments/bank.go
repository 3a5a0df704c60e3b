package payments

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/server/models"
)

// BankParser extracts deposit amounts from forwarded bank notification
// bodies. The notification arrives as hex-encoded UTF-16 code units (the
// SMS gateway's encoding); the deposit line itself is bank-specific, so the
// matching pattern is configuration.
type BankParser struct {
	depositRe *regexp.Regexp
}

// NewBankParser compiles the bank-specific deposit pattern. The pattern must
// contain exactly one capturing group holding the amount digits (commas
// allowed).
func NewBankParser(depositPattern string) (*BankParser, error) {
	re, err := regexp.Compile(depositPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad deposit pattern: %v", common.ErrValidation, err)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("%w: deposit pattern needs exactly one capture group", common.ErrValidation)
	}
	return &BankParser{depositRe: re}, nil
}

// Parse decodes the notification content and extracts the deposit amount.
// Returns ErrNoMatch when the body is not a deposit notification.
func (p *BankParser) Parse(content string, observedAt time.Time) (*models.PaymentSignal, error) {
	text, err := decodeUTF16Hex(content)
	if err != nil {
		return nil, err
	}

	m := p.depositRe.FindStringSubmatch(text)
	if m == nil {
		return nil, common.ErrNoMatch
	}

	amount, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil || amount <= 0 {
		return nil, common.ErrNoMatch
	}

	return &models.PaymentSignal{
		AmountRials:  amount,
		ObservedAt:   observedAt,
		Source:       models.SignalBank,
		RawReference: text,
	}, nil
}

// decodeUTF16Hex turns a string of concatenated 4-hex-digit UTF-16 code
// units ("0628064406480a...") back into text.
func decodeUTF16Hex(content string) (string, error) {
	if len(content)%4 != 0 {
		return "", fmt.Errorf("%w: malformed notification content", common.ErrValidation)
	}
	var b strings.Builder
	for i := 0; i < len(content); i += 4 {
		code, err := strconv.ParseUint(content[i:i+4], 16, 32)
		if err != nil {
			return "", fmt.Errorf("%w: malformed notification content", common.ErrValidation)
		}
		b.WriteRune(rune(code))
	}
	return b.String(), nil
}
