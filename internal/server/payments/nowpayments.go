package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/server/models"
)

// NowPaymentsClient talks to a NowPayments-style crypto payment processor:
// it opens fixed-rate payments and polls their status. The processor reports
// back asynchronously through an IPN callback handled by ParseIPN.
type NowPaymentsClient struct {
	baseURL     string
	apiKey      string
	callbackURL string
	http        *http.Client
}

func NewNowPaymentsClient(baseURL, apiKey, callbackURL string) *NowPaymentsClient {
	return &NowPaymentsClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		callbackURL: callbackURL,
		http:        &http.Client{Timeout: 15 * time.Second},
	}
}

// Payment is the processor's record of one crypto payment.
type Payment struct {
	PaymentID   string  `json:"payment_id"`
	OrderID     string  `json:"order_id"`
	Status      string  `json:"payment_status"`
	PriceAmount float64 `json:"price_amount"`
	PayCurrency string  `json:"pay_currency"`
}

// CreatePayment opens a fixed-rate payment for an order.
func (c *NowPaymentsClient) CreatePayment(ctx context.Context, orderID string, amount float64, currency string) (*Payment, error) {
	reqBody, _ := json.Marshal(map[string]any{
		"order_id":         orderID,
		"price_amount":     amount,
		"price_currency":   currency,
		"pay_currency":     "trx",
		"ipn_callback_url": c.callbackURL,
		"is_fixed_rate":    true,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create payment: unexpected status %d", resp.StatusCode)
	}

	p := &Payment{}
	if err := json.NewDecoder(resp.Body).Decode(p); err != nil {
		return nil, fmt.Errorf("create payment: decode: %w", err)
	}
	return p, nil
}

// CheckPaymentStatus polls the processor for a payment's current state.
// Used to verify a user-submitted transaction id against the processor.
func (c *NowPaymentsClient) CheckPaymentStatus(ctx context.Context, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payment/"+paymentID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("check payment: unexpected status %d", resp.StatusCode)
	}

	p := &Payment{}
	if err := json.NewDecoder(resp.Body).Decode(p); err != nil {
		return nil, fmt.Errorf("check payment: decode: %w", err)
	}
	return p, nil
}

// ipnPayload is the callback body the processor posts on status changes.
type ipnPayload struct {
	PaymentID     string  `json:"payment_id"`
	OrderID       string  `json:"order_id"`
	PaymentStatus string  `json:"payment_status"`
	PriceAmount   float64 `json:"price_amount"`
}

// ParseIPN normalizes an IPN callback body into a payment signal. Only
// finished payments produce a signal; anything else returns ErrNoMatch.
// The price amount is expected in rials, as created by CreatePayment.
func ParseIPN(body []byte, observedAt time.Time) (*models.PaymentSignal, error) {
	var p ipnPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed ipn body", common.ErrValidation)
	}
	if p.PaymentStatus != "finished" {
		return nil, common.ErrNoMatch
	}
	amount := int64(p.PriceAmount)
	if amount <= 0 {
		return nil, common.ErrNoMatch
	}

	return &models.PaymentSignal{
		AmountRials:  amount,
		ObservedAt:   observedAt,
		Source:       models.SignalCrypto,
		RawReference: p.PaymentID,
	}, nil
}
