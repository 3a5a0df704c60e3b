package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/server/models"
)

func TestParseOperatorConfirm(t *testing.T) {
	now := time.Now()

	tests := []struct {
		text string
		want int64
		ok   bool
	}{
		{"ok 1,234,560", 1234560, true},
		{"ok 550000", 550000, true},
		{"  ok 550,000  ", 550000, true},
		{"ok", 0, false},
		{"okay 100", 0, false},
		{"ok 12,34", 0, false},
		{"ok 0", 0, false},
	}

	for _, tc := range tests {
		sig, ok := ParseOperatorConfirm(tc.text, now)
		require.Equal(t, tc.ok, ok, "text: %q", tc.text)
		if ok {
			require.Equal(t, tc.want, sig.AmountRials)
			require.Equal(t, models.SignalOperator, sig.Source)
		}
	}
}

func encodeUTF16Hex(t *testing.T, s string) string {
	t.Helper()
	out := ""
	for _, r := range s {
		out += string([]byte{hexDigit(int(r) >> 12), hexDigit(int(r) >> 8 & 0xf), hexDigit(int(r) >> 4 & 0xf), hexDigit(int(r) & 0xf)})
	}
	return out
}

func hexDigit(n int) byte {
	const digits = "0123456789abcdef"
	return digits[n&0xf]
}

func TestBankParser_DepositMatched(t *testing.T) {
	p, err := NewBankParser(`واریز پول[^\d]*([\d,]+)`)
	require.NoError(t, err)

	content := encodeUTF16Hex(t, "بلو\nواریز پول\n عزیز، 1,549,384 ریال")
	sig, err := p.Parse(content, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1549384), sig.AmountRials)
	require.Equal(t, models.SignalBank, sig.Source)
}

func TestBankParser_NonDepositBody(t *testing.T) {
	p, err := NewBankParser(`واریز پول[^\d]*([\d,]+)`)
	require.NoError(t, err)

	content := encodeUTF16Hex(t, "برداشت از حساب 100,000")
	_, err = p.Parse(content, time.Now())
	require.ErrorIs(t, err, common.ErrNoMatch)
}

func TestBankParser_MalformedContent(t *testing.T) {
	p, err := NewBankParser(`([\d,]+)`)
	require.NoError(t, err)

	_, err = p.Parse("zzzz", time.Now())
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = p.Parse("123", time.Now())
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestBankParser_PatternValidation(t *testing.T) {
	_, err := NewBankParser(`no capture group`)
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = NewBankParser(`((a)(b))`)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestParseIPN(t *testing.T) {
	body := []byte(`{"payment_id":"p-1","order_id":"123456789","payment_status":"finished","price_amount":549123}`)
	sig, err := ParseIPN(body, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(549123), sig.AmountRials)
	require.Equal(t, models.SignalCrypto, sig.Source)
	require.Equal(t, "p-1", sig.RawReference)

	_, err = ParseIPN([]byte(`{"payment_status":"waiting","price_amount":100}`), time.Now())
	require.ErrorIs(t, err, common.ErrNoMatch)

	_, err = ParseIPN([]byte(`{broken`), time.Now())
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestNowPaymentsClient_CreateAndCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "key-1", r.Header.Get("x-api-key"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/payment":
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, true, req["is_fixed_rate"])
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(Payment{PaymentID: "p-9", OrderID: req["order_id"].(string), Status: "waiting"})
		case r.Method == http.MethodGet && r.URL.Path == "/payment/p-9":
			json.NewEncoder(w).Encode(Payment{PaymentID: "p-9", Status: "finished"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewNowPaymentsClient(srv.URL, "key-1", "https://bot.example.com/payment-callback")

	p, err := c.CreatePayment(context.Background(), "123456789", 549123, "irr")
	require.NoError(t, err)
	require.Equal(t, "p-9", p.PaymentID)

	p, err = c.CheckPaymentStatus(context.Background(), "p-9")
	require.NoError(t, err)
	require.Equal(t, "finished", p.Status)
}

func TestRatesClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"usd_buy_price": 600000.0,
			"assets": []map[string]any{
				{"usd_price": 1.0, "transfer_fee": 0.0},
				{"usd_price": 0.12, "transfer_fee": 1.1},
			},
		})
	}))
	defer srv.Close()

	c := NewRatesClient(srv.URL)
	rates, err := c.GetRates(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 72000.0, rates.TronPriceRials, 0.001)
	require.InDelta(t, 1.1, rates.TransferFee, 0.001)
}
