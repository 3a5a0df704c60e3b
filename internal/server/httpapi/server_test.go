package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/logging"
	"github.com/mamyekta/novabot/internal/server/auth"
	"github.com/mamyekta/novabot/internal/server/models"
	"github.com/mamyekta/novabot/internal/server/payments"
)

type fakeSettler struct {
	matched    []models.PaymentSignal
	settled    []int64
	retried    []int64
	matchErr   error
	settleErr  error
	retryErr   error
	matchOrder *models.Order
}

func (f *fakeSettler) MatchPaymentSignal(ctx context.Context, signal models.PaymentSignal) (*models.Order, error) {
	f.matched = append(f.matched, signal)
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	return f.matchOrder, nil
}

func (f *fakeSettler) SettleOrder(ctx context.Context, orderID int64, signal models.PaymentSignal) error {
	f.settled = append(f.settled, orderID)
	return f.settleErr
}

func (f *fakeSettler) RetrySettle(ctx context.Context, orderID int64) error {
	f.retried = append(f.retried, orderID)
	return f.retryErr
}

func encodeUTF16Hex(text string) string {
	var b strings.Builder
	for _, r := range text {
		fmt.Fprintf(&b, "%04x", r)
	}
	return b.String()
}

func newTestServer(t *testing.T, settler *fakeSettler) *Server {
	t.Helper()
	parser, err := payments.NewBankParser(`واریز\s+([\d,]+)`)
	require.NoError(t, err)

	hash, err := auth.HashPassword("op-password")
	require.NoError(t, err)

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewServer(Config{
		Addr:              ":0",
		WebhookSecret:     "hook-secret",
		AdminPasswordHash: hash,
		JWTSecret:         "jwt-secret",
		TokenValidity:     time.Hour,
	}, settler, parser, logger, nil)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeSettler{})
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBankCallback(t *testing.T) {
	body := encodeUTF16Hex("واریز 889,999,123 حساب")

	t.Run("wrong secret", func(t *testing.T) {
		settler := &fakeSettler{}
		ts := httptest.NewServer(newTestServer(t, settler).routes())
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/payment-callback?secret=wrong", "text/plain", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Empty(t, settler.matched)
	})

	t.Run("match settles", func(t *testing.T) {
		settler := &fakeSettler{matchOrder: &models.Order{ID: 123456789}}
		ts := httptest.NewServer(newTestServer(t, settler).routes())
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/payment-callback?secret=hook-secret", "text/plain", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		require.Len(t, settler.matched, 1)
		assert.Equal(t, int64(889999123), settler.matched[0].AmountRials)
		assert.Equal(t, models.SignalBank, settler.matched[0].Source)

		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, float64(123456789), out["order_id"])
	})

	t.Run("no matching order", func(t *testing.T) {
		settler := &fakeSettler{matchErr: common.ErrNoMatch}
		ts := httptest.NewServer(newTestServer(t, settler).routes())
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/payment-callback?secret=hook-secret", "text/plain", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("ambiguous match", func(t *testing.T) {
		settler := &fakeSettler{matchErr: common.ErrAmbiguousMatch}
		ts := httptest.NewServer(newTestServer(t, settler).routes())
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/payment-callback?secret=hook-secret", "text/plain", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("non-deposit notification acknowledged", func(t *testing.T) {
		settler := &fakeSettler{}
		ts := httptest.NewServer(newTestServer(t, settler).routes())
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/payment-callback?secret=hook-secret", "text/plain",
			strings.NewReader(encodeUTF16Hex("کد تایید: 1234")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, settler.matched)
	})

	t.Run("malformed body", func(t *testing.T) {
		settler := &fakeSettler{}
		ts := httptest.NewServer(newTestServer(t, settler).routes())
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/payment-callback?secret=hook-secret", "text/plain", strings.NewReader("zzz"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCryptoIPN(t *testing.T) {
	t.Run("finished payment with order id settles directly", func(t *testing.T) {
		settler := &fakeSettler{}
		ts := httptest.NewServer(newTestServer(t, settler).routes())
		defer ts.Close()

		body := `{"payment_id":"p1","order_id":"123456789","payment_status":"finished","price_amount":889999123}`
		resp, err := http.Post(ts.URL+"/crypto-ipn?secret=hook-secret", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []int64{123456789}, settler.settled)
		assert.Empty(t, settler.matched)
	})

	t.Run("intermediate status acknowledged", func(t *testing.T) {
		settler := &fakeSettler{}
		ts := httptest.NewServer(newTestServer(t, settler).routes())
		defer ts.Close()

		body := `{"payment_id":"p1","order_id":"123456789","payment_status":"waiting","price_amount":889999123}`
		resp, err := http.Post(ts.URL+"/crypto-ipn?secret=hook-secret", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, settler.settled)
	})

	t.Run("wrong secret", func(t *testing.T) {
		settler := &fakeSettler{}
		ts := httptest.NewServer(newTestServer(t, settler).routes())
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/crypto-ipn?secret=nope", "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestAdminFlow(t *testing.T) {
	settler := &fakeSettler{}
	ts := httptest.NewServer(newTestServer(t, settler).routes())
	defer ts.Close()

	t.Run("wrong password", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/admin/login", "application/json",
			strings.NewReader(`{"password":"wrong"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	var token string
	t.Run("login issues token", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/admin/login", "application/json",
			strings.NewReader(`{"password":"op-password"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		token = out["token"]
		require.NotEmpty(t, token)
	})

	t.Run("retry without token rejected", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/orders/123456789/retry", nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, settler.retried)
	})

	t.Run("retry with token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/orders/123456789/retry", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []int64{123456789}, settler.retried)
	})

	t.Run("retry unknown order", func(t *testing.T) {
		settler.retryErr = common.ErrNotFound
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/orders/999999999/retry", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
