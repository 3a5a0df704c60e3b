// Package httpapi exposes the webhook and operator endpoints: the bank
// notification callback, the crypto processor IPN, and a small JWT-guarded
// admin surface for manual interventions.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/logging"
	"github.com/mamyekta/novabot/internal/server/auth"
	"github.com/mamyekta/novabot/internal/server/models"
	"github.com/mamyekta/novabot/internal/server/payments"
)

// Settler is the slice of the order engine the HTTP surface drives.
type Settler interface {
	MatchPaymentSignal(ctx context.Context, signal models.PaymentSignal) (*models.Order, error)
	SettleOrder(ctx context.Context, orderID int64, signal models.PaymentSignal) error
	RetrySettle(ctx context.Context, orderID int64) error
}

// Config carries the HTTP server settings.
type Config struct {
	Addr              string
	WebhookSecret     string
	AdminPasswordHash string
	JWTSecret         string
	TokenValidity     time.Duration
}

type Server struct {
	cfg        Config
	engine     Settler
	bankParser *payments.BankParser
	logger     logging.Logger
	now        func() time.Time
	srv        *http.Server
}

func NewServer(cfg Config, engine Settler, bankParser *payments.BankParser,
	logger logging.Logger, now func() time.Time) *Server {
	if now == nil {
		now = time.Now
	}
	s := &Server{
		cfg:        cfg,
		engine:     engine,
		bankParser: bankParser,
		logger:     logger.With("module", "httpapi"),
		now:        now,
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /payment-callback", s.handleBankCallback)
	mux.HandleFunc("POST /crypto-ipn", s.handleCryptoIPN)
	mux.HandleFunc("POST /admin/login", s.handleAdminLogin)
	mux.HandleFunc("POST /admin/orders/{id}/retry", s.withAuth(s.handleRetry))
	return mux
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok")
}

// secretMatches compares the shared webhook secret in constant time.
func (s *Server) secretMatches(r *http.Request) bool {
	got := r.URL.Query().Get("secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) == 1
}

// handleBankCallback receives the forwarded bank notification. The body is
// the hex-encoded UTF-16 message content; the caller authenticates with a
// shared secret in the query string.
func (s *Server) handleBankCallback(w http.ResponseWriter, r *http.Request) {
	if !s.secretMatches(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	signal, err := s.bankParser.Parse(string(body), s.now())
	if err != nil {
		if errors.Is(err, common.ErrNoMatch) {
			// not a deposit notification; acknowledged and dropped
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	order, err := s.engine.MatchPaymentSignal(r.Context(), *signal)
	switch {
	case errors.Is(err, common.ErrNoMatch):
		http.Error(w, "no matching order", http.StatusNotFound)
	case errors.Is(err, common.ErrAmbiguousMatch):
		http.Error(w, "ambiguous match", http.StatusConflict)
	case err != nil:
		s.logger.Error(r.Context(), "bank callback settle failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{"order_id": order.ID})
	}
}

// handleCryptoIPN receives the payment processor's status callback. When the
// IPN names the order it settles directly; otherwise it falls back to amount
// matching.
func (s *Server) handleCryptoIPN(w http.ResponseWriter, r *http.Request) {
	if !s.secretMatches(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	signal, orderID, err := parseIPNWithOrder(body, s.now())
	if err != nil {
		if errors.Is(err, common.ErrNoMatch) {
			// non-final status update; acknowledged
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if orderID != 0 {
		err = s.engine.SettleOrder(r.Context(), orderID, *signal)
	} else {
		_, err = s.engine.MatchPaymentSignal(r.Context(), *signal)
	}
	switch {
	case errors.Is(err, common.ErrNoMatch), errors.Is(err, common.ErrNotFound):
		http.Error(w, "no matching order", http.StatusNotFound)
	case err != nil:
		s.logger.Error(r.Context(), "ipn settle failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func parseIPNWithOrder(body []byte, observedAt time.Time) (*models.PaymentSignal, int64, error) {
	signal, err := payments.ParseIPN(body, observedAt)
	if err != nil {
		return nil, 0, err
	}
	var envelope struct {
		OrderID string `json:"order_id"`
	}
	_ = json.Unmarshal(body, &envelope)
	orderID, _ := strconv.ParseInt(envelope.OrderID, 10, 64)
	return signal, orderID, nil
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := auth.CheckPassword(s.cfg.AdminPasswordHash, req.Password); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken("operator", []byte(s.cfg.JWTSecret), s.cfg.TokenValidity)
	if err != nil {
		s.logger.Error(r.Context(), "token generation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := auth.SubjectFromToken(header[len(prefix):], []byte(s.cfg.JWTSecret)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// handleRetry re-runs settlement for a stuck order, typically after a
// renewal failure once the panel is back.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad order id", http.StatusBadRequest)
		return
	}

	err = s.engine.RetrySettle(r.Context(), orderID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case err != nil:
		s.logger.Error(r.Context(), "retry settle failed", "order_id", orderID, "error", err)
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(context.Background(), "response encoding failed", "error", err)
	}
}
