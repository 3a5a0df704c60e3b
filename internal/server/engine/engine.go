// Package engine implements the order lifecycle state machine: order
// creation, payment-signal matching, settlement with credential provisioning,
// and the referral ledger. It is the single writer for orders and ledgers;
// every mutation, whether triggered by a chat command, a webhook or a
// scheduler tick, is serialized through the engine's critical section.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/dbx"
	"github.com/mamyekta/novabot/internal/logging"
	"github.com/mamyekta/novabot/internal/server/models"
	"github.com/mamyekta/novabot/internal/server/notify"
	"github.com/mamyekta/novabot/internal/server/provisioner"
	"github.com/mamyekta/novabot/internal/server/repositories/repomanager"
)

// Config carries the engine's tunables. One engine instance serves one
// deployment; everything that used to differ between bot variants lives
// here.
type Config struct {
	Catalog           []models.Plan
	PaymentWindow     time.Duration
	MinPaymentRials   int64
	ReferralPercent   int64
	TrialTrafficBytes int64
	TrialPeriod       time.Duration
	OperatorChatID    int64
}

// amountAttempts bounds the unique-amount re-roll loop in CreateOrder.
const amountAttempts = 20

// Engine owns all order and ledger mutations.
type Engine struct {
	db       *sql.DB // nil in memory mode
	repos    repomanager.RepositoryManager
	panel    provisioner.Client
	notifier notify.Notifier
	cfg      Config
	logger   logging.Logger
	now      func() time.Time

	// mu serializes every read-modify-write across orders and ledgers.
	// External calls (panel provisioning) intentionally happen inside the
	// critical section: settlement must not interleave with other writers.
	mu sync.Mutex
}

func New(db *sql.DB, repos repomanager.RepositoryManager, panel provisioner.Client,
	notifier notify.Notifier, cfg Config, logger logging.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		db:       db,
		repos:    repos,
		panel:    panel,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("module", "engine"),
		now:      now,
	}
}

// inTx runs fn inside a store transaction when a real database is attached;
// in memory mode the repositories are their own synchronization domain.
func (e *Engine) inTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	if e.db == nil {
		return fn(ctx, nil)
	}
	return dbx.WithTx(ctx, e.db, nil, fn)
}

// persist retries a store write with backoff. The engine must not report
// success to the user before the write is durable.
func (e *Engine) persist(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// PlanByID resolves a catalog entry.
func (e *Engine) PlanByID(planID int64) (*models.Plan, error) {
	for _, p := range e.cfg.Catalog {
		if p.ID == planID {
			plan := p
			return &plan, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown plan %d", common.ErrValidation, planID)
}

// Catalog returns the active plans, for display.
func (e *Engine) Catalog() []models.Plan {
	var active []models.Plan
	for _, p := range e.cfg.Catalog {
		if p.Active {
			active = append(active, p)
		}
	}
	return active
}

// RegisterUser records a first contact. Registering an existing user is a
// no-op returning the stored record; the referrer of record never changes.
func (e *Engine) RegisterUser(ctx context.Context, user *models.User) (*models.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo := e.repos.Users(e.db)
	existing, err := repo.GetByID(ctx, user.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	// self-referrals are dropped silently
	if user.ReferrerID != nil && *user.ReferrerID == user.ID {
		user.ReferrerID = nil
	}
	// a referrer must exist to count
	if user.ReferrerID != nil {
		if _, err := repo.GetByID(ctx, *user.ReferrerID); err != nil {
			user.ReferrerID = nil
		}
	}

	created, err := repo.Create(ctx, user)
	if err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "user registered", "user_id", created.ID, "referrer", created.ReferrerID)
	return created, nil
}

// CreateOrder allocates a waiting order for a plan purchase or renewal.
//
// The payable amount starts from the plan price in rials minus a small random
// offset, then available referral credit is applied — but never below the
// configured payment floor, since a near-zero transfer cannot be matched by
// the bank channel. The final amount must be unique across waiting orders;
// the offset is re-rolled until it is.
func (e *Engine) CreateOrder(ctx context.Context, userID, planID int64, parentOrderID *int64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	usersRepo := e.repos.Users(e.db)
	ordersRepo := e.repos.Orders(e.db)
	ledgerRepo := e.repos.Ledger(e.db)

	if _, err := usersRepo.GetByID(ctx, userID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user %d", common.ErrValidation, userID)
		}
		return nil, err
	}

	plan, err := e.PlanByID(planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, fmt.Errorf("%w: plan %d is not active", common.ErrValidation, planID)
	}

	if parentOrderID != nil {
		parent, err := ordersRepo.GetByID(ctx, *parentOrderID)
		if err != nil {
			return nil, fmt.Errorf("%w: parent order %d not found", common.ErrValidation, *parentOrderID)
		}
		if parent.State != models.OrderVerified {
			return nil, fmt.Errorf("%w: parent order %d is not verified", common.ErrValidation, *parentOrderID)
		}
		if parent.UserID != userID {
			return nil, fmt.Errorf("%w: parent order %d belongs to another user", common.ErrValidation, *parentOrderID)
		}
	}

	balance, err := ledgerRepo.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	priceRials := plan.PriceToman * 10000

	var amount, applied int64
	found := false
	for i := 0; i < amountAttempts; i++ {
		offset := common.RandAmountOffset()
		base := priceRials - offset

		// The discount must not consume the offset: a fully discounted
		// amount lands on floor+offset, so waiting amounts stay unique
		// even when credit covers the whole price.
		applied = 0
		if balance > 0 {
			maxApplied := base - (e.cfg.MinPaymentRials + offset)
			if maxApplied > 0 {
				applied = maxApplied
				if applied > balance {
					applied = balance
				}
			}
		}
		amount = base - applied

		n, err := ordersRepo.CountWaitingByAmount(ctx, amount)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: could not allocate a unique amount", common.ErrInternal)
	}

	now := e.now()
	order := &models.Order{
		UserID:          userID,
		State:           models.OrderWaiting,
		Plan:            *plan,
		AmountRials:     amount,
		ReferralApplied: applied,
		ParentOrderID:   parentOrderID,
		CreatedAt:       now,
		PaymentDeadline: now.Add(e.cfg.PaymentWindow),
	}

	// 9-digit random id; regenerate on the (rare) collision
	if err := e.persist(ctx, func(ctx context.Context) error {
		for i := 0; i < 5; i++ {
			order.ID = common.RandOrderID()
			if _, err := ordersRepo.GetByID(ctx, order.ID); err == nil {
				continue
			}
			_, err := ordersRepo.Create(ctx, order)
			if errors.Is(err, common.ErrDuplicateOrderID) {
				continue
			}
			return err
		}
		return common.ErrDuplicateOrderID
	}); err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "order created",
		"order_id", order.ID, "user_id", userID, "plan_id", planID,
		"amount", order.AmountRials, "referral_applied", applied, "renewal", parentOrderID != nil)

	return order, nil
}

// TrackMessage appends an ephemeral chat message reference to an order so it
// can be cleaned up when the order resolves.
func (e *Engine) TrackMessage(ctx context.Context, orderID int64, msgRef int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo := e.repos.Orders(e.db)
	order, err := repo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	order.PendingMsgRefs = append(order.PendingMsgRefs, msgRef)
	return repo.Update(ctx, order)
}

// MatchPaymentSignal finds the waiting order whose amount equals the observed
// amount and settles it. Zero matches is reported as ErrNoMatch; more than
// one is an ErrAmbiguousMatch that alerts the operator and transitions
// nothing — the engine never guesses with money involved.
func (e *Engine) MatchPaymentSignal(ctx context.Context, signal models.PaymentSignal) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ordersRepo := e.repos.Orders(e.db)
	waiting, err := ordersRepo.ListByState(ctx, models.OrderWaiting)
	if err != nil {
		return nil, err
	}

	var matched []*models.Order
	for _, o := range waiting {
		if o.AmountRials == signal.AmountRials {
			matched = append(matched, o)
		}
	}

	switch len(matched) {
	case 0:
		e.logger.Warn(ctx, "payment signal matched no order",
			"amount", signal.AmountRials, "source", signal.Source)
		return nil, common.ErrNoMatch
	case 1:
		order := matched[0]
		if err := e.settleLocked(ctx, order, signal); err != nil {
			return nil, err
		}
		return order, nil
	default:
		e.alertOperator(ctx, fmt.Sprintf(
			"payment signal %d (%s) matches %d waiting orders — manual resolution required",
			signal.AmountRials, signal.Source, len(matched)))
		return nil, common.ErrAmbiguousMatch
	}
}

// RetrySettle re-runs settlement for a still-waiting order, e.g. after a
// provisioning failure. The signal is synthesized from the order itself.
func (e *Engine) RetrySettle(ctx context.Context, orderID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.repos.Orders(e.db).GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	return e.settleLocked(ctx, order, models.PaymentSignal{
		AmountRials: order.AmountRials,
		ObservedAt:  e.now(),
		Source:      models.SignalOperator,
	})
}

func (e *Engine) alertOperator(ctx context.Context, message string) {
	if e.cfg.OperatorChatID == 0 {
		return
	}
	if _, err := e.notifier.Notify(ctx, e.cfg.OperatorChatID, notify.EventOperatorAlert,
		notify.Payload{"message": message}); err != nil {
		e.logger.Error(ctx, "operator alert failed", "error", err)
	}
}
