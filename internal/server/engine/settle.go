package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/dbx"
	"github.com/mamyekta/novabot/internal/server/models"
	"github.com/mamyekta/novabot/internal/server/notify"
)

// SettleOrder matches the public entry point for settlement; the heavy
// lifting happens under the engine lock in settleLocked.
func (e *Engine) SettleOrder(ctx context.Context, orderID int64, signal models.PaymentSignal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.repos.Orders(e.db).GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	return e.settleLocked(ctx, order, signal)
}

// settleLocked provisions the credential for a matched order and moves it to
// verified. Caller holds e.mu.
//
// Ordering: the external side effect (panel create) happens first, then the
// local commit. The create is preceded by an existence check, so a crash
// between panel success and local commit is recovered by re-running the same
// settle without double-provisioning.
func (e *Engine) settleLocked(ctx context.Context, order *models.Order, signal models.PaymentSignal) error {

	// Idempotency guard: a signal for an already-verified order must not
	// provision or credit anything twice.
	if order.State == models.OrderVerified {
		e.logger.Info(ctx, "settle skipped, order already verified", "order_id", order.ID)
		return nil
	}
	if order.State != models.OrderWaiting {
		return fmt.Errorf("%w: order %d is %s", common.ErrOrderNotWaiting, order.ID, order.State)
	}

	var credentialID string
	var err error
	if order.ParentOrderID != nil {
		credentialID, err = e.replaceParentCredential(ctx, order)
	} else {
		credentialID, err = e.provisionFresh(ctx, order)
	}
	if err != nil {
		return err
	}

	now := e.now()
	order.State = models.OrderVerified
	order.CredentialID = credentialID
	order.PaidAt = &now
	expireAt := now.Add(time.Duration(order.Plan.PeriodDays) * 24 * time.Hour)
	order.ExpireAt = &expireAt
	order.RenewalFailedAt = nil

	msgRefs := order.PendingMsgRefs
	order.PendingMsgRefs = nil

	if err := e.persist(ctx, func(ctx context.Context) error {
		return e.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			if err := e.repos.Orders(tx).Update(ctx, order); err != nil {
				return err
			}
			return e.applyLedgerEffects(ctx, tx, order)
		})
	}); err != nil {
		// The credential exists but the local record does not reflect it;
		// the next retry finds it via the existence check.
		e.logger.Error(ctx, "settle commit failed after provisioning",
			"order_id", order.ID, "error", err)
		return err
	}

	e.logger.Info(ctx, "order verified",
		"order_id", order.ID, "user_id", order.UserID,
		"amount", order.AmountRials, "source", signal.Source)

	e.notifyVerified(ctx, order, msgRefs)
	return nil
}

// replaceParentCredential handles the renewal path. The panel cannot mutate
// a client in place, so renewal is delete + recreate under the parent's
// identity. If the create fails after the delete succeeded, the user holds
// no credential at all: the order is stamped renewal-failed and an operator
// is alerted, never silently swallowed.
func (e *Engine) replaceParentCredential(ctx context.Context, order *models.Order) (string, error) {
	ordersRepo := e.repos.Orders(e.db)

	parent, err := ordersRepo.GetByID(ctx, *order.ParentOrderID)
	if err != nil {
		return "", fmt.Errorf("%w: parent order %d: %v", common.ErrValidation, *order.ParentOrderID, err)
	}

	credentialID := parent.CredentialID
	if credentialID == "" {
		credentialID = uuid.NewString()
	}

	if err := e.panel.DeleteCredential(ctx, credentialID); err != nil {
		e.alertOperator(ctx, fmt.Sprintf("renewal %d: deleting old credential failed: %v", order.ID, err))
		return "", err
	}

	now := e.now()
	spec := models.CredentialSpec{
		ID:           credentialID,
		Email:        parent.ClientEmail(),
		SubID:        parent.SubID(),
		TrafficBytes: order.Plan.TrafficBytes(),
		ExpiryTime:   now.Add(time.Duration(order.Plan.PeriodDays) * 24 * time.Hour),
		LimitIP:      order.Plan.LimitIP,
	}

	if _, err := e.panel.CreateCredential(ctx, spec); err != nil {
		// Destructive window: old credential is gone, new one missing.
		failedAt := e.now()
		order.RenewalFailedAt = &failedAt
		if uerr := ordersRepo.Update(ctx, order); uerr != nil {
			e.logger.Error(ctx, "failed to stamp renewal failure", "order_id", order.ID, "error", uerr)
		}
		if e.cfg.OperatorChatID != 0 {
			if _, nerr := e.notifier.Notify(ctx, e.cfg.OperatorChatID, notify.EventRenewalFailed,
				notify.Payload{"order_id": order.ID, "user_id": order.UserID}); nerr != nil {
				e.logger.Error(ctx, "renewal failure alert failed", "order_id", order.ID, "error", nerr)
			}
		}
		return "", fmt.Errorf("%w: order %d: %v", common.ErrRenewalFailed, order.ID, err)
	}

	return credentialID, nil
}

// freshCredentialID derives the client uuid from the order identity. Every
// settle attempt for one order reconstructs the same id.
func freshCredentialID(order *models.Order) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(order.ClientEmail())).String()
}

// provisionFresh creates a brand-new credential for a first purchase. The
// existence check makes a crash-retry safe: if a previous attempt already
// created the client on the panel but died before the local commit, the
// client is adopted under its deterministic id instead of duplicated.
func (e *Engine) provisionFresh(ctx context.Context, order *models.Order) (string, error) {
	credentialID := freshCredentialID(order)

	if usage, err := e.panel.GetUsage(ctx, order.ClientEmail()); err == nil && usage != nil && usage.Email == order.ClientEmail() {
		e.logger.Warn(ctx, "credential already provisioned, adopting", "order_id", order.ID)
		return credentialID, nil
	}

	now := e.now()
	spec := models.CredentialSpec{
		ID:           credentialID,
		Email:        order.ClientEmail(),
		SubID:        order.SubID(),
		TrafficBytes: order.Plan.TrafficBytes(),
		ExpiryTime:   now.Add(time.Duration(order.Plan.PeriodDays) * 24 * time.Hour),
		LimitIP:      order.Plan.LimitIP,
	}

	if _, err := e.panel.CreateCredential(ctx, spec); err != nil {
		e.alertOperator(ctx, fmt.Sprintf("provisioning order %d failed: %v", order.ID, err))
		return "", err
	}
	return credentialID, nil
}

// applyLedgerEffects debits the purchaser's consumed referral credit and
// credits the referrer their percentage. Runs inside the settle transaction.
func (e *Engine) applyLedgerEffects(ctx context.Context, tx dbx.DBTX, order *models.Order) error {
	ledgerRepo := e.repos.Ledger(tx)

	if order.ReferralApplied > 0 {
		if err := ledgerRepo.Append(ctx, &models.LedgerRecord{
			UserID:         order.UserID,
			Type:           models.LedgerWithdraw,
			AmountRials:    order.ReferralApplied,
			RelatedOrderID: order.ID,
		}); err != nil {
			return err
		}
	}

	// Referrer commission applies to fresh purchases only, not renewals.
	if order.ParentOrderID != nil || e.cfg.ReferralPercent <= 0 {
		return nil
	}

	user, err := e.repos.Users(tx).GetByID(ctx, order.UserID)
	if err != nil || user.ReferrerID == nil {
		return err
	}

	commission := order.Plan.PriceToman * 10000 * e.cfg.ReferralPercent / 100
	if commission <= 0 {
		return nil
	}
	return ledgerRepo.Append(ctx, &models.LedgerRecord{
		UserID:         *user.ReferrerID,
		Type:           models.LedgerDeposit,
		AmountRials:    commission,
		RelatedOrderID: order.ID,
	})
}

func (e *Engine) notifyVerified(ctx context.Context, order *models.Order, msgRefs []int) {
	user, err := e.repos.Users(e.db).GetByID(ctx, order.UserID)
	if err != nil {
		e.logger.Error(ctx, "verified order has no user", "order_id", order.ID, "error", err)
		return
	}

	for _, ref := range msgRefs {
		if err := e.notifier.DeleteMessage(ctx, user.ChatID, ref); err != nil {
			e.logger.Debug(ctx, "stale message cleanup failed", "order_id", order.ID, "error", err)
		}
	}

	if _, err := e.notifier.Notify(ctx, user.ChatID, notify.EventOrderVerified, notify.Payload{
		"order_id":    order.ID,
		"traffic_gb":  order.Plan.TrafficGB,
		"period_days": order.Plan.PeriodDays,
		"sub_link":    e.panel.SubLink(order.SubID()),
	}); err != nil {
		e.logger.Error(ctx, "verified notification failed", "order_id", order.ID, "error", err)
	}
}

// GrantTrial provisions the one free test credential a user may claim.
func (e *Engine) GrantTrial(ctx context.Context, userID int64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	usersRepo := e.repos.Users(e.db)
	user, err := usersRepo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.HasUsedTrial {
		return "", common.ErrTrialAlreadyUsed
	}

	subID := "test-" + strconv.FormatInt(userID, 10)
	spec := models.CredentialSpec{
		ID:           uuid.NewString(),
		Email:        strconv.FormatInt(userID, 10) + "-test",
		SubID:        subID,
		TrafficBytes: e.cfg.TrialTrafficBytes,
		ExpiryTime:   e.now().Add(e.cfg.TrialPeriod),
		LimitIP:      1,
	}
	if _, err := e.panel.CreateCredential(ctx, spec); err != nil {
		return "", err
	}

	if err := e.persist(ctx, func(ctx context.Context) error {
		return usersRepo.MarkTrialUsed(ctx, userID)
	}); err != nil {
		return "", err
	}

	e.logger.Info(ctx, "trial granted", "user_id", userID)
	return e.panel.SubLink(subID), nil
}

// ServiceStatus is a verified order joined with its live panel usage, for
// the "active services" listing.
type ServiceStatus struct {
	Order     *models.Order
	Usage     *models.CredentialUsage
	SubLink   string
	Remaining int64
}

// ActiveServices lists the user's verified orders with live usage. Panel
// staleness is tolerated: orders without a usage row are listed with a nil
// usage.
func (e *Engine) ActiveServices(ctx context.Context, userID int64) ([]ServiceStatus, error) {
	orders, err := e.repos.Orders(e.db).ListByUser(ctx, userID, models.OrderVerified)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	usages, err := e.panel.QueryUsage(ctx, strconv.FormatInt(userID, 10)+"-%")
	if err != nil && !errors.Is(err, common.ErrProvisionerUnavailable) {
		return nil, err
	}
	byEmail := make(map[string]*models.CredentialUsage, len(usages))
	for i := range usages {
		byEmail[usages[i].Email] = &usages[i]
	}

	result := make([]ServiceStatus, 0, len(orders))
	for _, o := range orders {
		s := ServiceStatus{Order: o, SubLink: e.panel.SubLink(o.SubID())}
		if u, ok := byEmail[o.ClientEmail()]; ok {
			s.Usage = u
			s.Remaining = u.RemainingBytes()
		}
		result = append(result, s)
	}
	return result, nil
}
