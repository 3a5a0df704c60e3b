package engine

import (
	"context"
	"errors"
	"time"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/server/models"
	"github.com/mamyekta/novabot/internal/server/notify"
)

// ExpireDueOrders moves waiting orders past their payment deadline to
// expired, notifies the buyer and cleans up the pending payment messages.
// Returns the number of orders expired.
func (e *Engine) ExpireDueOrders(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo := e.repos.Orders(e.db)
	waiting, err := repo.ListByState(ctx, models.OrderWaiting)
	if err != nil {
		return 0, err
	}

	now := e.now()
	expired := 0
	for _, order := range waiting {
		if !order.PaymentDeadline.Before(now) {
			continue
		}

		msgRefs := order.PendingMsgRefs
		order.State = models.OrderExpired
		order.PendingMsgRefs = nil

		if err := e.persist(ctx, func(ctx context.Context) error {
			return repo.Update(ctx, order)
		}); err != nil {
			e.logger.Error(ctx, "expiring order failed", "order_id", order.ID, "error", err)
			continue
		}
		expired++

		if user, uerr := e.repos.Users(e.db).GetByID(ctx, order.UserID); uerr == nil {
			for _, ref := range msgRefs {
				if derr := e.notifier.DeleteMessage(ctx, user.ChatID, ref); derr != nil {
					e.logger.Debug(ctx, "stale message cleanup failed", "order_id", order.ID, "error", derr)
				}
			}
			if _, nerr := e.notifier.Notify(ctx, user.ChatID, notify.EventOrderExpired,
				notify.Payload{"order_id": order.ID}); nerr != nil {
				e.logger.Error(ctx, "expiry notification failed", "order_id", order.ID, "error", nerr)
			}
		}
	}

	if expired > 0 {
		e.logger.Info(ctx, "expired overdue orders", "count", expired)
	}
	return expired, nil
}

// PurgeExpiredBefore deletes expired orders whose deadline passed longer ago
// than the retention period. Expired orders are kept around for a while so a
// late payer can be traced, then dropped.
func (e *Engine) PurgeExpiredBefore(ctx context.Context, retention time.Duration) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo := e.repos.Orders(e.db)
	expired, err := repo.ListByState(ctx, models.OrderExpired)
	if err != nil {
		return 0, err
	}

	cutoff := e.now().Add(-retention)
	purged := 0
	for _, order := range expired {
		if !order.PaymentDeadline.Before(cutoff) {
			continue
		}
		if err := repo.Delete(ctx, order.ID); err != nil {
			e.logger.Error(ctx, "purging expired order failed", "order_id", order.ID, "error", err)
			continue
		}
		purged++
	}

	if purged > 0 {
		e.logger.Info(ctx, "purged stale expired orders", "count", purged)
	}
	return purged, nil
}

// WarnNearDepletion sends one-shot warnings for verified orders that are
// close to running out: remaining traffic under trafficThreshold bytes, or
// expiry within expiryWindow. Each condition warns at most once per order.
func (e *Engine) WarnNearDepletion(ctx context.Context, trafficThreshold int64, expiryWindow time.Duration) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo := e.repos.Orders(e.db)
	verified, err := repo.ListByState(ctx, models.OrderVerified)
	if err != nil {
		return 0, err
	}
	if len(verified) == 0 {
		return 0, nil
	}

	usages, err := e.panel.QueryUsage(ctx, "%")
	if err != nil {
		return 0, err
	}
	byEmail := make(map[string]*models.CredentialUsage, len(usages))
	for i := range usages {
		byEmail[usages[i].Email] = &usages[i]
	}

	now := e.now()
	warned := 0
	for _, order := range verified {
		usage := byEmail[order.ClientEmail()]

		warnTraffic := false
		if !order.WarnedTraffic && usage != nil && usage.TotalBytes > 0 &&
			usage.RemainingBytes() < trafficThreshold {
			warnTraffic = true
		}
		warnExpiry := false
		if !order.WarnedExpiry && order.ExpireAt != nil &&
			order.ExpireAt.After(now) && order.ExpireAt.Sub(now) < expiryWindow {
			warnExpiry = true
		}
		if !warnTraffic && !warnExpiry {
			continue
		}

		user, uerr := e.repos.Users(e.db).GetByID(ctx, order.UserID)
		if uerr != nil {
			continue
		}

		if warnTraffic {
			if _, nerr := e.notifier.Notify(ctx, user.ChatID, notify.EventTrafficWarning, notify.Payload{
				"order_id":     order.ID,
				"remaining_gb": trafficThreshold / (1 << 30),
			}); nerr == nil {
				order.WarnedTraffic = true
				warned++
			}
		}
		if warnExpiry {
			if _, nerr := e.notifier.Notify(ctx, user.ChatID, notify.EventExpiryWarning,
				notify.Payload{"order_id": order.ID}); nerr == nil {
				order.WarnedExpiry = true
				warned++
			}
		}

		if err := e.persist(ctx, func(ctx context.Context) error {
			return repo.Update(ctx, order)
		}); err != nil {
			e.logger.Error(ctx, "persisting warning markers failed", "order_id", order.ID, "error", err)
		}
	}

	return warned, nil
}

// PruneOrphanVerified deletes verified orders whose credential no longer
// exists on the panel, e.g. after a manual cleanup there. It only ever prunes
// the local side; it never provisions to "fix" drift in the other direction,
// because a missing credential may be deliberate.
//
// Orders that expired less than grace ago are left alone so a slow panel
// purge does not race a renewal in flight.
func (e *Engine) PruneOrphanVerified(ctx context.Context, grace time.Duration) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo := e.repos.Orders(e.db)
	verified, err := repo.ListByState(ctx, models.OrderVerified)
	if err != nil {
		return 0, err
	}

	now := e.now()
	pruned := 0
	for _, order := range verified {
		if order.ExpireAt != nil && now.Sub(*order.ExpireAt) < grace {
			continue
		}
		_, uerr := e.panel.GetUsage(ctx, order.ClientEmail())
		if uerr == nil {
			continue
		}
		if !errors.Is(uerr, common.ErrNotFound) {
			// Panel trouble is not evidence of drift.
			return pruned, uerr
		}

		if err := repo.Delete(ctx, order.ID); err != nil {
			e.logger.Error(ctx, "pruning orphan order failed", "order_id", order.ID, "error", err)
			continue
		}
		e.logger.Info(ctx, "pruned orphan verified order", "order_id", order.ID)
		pruned++
	}
	return pruned, nil
}
