package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/dbx"
	"github.com/mamyekta/novabot/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const orderColumns = `id, user_id, state, plan, amount_rials, referral_applied, parent_order_id,
	credential_id, created_at, payment_deadline, paid_at, expire_at, renewal_failed_at,
	warned_traffic, warned_expiry, pending_msg_refs`

func (r *PostgresRepository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {

	plan, err := json.Marshal(order.Plan)
	if err != nil {
		return nil, fmt.Errorf("plan encode error: %w", err)
	}
	refs, err := json.Marshal(order.PendingMsgRefs)
	if err != nil {
		return nil, fmt.Errorf("msg refs encode error: %w", err)
	}

	query :=
		`INSERT INTO orders (id, user_id, state, plan, amount_rials, referral_applied, parent_order_id,
		        credential_id, payment_deadline, warned_traffic, warned_expiry, pending_msg_refs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at
		 `

	err = r.db.QueryRowContext(ctx, query,
		order.ID, order.UserID, order.State, plan, order.AmountRials, order.ReferralApplied,
		order.ParentOrderID, order.CredentialID, order.PaymentDeadline,
		order.WarnedTraffic, order.WarnedExpiry, refs).
		Scan(&order.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return order, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return order, nil
}

func (r *PostgresRepository) Update(ctx context.Context, order *models.Order) error {

	plan, err := json.Marshal(order.Plan)
	if err != nil {
		return fmt.Errorf("plan encode error: %w", err)
	}
	refs, err := json.Marshal(order.PendingMsgRefs)
	if err != nil {
		return fmt.Errorf("msg refs encode error: %w", err)
	}

	query :=
		`UPDATE orders SET state = $2, plan = $3, amount_rials = $4, referral_applied = $5,
		        parent_order_id = $6, credential_id = $7, payment_deadline = $8, paid_at = $9,
		        expire_at = $10, renewal_failed_at = $11, warned_traffic = $12, warned_expiry = $13,
		        pending_msg_refs = $14
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query,
		order.ID, order.State, plan, order.AmountRials, order.ReferralApplied,
		order.ParentOrderID, order.CredentialID, order.PaymentDeadline, order.PaidAt,
		order.ExpireAt, order.RenewalFailedAt, order.WarnedTraffic, order.WarnedExpiry, refs)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListByState(ctx context.Context, state models.OrderState) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE state = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64, state models.OrderState) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND state = $2 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, userID, state)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (r *PostgresRepository) CountWaitingByAmount(ctx context.Context, amountRials int64) (int, error) {
	query := `SELECT COUNT(*) FROM orders WHERE state = 'waiting' AND amount_rials = $1`

	var n int
	if err := r.db.QueryRowContext(ctx, query, amountRials).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var plan, refs []byte

	err := row.Scan(&order.ID, &order.UserID, &order.State, &plan, &order.AmountRials,
		&order.ReferralApplied, &order.ParentOrderID, &order.CredentialID, &order.CreatedAt,
		&order.PaymentDeadline, &order.PaidAt, &order.ExpireAt, &order.RenewalFailedAt,
		&order.WarnedTraffic, &order.WarnedExpiry, &refs)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(plan, &order.Plan); err != nil {
		return nil, fmt.Errorf("plan decode error: %w", err)
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &order.PendingMsgRefs); err != nil {
			return nil, fmt.Errorf("msg refs decode error: %w", err)
		}
	}
	return order, nil
}

func collectOrders(rows *sql.Rows) ([]*models.Order, error) {
	var result []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
