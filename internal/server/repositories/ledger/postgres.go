package ledger

import (
	"context"
	"database/sql"
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

func (r *PostgresRepository) Get(ctx context.Context, userID int64) (*models.Ledger, error) {
	l := &models.Ledger{UserID: userID}

	balance, err := r.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	l.BalanceRials = balance

	query :=
		`SELECT id, user_id, type, amount_rials, related_order_id, created_at
		 FROM ledger_records
		 WHERE user_id = $1
		 ORDER BY id
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := models.LedgerRecord{}
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.AmountRials, &rec.RelatedOrderID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		l.Records = append(l.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return l, nil
}

func (r *PostgresRepository) Balance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance_rials FROM ledger_balances WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return balance, nil
}

func (r *PostgresRepository) Append(ctx context.Context, rec *models.LedgerRecord) error {

	delta := rec.AmountRials
	if rec.Type == models.LedgerWithdraw {
		balance, err := r.Balance(ctx, rec.UserID)
		if err != nil {
			return err
		}
		if rec.AmountRials > balance {
			return common.ErrInsufficientBalance
		}
		delta = -rec.AmountRials
	}

	query :=
		`INSERT INTO ledger_balances (user_id, balance_rials)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance_rials = ledger_balances.balance_rials + $2
		 `
	if _, err := r.db.ExecContext(ctx, query, rec.UserID, delta); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	query =
		`INSERT INTO ledger_records (user_id, type, amount_rials, related_order_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at
		 `
	err := r.db.QueryRowContext(ctx, query, rec.UserID, rec.Type, rec.AmountRials, rec.RelatedOrderID).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
