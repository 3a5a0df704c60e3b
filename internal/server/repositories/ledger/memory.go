package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/server/models"
)

// MemoryRepository is an in-memory Repository used by tests and dev mode.
type MemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64][]models.LedgerRecord
	balance map[int64]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[int64][]models.LedgerRecord),
		balance: make(map[int64]int64),
	}
}

func (r *MemoryRepository) Get(ctx context.Context, userID int64) (*models.Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &models.Ledger{
		UserID:       userID,
		BalanceRials: r.balance[userID],
		Records:      append([]models.LedgerRecord(nil), r.records[userID]...),
	}, nil
}

func (r *MemoryRepository) Balance(ctx context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance[userID], nil
}

func (r *MemoryRepository) Append(ctx context.Context, rec *models.LedgerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delta := rec.AmountRials
	if rec.Type == models.LedgerWithdraw {
		if rec.AmountRials > r.balance[rec.UserID] {
			return common.ErrInsufficientBalance
		}
		delta = -rec.AmountRials
	}

	r.nextID++
	rec.ID = r.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	r.balance[rec.UserID] += delta
	r.records[rec.UserID] = append(r.records[rec.UserID], *rec)
	return nil
}
