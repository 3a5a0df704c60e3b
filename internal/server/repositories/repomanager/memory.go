package repomanager

import (
	"context"
	"database/sql"

	"github.com/mamyekta/novabot/internal/dbx"
	"github.com/mamyekta/novabot/internal/server/repositories/ledger"
	"github.com/mamyekta/novabot/internal/server/repositories/orders"
	"github.com/mamyekta/novabot/internal/server/repositories/users"
)

// MemoryRepositoryManager vends shared in-memory repositories. The DBTX
// argument is ignored; in-memory repositories carry their own state and
// synchronization.
type MemoryRepositoryManager struct {
	users  *users.MemoryRepository
	orders *orders.MemoryRepository
	ledger *ledger.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		users:  users.NewMemoryRepository(),
		orders: orders.NewMemoryRepository(),
		ledger: ledger.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}

func (m *MemoryRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return m.users
}

func (m *MemoryRepositoryManager) Orders(db dbx.DBTX) orders.Repository {
	return m.orders
}

func (m *MemoryRepositoryManager) Ledger(db dbx.DBTX) ledger.Repository {
	return m.ledger
}
