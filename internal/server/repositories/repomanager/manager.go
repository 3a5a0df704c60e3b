package repomanager

import (
	"context"
	"database/sql"

	"github.com/mamyekta/novabot/internal/dbx"
	"github.com/mamyekta/novabot/internal/server/repositories/ledger"
	"github.com/mamyekta/novabot/internal/server/repositories/orders"
	"github.com/mamyekta/novabot/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Orders(db dbx.DBTX) orders.Repository
	Ledger(db dbx.DBTX) ledger.Repository
}
