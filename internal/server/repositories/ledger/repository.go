package ledger

import (
	"context"

	"github.com/mamyekta/novabot/internal/server/models"
)

type Repository interface {
	// Get returns the user's ledger; a user with no movements yet gets an
	// empty ledger, not an error.
	Get(ctx context.Context, userID int64) (*models.Ledger, error)

	// Balance is a cheap read of the current balance only.
	Balance(ctx context.Context, userID int64) (int64, error)

	// Append records one movement and adjusts the balance accordingly.
	// A withdrawal exceeding the balance fails with ErrInsufficientBalance
	// and leaves the ledger untouched.
	Append(ctx context.Context, rec *models.LedgerRecord) error
}
