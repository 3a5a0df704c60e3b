package orders

import (
	"context"

	"github.com/mamyekta/novabot/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	Update(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id int64) error
	ListByState(ctx context.Context, state models.OrderState) ([]*models.Order, error)
	ListByUser(ctx context.Context, userID int64, state models.OrderState) ([]*models.Order, error)
	// CountWaitingByAmount supports the unique-amount invariant: the engine
	// re-rolls offsets until the amount is free, and the matcher treats a
	// count above one as an ambiguity.
	CountWaitingByAmount(ctx context.Context, amountRials int64) (int, error)
}
