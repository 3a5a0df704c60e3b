package users

import (
	"context"

	"github.com/mamyekta/novabot/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	MarkTrialUsed(ctx context.Context, id int64) error
}
