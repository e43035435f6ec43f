package storages

import (
	"context"

	"github.com/dmitrijs2005/filegate/internal/server/models"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (*models.Storage, error)
}
