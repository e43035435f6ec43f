package files

import (
	"context"

	"github.com/dmitrijs2005/filegate/internal/server/models"
)

// Repository stores file and folder rows. Paths are storage-relative with no
// leading "/"; folder rows end with "/".
type Repository interface {
	Create(ctx context.Context, file *models.File) error
	MarkUploaded(ctx context.Context, id string) error
	DeleteByID(ctx context.Context, id string) error
	GetByPath(ctx context.Context, storageID, path string) (*models.File, error)
	ListByPrefix(ctx context.Context, storageID, prefix string) ([]*models.File, error)
	HasPrefix(ctx context.Context, storageID, prefix string) (bool, error)
	Search(ctx context.Context, storageID, prefix, term string) ([]*models.File, error)
	DeleteByPath(ctx context.Context, storageID, path string) ([]string, error)
	DeleteByPrefix(ctx context.Context, storageID, prefix string) ([]string, error)
}
