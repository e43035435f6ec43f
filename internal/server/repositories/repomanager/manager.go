package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/filegate/internal/dbx"
	"github.com/dmitrijs2005/filegate/internal/server/repositories/files"
	"github.com/dmitrijs2005/filegate/internal/server/repositories/storages"
)

// RepositoryManager vends repositories bound to a DBTX so the same code can
// run against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Storages(db dbx.DBTX) storages.Repository
	Files(db dbx.DBTX) files.Repository
}
