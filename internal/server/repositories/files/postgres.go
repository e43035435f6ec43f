package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/dmitrijs2005/filegate/internal/common"
	"github.com/dmitrijs2005/filegate/internal/dbx"
	"github.com/dmitrijs2005/filegate/internal/server/models"
)

const fileColumns = `id, storage_id, path, size, checksum, storage_key, is_uploaded, created_at`

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts file and fills its ID and CreatedAt. A row with the same
// storage and path yields common.ErrorConflict.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (storage_id, path, size, checksum, storage_key, is_uploaded)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		file.StorageID, file.Path, file.Size, file.Checksum, file.StorageKey, file.IsUploaded).
		Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// MarkUploaded flags the row as backed by a stored blob. Exactly one row
// must be affected; a row deleted meanwhile yields common.ErrorNotFound.
func (r *PostgresRepository) MarkUploaded(ctx context.Context, id string) error {
	query := `UPDATE files SET is_uploaded=true WHERE id=$1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark uploaded: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	switch ra {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
}

// DeleteByID removes a single row regardless of its upload state.
func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) error {
	query := `DELETE FROM files WHERE id=$1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetByPath returns the row at path, or common.ErrorNotFound.
func (r *PostgresRepository) GetByPath(ctx context.Context, storageID, path string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE storage_id=$1 AND path=$2`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, storageID, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

// ListByPrefix returns uploaded rows whose path starts with prefix, ordered
// by path.
func (r *PostgresRepository) ListByPrefix(ctx context.Context, storageID, prefix string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE storage_id=$1 AND is_uploaded AND path LIKE $2 ESCAPE '\'
		ORDER BY path`

	return r.query(ctx, query, storageID, dbx.EscapeLike(prefix)+"%")
}

// HasPrefix reports whether any row, pending uploads included, lives under
// prefix.
func (r *PostgresRepository) HasPrefix(ctx context.Context, storageID, prefix string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM files WHERE storage_id=$1 AND path LIKE $2 ESCAPE '\')`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, storageID, dbx.EscapeLike(prefix)+"%").Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check prefix: %w", err)
	}
	return exists, nil
}

// Search returns uploaded rows under prefix whose remaining path contains
// term, ignoring case.
func (r *PostgresRepository) Search(ctx context.Context, storageID, prefix, term string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE storage_id=$1 AND is_uploaded AND path LIKE $2 ESCAPE '\'
			AND lower(substr(path, $3)) LIKE lower($4) ESCAPE '\'
		ORDER BY path`

	return r.query(ctx, query, storageID,
		dbx.EscapeLike(prefix)+"%",
		utf8.RuneCountInString(prefix)+1,
		"%"+dbx.EscapeLike(term)+"%")
}

// DeleteByPath removes the row at path and returns its blob key, if any.
func (r *PostgresRepository) DeleteByPath(ctx context.Context, storageID, path string) ([]string, error) {
	query := `DELETE FROM files WHERE storage_id=$1 AND path=$2 RETURNING storage_key`
	return r.keys(ctx, query, storageID, path)
}

// DeleteByPrefix removes every row under prefix and returns their blob keys.
func (r *PostgresRepository) DeleteByPrefix(ctx context.Context, storageID, prefix string) ([]string, error) {
	query := `DELETE FROM files WHERE storage_id=$1 AND path LIKE $2 ESCAPE '\' RETURNING storage_key`
	return r.keys(ctx, query, storageID, dbx.EscapeLike(prefix)+"%")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.File, error) {
	f := &models.File{}
	if err := row.Scan(&f.ID, &f.StorageID, &f.Path, &f.Size, &f.Checksum, &f.StorageKey, &f.IsUploaded, &f.CreatedAt); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) keys(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete files: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
